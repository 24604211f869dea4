package source

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	pipelineerrors "github.com/mdp-platform/extraction-pipeline/pkg/errors"
	"github.com/mdp-platform/extraction-pipeline/pkg/types"
)

// isoDateTime matches the date-looking string form the document adapter
// rewrites into a native datetime before executing the query (spec §4.3).
var isoDateTime = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?Z$`)

// documentAdapter executes a JSON filter document against MongoDB.
type documentAdapter struct{}

// NewDocumentAdapter returns the Adapter for the document ConnectionKind.
func NewDocumentAdapter() Adapter {
	return &documentAdapter{}
}

func (a *documentAdapter) Open(ctx context.Context, profile types.ConnectionProfile, query string, batchSize int) (Cursor, error) {
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d/%s",
		profile.Username, profile.Password, profile.Host, profile.Port, profile.Database)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, pipelineerrors.Driver("source", "connect", err.Error())
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, pipelineerrors.Driver("source", "ping", err.Error())
	}

	filter, err := decodeAndRewriteDates(query)
	if err != nil {
		client.Disconnect(ctx)
		return nil, pipelineerrors.Config("parse_document_query", err.Error())
	}

	collection := client.Database(profile.Database).Collection(profile.Extras["collection"])
	cursor, err := collection.Find(ctx, filter, options.Find().SetBatchSize(int32(batchSize)))
	if err != nil {
		client.Disconnect(ctx)
		return nil, pipelineerrors.Driver("source", "find", err.Error())
	}

	return &documentCursor{
		client:    client,
		cursor:    cursor,
		batchSize: batchSize,
	}, nil
}

// decodeAndRewriteDates parses the JSON query text and recursively rewrites
// any string value matching isoDateTime into a native time.Time (spec
// §4.3: "before execution, date-looking strings … are rewritten into
// native datetime values").
func decodeAndRewriteDates(query string) (bson.M, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(query), &doc); err != nil {
		return nil, err
	}
	return bson.M(rewriteDates(doc).(map[string]interface{})), nil
}

func rewriteDates(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		if isoDateTime.MatchString(v) {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return t
			}
		}
		return v
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, inner := range v {
			out[k] = rewriteDates(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, inner := range v {
			out[i] = rewriteDates(inner)
		}
		return out
	default:
		return v
	}
}

// documentCursor pulls batches from a mongo.Cursor and normalizes each
// document for writing: object-id and timestamp values become strings,
// binary values decode as UTF-8 with replacement, and the column set for
// the batch is the union of fields across its documents (spec §4.3).
type documentCursor struct {
	client    *mongo.Client
	cursor    *mongo.Cursor
	batchSize int
}

func (c *documentCursor) Next(ctx context.Context) (Batch, bool, error) {
	var docs []bson.M
	for len(docs) < c.batchSize {
		if !c.cursor.Next(ctx) {
			break
		}
		var doc bson.M
		if err := c.cursor.Decode(&doc); err != nil {
			return Batch{}, false, pipelineerrors.Driver("source", "decode", err.Error())
		}
		docs = append(docs, doc)
	}
	if err := c.cursor.Err(); err != nil {
		return Batch{}, false, pipelineerrors.Driver("source", "iterate", err.Error())
	}
	if len(docs) == 0 {
		return Batch{}, false, nil
	}

	columns := unionColumns(docs)
	rows := make([][]interface{}, len(docs))
	for i, doc := range docs {
		row := make([]interface{}, len(columns))
		for j, col := range columns {
			if v, ok := doc[col]; ok {
				row[j] = normalizeDocumentValue(v)
			}
		}
		rows[i] = row
	}
	return Batch{Columns: columns, Rows: rows}, true, nil
}

func unionColumns(docs []bson.M) []string {
	seen := map[string]bool{}
	var columns []string
	for _, doc := range docs {
		for k := range doc {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	return columns
}

func normalizeDocumentValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case primitive.Binary:
		return strings.ToValidUTF8(string(val.Data), "�")
	case primitive.M:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			out[k] = normalizeDocumentValue(inner)
		}
		return out
	case primitive.A:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = normalizeDocumentValue(inner)
		}
		return out
	default:
		return val
	}
}

func (c *documentCursor) Close() error {
	ctx := context.Background()
	if c.cursor != nil {
		c.cursor.Close(ctx)
	}
	if c.client != nil {
		return c.client.Disconnect(ctx)
	}
	return nil
}
