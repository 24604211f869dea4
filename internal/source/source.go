// Package source implements the record source adapters: a common capability
// set — open from a ConnectionProfile, execute a query, yield batches up to
// batch_size preserving source order, expose column ordering, release
// resources on every exit path — over two concrete families: relational
// (database/sql + a driver per ConnectionKind) and document (MongoDB).
//
// The "open → stream → close on every path" shape generalizes an
// in-process bounded-channel batch puller to an actual external connection:
// a cursor pulls bounded batches off a driver the same way a channel
// consumer pulls bounded batches off a producer.
package source

import (
	"context"

	"github.com/mdp-platform/extraction-pipeline/pkg/types"
)

// Batch is one partition of records, in source order, alongside the
// column/field ordering used for writing.
type Batch struct {
	Columns []string
	Rows    [][]interface{}
}

// Cursor streams batches of at most the configured batch size. Next
// returns io.EOF-equivalent via (Batch{}, false, nil) once exhausted. Close
// must be safe to call multiple times and after a partial iteration.
type Cursor interface {
	Next(ctx context.Context) (Batch, bool, error)
	Close() error
}

// Adapter is implemented once per ConnectionKind.
type Adapter interface {
	// Open establishes a connection and prepares to run query, returning a
	// Cursor that yields batches of at most batchSize records.
	Open(ctx context.Context, profile types.ConnectionProfile, query string, batchSize int) (Cursor, error)
}

// For resolves the Adapter implementation for a ConnectionKind.
func For(kind types.ConnectionKind) (Adapter, error) {
	switch kind {
	case types.KindSQLServer, types.KindOracle, types.KindDB2, types.KindMariaDB:
		return NewRelationalAdapter(kind), nil
	case types.KindDocument:
		return NewDocumentAdapter(), nil
	default:
		return nil, errUnsupportedKind(kind)
	}
}

type unsupportedKindError struct {
	kind types.ConnectionKind
}

func (e unsupportedKindError) Error() string {
	return "source: unsupported connection kind: " + string(e.kind)
}

func errUnsupportedKind(kind types.ConnectionKind) error {
	return unsupportedKindError{kind: kind}
}
