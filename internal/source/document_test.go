package source

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestDecodeAndRewriteDatesConvertsISOStrings(t *testing.T) {
	query := `{"created_at": "2026-07-31T12:00:00Z", "status": "active"}`
	filter, err := decodeAndRewriteDates(query)
	if err != nil {
		t.Fatalf("decodeAndRewriteDates() error = %v", err)
	}
	ts, ok := filter["created_at"].(time.Time)
	if !ok {
		t.Fatalf("created_at = %T, want time.Time", filter["created_at"])
	}
	if ts.Year() != 2026 || ts.Month() != time.July || ts.Day() != 31 {
		t.Errorf("created_at = %v, want 2026-07-31", ts)
	}
	if filter["status"] != "active" {
		t.Errorf("status = %v, want unchanged \"active\"", filter["status"])
	}
}

func TestDecodeAndRewriteDatesLeavesNonDateStringsAlone(t *testing.T) {
	filter, err := decodeAndRewriteDates(`{"name": "2026-07-31"}`)
	if err != nil {
		t.Fatalf("decodeAndRewriteDates() error = %v", err)
	}
	if filter["name"] != "2026-07-31" {
		t.Errorf("name = %v, want unchanged plain date string", filter["name"])
	}
}

func TestDecodeAndRewriteDatesRecursesIntoNestedStructures(t *testing.T) {
	query := `{"meta": {"tags": ["2026-07-31T00:00:00Z", "keep"]}}`
	filter, err := decodeAndRewriteDates(query)
	if err != nil {
		t.Fatalf("decodeAndRewriteDates() error = %v", err)
	}
	meta, ok := filter["meta"].(map[string]interface{})
	if !ok {
		t.Fatalf("meta = %T, want map[string]interface{}", filter["meta"])
	}
	tags, ok := meta["tags"].([]interface{})
	if !ok || len(tags) != 2 {
		t.Fatalf("tags = %v", meta["tags"])
	}
	if _, ok := tags[0].(time.Time); !ok {
		t.Errorf("tags[0] = %T, want time.Time", tags[0])
	}
	if tags[1] != "keep" {
		t.Errorf("tags[1] = %v, want unchanged \"keep\"", tags[1])
	}
}

func TestDecodeAndRewriteDatesRejectsMalformedJSON(t *testing.T) {
	if _, err := decodeAndRewriteDates("not json"); err == nil {
		t.Fatal("expected error for malformed query JSON, got nil")
	}
}

func TestUnionColumnsAggregatesAcrossDocuments(t *testing.T) {
	docs := []bson.M{
		{"a": 1, "b": 2},
		{"b": 3, "c": 4},
	}
	got := unionColumns(docs)
	want := map[string]bool{"a": true, "b": true, "c": true}
	if len(got) != len(want) {
		t.Fatalf("unionColumns() = %v, want 3 columns", got)
	}
	for _, col := range got {
		if !want[col] {
			t.Errorf("unexpected column %q", col)
		}
	}
}

func TestNormalizeDocumentValueObjectID(t *testing.T) {
	id := primitive.NewObjectID()
	got := normalizeDocumentValue(id)
	if got != id.Hex() {
		t.Errorf("normalizeDocumentValue(ObjectID) = %v, want %v", got, id.Hex())
	}
}

func TestNormalizeDocumentValueDateTime(t *testing.T) {
	dt := primitive.NewDateTimeFromTime(time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
	got, ok := normalizeDocumentValue(dt).(string)
	if !ok {
		t.Fatalf("normalizeDocumentValue(DateTime) = %T, want string", normalizeDocumentValue(dt))
	}
	if got != "2026-07-31T12:00:00Z" {
		t.Errorf("normalizeDocumentValue(DateTime) = %q, want 2026-07-31T12:00:00Z", got)
	}
}

func TestNormalizeDocumentValueBinaryReplacesInvalidUTF8(t *testing.T) {
	bin := primitive.Binary{Data: []byte{0xff, 0xfe, 'o', 'k'}}
	got, ok := normalizeDocumentValue(bin).(string)
	if !ok {
		t.Fatalf("normalizeDocumentValue(Binary) = %T, want string", normalizeDocumentValue(bin))
	}
	if got == string(bin.Data) {
		t.Error("expected invalid UTF-8 bytes to be replaced, got raw bytes back")
	}
}

func TestNormalizeDocumentValuePassesThroughPlainTypes(t *testing.T) {
	if got := normalizeDocumentValue("plain"); got != "plain" {
		t.Errorf("normalizeDocumentValue(string) = %v, want unchanged", got)
	}
	if got := normalizeDocumentValue(42); got != 42 {
		t.Errorf("normalizeDocumentValue(int) = %v, want unchanged", got)
	}
}
