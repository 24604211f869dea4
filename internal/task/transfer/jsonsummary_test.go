package transfer

import (
	"encoding/json"
	"testing"
)

func TestDecodeLooseJSON(t *testing.T) {
	doc, err := decodeLooseJSON(`{"TotalTransfers": 5, "JobStatus": "Completed"}`)
	if err != nil {
		t.Fatalf("decodeLooseJSON() error = %v", err)
	}
	if doc["TotalTransfers"] != float64(5) {
		t.Errorf("TotalTransfers = %v", doc["TotalTransfers"])
	}
}

func TestDecodeLooseJSONRejectsMalformed(t *testing.T) {
	if _, err := decodeLooseJSON("not json"); err == nil {
		t.Error("expected error for malformed JSON, got nil")
	}
}

func TestFirstIntFieldTriesCasingVariantsInOrder(t *testing.T) {
	cases := []struct {
		name string
		doc  map[string]interface{}
		want int
	}{
		{"PascalCase", map[string]interface{}{"TotalTransfers": float64(10)}, 10},
		{"camelCase", map[string]interface{}{"totalTransfers": float64(11)}, 11},
		{"snake_case", map[string]interface{}{"total_transfers": float64(12)}, 12},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := firstIntField(tc.doc, "TotalTransfers", "totalTransfers", "total_transfers")
			if got == nil || *got != tc.want {
				t.Errorf("firstIntField() = %v, want %d", got, tc.want)
			}
		})
	}
}

func TestFirstIntFieldPrefersEarliestKeyWhenBothPresent(t *testing.T) {
	doc := map[string]interface{}{"TotalTransfers": float64(1), "totalTransfers": float64(2)}
	got := firstIntField(doc, "TotalTransfers", "totalTransfers")
	if got == nil || *got != 1 {
		t.Errorf("firstIntField() = %v, want 1 (first matching key wins)", got)
	}
}

func TestFirstIntFieldReturnsNilWhenAbsent(t *testing.T) {
	if got := firstIntField(map[string]interface{}{}, "TotalTransfers"); got != nil {
		t.Errorf("firstIntField() = %v, want nil", got)
	}
}

func TestFirstIntFieldHandlesJSONNumber(t *testing.T) {
	doc := map[string]interface{}{"TransfersFailed": json.Number("4")}
	got := firstIntField(doc, "TransfersFailed")
	if got == nil || *got != 4 {
		t.Errorf("firstIntField() = %v, want 4", got)
	}
}
