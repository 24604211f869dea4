package transfer

import "encoding/json"

// decodeLooseJSON decodes one MessageContent payload into a generic map.
func decodeLooseJSON(content string) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// firstIntField returns the first of keys present in doc, coerced from
// whatever numeric JSON type it decoded as (float64 or json.Number), or nil
// if none of keys are present.
func firstIntField(doc map[string]interface{}, keys ...string) *int {
	for _, key := range keys {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			n := int(v)
			return &n
		case json.Number:
			n64, err := v.Int64()
			if err == nil {
				n := int(n64)
				return &n
			}
		}
	}
	return nil
}
