package config

// MergeOverlay deep-merges overlay into base: for each key in overlay, if
// both sides hold a map, it recurses; otherwise the overlay value replaces
// the base value outright. base is mutated in place and returned (spec
// §4.1 step 2).
func MergeOverlay(base, overlay map[string]interface{}) map[string]interface{} {
	if base == nil {
		base = map[string]interface{}{}
	}
	for key, overlayValue := range overlay {
		baseValue, exists := base[key]
		if !exists {
			base[key] = overlayValue
			continue
		}
		baseMap, baseIsMap := baseValue.(map[string]interface{})
		overlayMap, overlayIsMap := overlayValue.(map[string]interface{})
		if baseIsMap && overlayIsMap {
			base[key] = MergeOverlay(baseMap, overlayMap)
		} else {
			base[key] = overlayValue
		}
	}
	return base
}
