package schemadoc

// DeepMerge composes override onto base and returns a new document; neither
// input is modified.
//
// Object-valued keys present on both sides merge recursively. "required"
// lists union: base entries first, then override entries not already
// present, duplicates dropped. Any other override value replaces the base
// value. An empty base yields a copy of override.
func DeepMerge(base, override Document) Document {
	if len(base) == 0 {
		return CloneDocument(override)
	}

	result := CloneDocument(base)
	for _, key := range sortedKeys(override) {
		value := override[key]

		if key == "required" {
			if list, ok := asList(value); ok {
				existing, _ := asList(result[key])
				result[key] = unionList(existing, list)
				continue
			}
		}

		overrideObj, overrideIsObj := value.(map[string]any)
		baseObj, baseIsObj := result[key].(map[string]any)
		if overrideIsObj && baseIsObj {
			result[key] = DeepMerge(baseObj, overrideObj)
			continue
		}

		result[key] = Clone(value)
	}
	return result
}

// ExcludeProperties removes every property named in preset's "properties"
// from schema, together with its "required" entry. A "properties" object or
// "required" list emptied by the removal is dropped entirely.
func ExcludeProperties(schema, preset Document) Document {
	result := CloneDocument(schema)

	names := Properties(preset)
	if len(names) == 0 {
		return result
	}

	if props, ok := result["properties"].(map[string]any); ok {
		removed := false
		for name := range names {
			if _, present := props[name]; present {
				delete(props, name)
				removed = true
			}
		}
		if removed && len(props) == 0 {
			delete(result, "properties")
		}
	}

	if required, ok := asList(result["required"]); ok {
		kept := make([]any, 0, len(required))
		for _, entry := range required {
			if s, isString := entry.(string); isString {
				if _, excluded := names[s]; excluded {
					continue
				}
			}
			kept = append(kept, entry)
		}
		switch {
		case len(kept) == len(required):
		case len(kept) == 0:
			delete(result, "required")
		default:
			result["required"] = kept
		}
	}

	return result
}

func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func unionList(base, extra []any) []any {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]any, 0, len(base)+len(extra))
	for _, list := range [][]any{base, extra} {
		for _, entry := range list {
			key := listKey(entry)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, Clone(entry))
		}
	}
	return out
}

func listKey(v any) string {
	if s, ok := v.(string); ok {
		return "s:" + s
	}
	b, err := Canonical(v)
	if err != nil {
		return "?"
	}
	return "j:" + string(b)
}
