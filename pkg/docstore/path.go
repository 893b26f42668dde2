package docstore

// applyAtPath writes value at segments inside root and returns the mutated
// root. root must be a freshly decoded value owned by the caller.
//
// At the final segment, an object key that holds a list gets value
// appended and any other existing key is replaced. A list index behaves
// the same way for the element it addresses. Missing keys and bad indices
// are rejected.
func applyAtPath(root any, segments []string, value any) (any, error) {
	if len(segments) == 0 {
		return nil, BadRequestf("a path inside the document is required")
	}
	value, _, err := normalize(value)
	if err != nil {
		return nil, err
	}

	parent, err := descend(root, segments[:len(segments)-1])
	if err != nil {
		return nil, err
	}
	seg := segments[len(segments)-1]

	switch p := parent.(type) {
	case map[string]any:
		current, ok := p[seg]
		if !ok {
			return nil, BadRequestf("key %q not found", seg)
		}
		p[seg] = appendOrReplace(current, value)
	case []any:
		i, err := listIndex(seg, len(p))
		if err != nil {
			return nil, err
		}
		p[i] = appendOrReplace(p[i], value)
	default:
		return nil, BadRequestf("cannot write into %s at segment %q", jsonTypeName(parent), seg)
	}
	return root, nil
}

func appendOrReplace(current, value any) any {
	if list, ok := current.([]any); ok {
		return append(list, value)
	}
	return value
}
