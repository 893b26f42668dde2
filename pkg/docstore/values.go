package docstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// normalize round-trips v through encoding/json so every value the store
// handles has the same shape (map[string]any, []any, json.Number, string,
// bool, nil) regardless of how the caller decoded it. Numbers stay
// json.Number so integers beyond 2^53 keep every digit.
func normalize(v any) (any, []byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, nil, BadRequestf("content is not representable as JSON: %v", err)
	}
	out, err := decodeRaw(raw)
	if err != nil {
		return nil, nil, BadRequestf("content is not representable as JSON: %v", err)
	}
	return out, raw, nil
}

// decodeRaw decodes stored JSON with numbers as json.Number. Empty input
// decodes to nil.
func decodeRaw(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := DecodeJSON(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeJSON unmarshals a single JSON value into v, keeping numbers as
// json.Number.
func DecodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after top-level value")
	}
	return nil
}

// splitPath splits a slash-separated path. The empty path has no segments.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// listIndex parses seg as an index into a list of length n.
func listIndex(seg string, n int) (int, error) {
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 {
		return 0, BadRequestf("path segment %q is not a list index", seg)
	}
	if i >= n {
		return 0, BadRequestf("list index %d out of range (length %d)", i, n)
	}
	return i, nil
}

// child resolves one path segment below node.
func child(node any, seg string) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		next, ok := v[seg]
		if !ok {
			return nil, BadRequestf("key %q not found", seg)
		}
		return next, nil
	case []any:
		i, err := listIndex(seg, len(v))
		if err != nil {
			return nil, err
		}
		return v[i], nil
	default:
		return nil, BadRequestf("cannot descend into %s at segment %q", jsonTypeName(node), seg)
	}
}

// descend walks segments from root through object keys and list indices.
func descend(root any, segments []string) (any, error) {
	node := root
	for _, seg := range segments {
		next, err := child(node, seg)
		if err != nil {
			return nil, err
		}
		node = next
	}
	return node, nil
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "list"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	default:
		return "value"
	}
}
