package docstore

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	jsondiff "gomodules.xyz/jsonpatch/v2"
)

// Diff computes the RFC 6902 operations that turn oldRaw into newRaw and
// returns them as a JSON array. Identical documents produce "[]".
func Diff(oldRaw, newRaw []byte) ([]byte, error) {
	if len(oldRaw) == 0 {
		oldRaw = []byte("null")
	}
	ops, err := jsondiff.CreatePatch(oldRaw, newRaw)
	if err != nil {
		return nil, fmt.Errorf("diff document content: %w", err)
	}
	out := make([]map[string]any, 0, len(ops))
	for _, op := range ops {
		m := map[string]any{"op": op.Operation, "path": op.Path}
		if op.Operation == "add" || op.Operation == "replace" || op.Operation == "test" {
			m["value"] = op.Value
		}
		out = append(out, m)
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	return raw, nil
}

// ApplyPatch applies the RFC 6902 operations in ops to doc.
func ApplyPatch(doc, ops []byte) ([]byte, error) {
	patch, err := jsonpatch.DecodePatch(ops)
	if err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}
	out, err := patch.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}
	return out, nil
}
