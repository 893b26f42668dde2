package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"

	"gopkg.in/yaml.v3"

	"github.com/projectdocs/docstore/pkg/docstore"
)

const maxBodyBytes = 8 << 20

// readBody returns the request body as JSON. YAML bodies
// (application/yaml, application/x-yaml, text/yaml) are converted.
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, docstore.BadRequestf("read request body: %v", err)
	}
	if len(data) > maxBodyBytes {
		return nil, docstore.BadRequestf("request body exceeds %d bytes", maxBodyBytes)
	}
	if len(data) == 0 {
		return nil, docstore.BadRequestf("request body is empty")
	}

	if !isYAML(r.Header.Get("Content-Type")) {
		if !json.Valid(data) {
			return nil, docstore.BadRequestf("request body is not valid JSON")
		}
		return data, nil
	}

	var value any
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, docstore.BadRequestf("request body is not valid YAML: %v", err)
	}
	value, err = jsonCompatible(value)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(value)
	if err != nil {
		return nil, docstore.BadRequestf("request body is not representable as JSON: %v", err)
	}
	return out, nil
}

// decodeBody reads the body and decodes it into v.
func decodeBody(r *http.Request, v any) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if err := docstore.DecodeJSON(data, v); err != nil {
		return docstore.BadRequestf("invalid request body: %v", err)
	}
	return nil
}

func isYAML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return true
	}
	return false
}

// jsonCompatible rewrites YAML maps with non-string keys.
func jsonCompatible(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			c, err := jsonCompatible(child)
			if err != nil {
				return nil, err
			}
			t[k] = c
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			c, err := jsonCompatible(child)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = c
		}
		return out, nil
	case []any:
		for i, child := range t {
			c, err := jsonCompatible(child)
			if err != nil {
				return nil, err
			}
			t[i] = c
		}
		return t, nil
	default:
		return v, nil
	}
}
