package docstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/projectdocs/docstore/pkg/cache"
)

// SchemaCompiler compiles document JSON schemas and validates content
// against them. Compiled schemas are cached by the digest of their raw
// bytes, so two documents sharing a schema share one compiled form.
type SchemaCompiler struct {
	cache *cache.LRUCache[*jsonschema.Schema]
}

// NewSchemaCompiler creates a SchemaCompiler. A nil cfg uses defaults.
func NewSchemaCompiler(cfg *cache.Config) *SchemaCompiler {
	if cfg == nil {
		cfg = cache.DefaultConfig()
	}
	return &SchemaCompiler{cache: cache.NewLRUCache[*jsonschema.Schema](cfg.MaxSize, cfg.TTL)}
}

// Compile returns the compiled schema for raw, failing with
// ValidationError when raw is not a valid JSON Schema.
func (c *SchemaCompiler) Compile(raw []byte) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(raw)
	key := hex.EncodeToString(sum[:])
	return c.cache.GetOrLoad(key, func() (*jsonschema.Schema, error) {
		compiler := jsonschema.NewCompiler()
		url := "mem:///" + key + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, Validationf("invalid jsonschema: %v", err)
		}
		sch, err := compiler.Compile(url)
		if err != nil {
			return nil, Validationf("invalid jsonschema: %v", err)
		}
		return sch, nil
	})
}

// CacheStats reports compiled-schema cache counters.
func (c *SchemaCompiler) CacheStats() cache.Stats {
	return c.cache.Stats()
}

// Validate checks a normalized value against the schema in raw.
func (c *SchemaCompiler) Validate(raw []byte, value any) error {
	sch, err := c.Compile(raw)
	if err != nil {
		return err
	}
	if err := sch.Validate(value); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return Validationf("content does not match schema: %s", verr.Error())
		}
		return Validationf("content does not match schema: %v", err)
	}
	return nil
}
