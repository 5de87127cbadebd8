package settings

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed config.schema.json
var configSchemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("config.schema.json", bytes.NewReader(configSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("config.schema.json")
	})
	return schema, schemaErr
}

// Decode validates an externally submitted config document against the
// embedded schema and returns it normalized.
func Decode(raw []byte) (GlobalConfig, error) {
	s, err := compiledSchema()
	if err != nil {
		return GlobalConfig{}, fmt.Errorf("config schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return GlobalConfig{}, fmt.Errorf("config: invalid json: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return GlobalConfig{}, fmt.Errorf("config: %w", err)
	}
	var g GlobalConfig
	if err := json.Unmarshal(raw, &g); err != nil {
		return GlobalConfig{}, fmt.Errorf("config: %w", err)
	}
	g, _ = Normalize(g)
	return g, nil
}
