package query

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Decode builds a Config from its map form, applying defaults for absent
// keys. Scalar strings given for fields, group_by and sort entries become
// single-element lists.
func Decode(raw map[string]any) (*Config, error) {
	cfg := New()
	if len(raw) == 0 {
		return cfg, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("query: build decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("query: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a JSON document into a Config.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("query: parse config: %w", err)
	}
	return Decode(raw)
}
