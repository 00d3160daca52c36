package config

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// yamlParser is a koanf.Parser over yaml.v3.
type yamlParser struct{}

func (yamlParser) Unmarshal(b []byte) (map[string]any, error) {
	out := map[string]any{}
	if err := yaml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (yamlParser) Marshal(m map[string]any) ([]byte, error) {
	return yaml.Marshal(m)
}

type jsonParser struct{}

func (jsonParser) Unmarshal(b []byte) (map[string]any, error) {
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (jsonParser) Marshal(m map[string]any) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
