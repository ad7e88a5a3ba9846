package importloop

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

func decodeJSON(text string, v any) error {
	return json.Unmarshal([]byte(text), v)
}

func decodeYAML(text string, v any) error {
	return yaml.Unmarshal([]byte(text), v)
}
