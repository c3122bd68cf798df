package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"

	"netsync/engine"
)

// Catalog 列出所有线上消息的 payload，用于生成 JSON Schema
type Catalog struct {
	Registered Registered      `json:"registered" jsonschema:"description=Sent once to a new connection after registration"`
	Snapshot   engine.Snapshot `json:"snapshot" jsonschema:"description=Authoritative world state for one server tick"`
	Input      engine.Input    `json:"input" jsonschema:"description=Client input; seq is monotonic per connection starting at 1"`
	Latency    LatencyProbe    `json:"latency" jsonschema:"description=Latency probe echoed by the server"`
	TickRate   TickRateChange  `json:"tickRate" jsonschema:"description=Operator request to change the server tick rate"`
}

var directionsType = reflect.TypeOf(engine.Directions(0))

// Schema 反射生成 JSON 格式下的消息 Schema
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t != directionsType {
				return nil
			}
			return &jsonschema.Schema{
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "string",
					Enum: []any{"up", "down", "left", "right"},
				},
			}
		},
	}
	schema := reflector.Reflect(new(Catalog))
	schema.Title = "netsync wire protocol"
	schema.Description = "Payload shapes carried in {type, payload} envelopes"
	return schema
}

// SchemaJSON 带缩进的 Schema 文本
func SchemaJSON() ([]byte, error) {
	data, err := json.MarshalIndent(Schema(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return append(data, '\n'), nil
}
