package events

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Payload schemas require only the fields the handlers read and allow
// anything extra, so producers can evolve their payloads freely.
var schemaSources = map[Type]string{
	TypeAgentStart: `{
		"type": "object",
		"required": ["agent"],
		"properties": {
			"agent": {"type": "string", "minLength": 1},
			"message": {"type": "string"}
		}
	}`,
	TypeAgentOutput: `{
		"type": "object",
		"required": ["agent", "content"],
		"properties": {
			"agent": {"type": "string", "minLength": 1},
			"content": {"type": "string"}
		}
	}`,
	TypeAgentComplete: `{
		"type": "object",
		"required": ["agent"],
		"properties": {
			"agent": {"type": "string", "minLength": 1},
			"duration": {"type": "number"},
			"tokens": {"type": "integer"}
		}
	}`,
	TypeToolCall: `{
		"type": "object",
		"required": ["agent", "name"],
		"properties": {
			"agent": {"type": "string", "minLength": 1},
			"name": {"type": "string", "minLength": 1}
		}
	}`,
	TypeToolResult: `{
		"type": "object",
		"required": ["name"],
		"properties": {
			"name": {"type": "string", "minLength": 1}
		}
	}`,
	TypeMessage: `{
		"type": "object",
		"required": ["from", "to", "content"],
		"properties": {
			"from": {"type": "string"},
			"to": {"type": "string"},
			"content": {"type": "string"}
		}
	}`,
	TypeSynthesis: `{
		"type": "object",
		"properties": {
			"answer": {"type": "string"},
			"content": {"type": "string"},
			"sources": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	TypeComplete: `{
		"type": "object",
		"properties": {
			"answer": {"type": "string"},
			"content": {"type": "string"},
			"sources": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	TypeError: `{
		"type": "object",
		"required": ["agent"],
		"properties": {
			"agent": {"type": "string", "minLength": 1},
			"message": {"type": "string"}
		}
	}`,
}

// compileSchemas builds the validation schema for every known event type
func compileSchemas() (map[Type]*gojsonschema.Schema, error) {
	schemas := make(map[Type]*gojsonschema.Schema, len(schemaSources))
	for typ, src := range schemaSources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s: %w", typ, err)
		}
		schemas[typ] = schema
	}
	return schemas, nil
}
