package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/pinnacle/pkg/schema"
)

// Schema names a request body schema.
type Schema string

const (
	SchemaSaveFlow    Schema = "save_flow"
	SchemaExecuteFlow Schema = "execute_flow"
	SchemaFlowdir     Schema = "flowdir"
	SchemaAuditCreate Schema = "audit_create"
	SchemaAuditUpdate Schema = "audit_update"
)

const (
	schemaBaseURL        = "https://pinnacle.dev/schemas/"
	schemaDefinitionsURL = schemaBaseURL + "defs.json"
)

// definitionsJSON holds the shared definitions referenced by every request schema.
const definitionsJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://pinnacle.dev/schemas/defs.json",
  "$defs": {
    "name": {
      "type": "string",
      "pattern": "^[A-Za-z0-9_-]+$"
    },
    "node": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": { "type": "string" },
        "position": {
          "type": "object",
          "properties": {
            "x": { "type": "number" },
            "y": { "type": "number" }
          }
        },
        "data": {
          "type": "object",
          "properties": {
            "label": { "type": "string" },
            "status": { "enum": ["idle", "running", "success", "error", ""] },
            "parameterName": { "type": "string" },
            "value": { "type": "string" },
            "options": { "type": "array", "items": { "type": "string" } }
          }
        }
      }
    },
    "edge": {
      "type": "object",
      "required": ["id", "source", "target"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "animated": { "type": "boolean" }
      }
    },
    "graph": {
      "type": "object",
      "required": ["nodes", "edges"],
      "properties": {
        "nodes": { "type": "array", "items": { "$ref": "#/$defs/node" } },
        "edges": { "type": "array", "items": { "$ref": "#/$defs/edge" } },
        "workspaceSettings": { "type": ["object", "null"] }
      }
    },
    "flowdirParameters": {
      "type": "object",
      "required": ["projectName", "blockName", "toolName", "stage", "runName"],
      "properties": {
        "projectName": { "$ref": "#/$defs/name" },
        "blockName": { "$ref": "#/$defs/name" },
        "toolName": { "enum": ["cadence", "synopsys"] },
        "stage": { "enum": ["all", "Synthesis", "SYNTH", "PD", "LEC", "STA"] },
        "runName": { "$ref": "#/$defs/name" },
        "pdSteps": {
          "type": "string",
          "pattern": "^(all|(Floorplan|Place|CTS|Route)(, ?(Floorplan|Place|CTS|Route))*)?$"
        },
        "referenceRun": { "type": "string", "pattern": "^[A-Za-z0-9_-]*$" },
        "workingDirectory": { "type": "string" },
        "centralScripts": { "type": "string" },
        "mcpServerUrl": { "type": "string" }
      }
    }
  }
}`

var requestSchemas = map[Schema]string{
	SchemaSaveFlow: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "allOf": [{ "$ref": "defs.json#/$defs/graph" }],
  "required": ["name"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string", "minLength": 1, "maxLength": 200 },
    "viewport": {
      "type": "object",
      "properties": {
        "x": { "type": "number" },
        "y": { "type": "number" },
        "zoom": { "type": "number", "minimum": 0 }
      }
    },
    "isAutoSave": { "type": "boolean" }
  }
}`,
	SchemaExecuteFlow: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$ref": "defs.json#/$defs/graph"
}`,
	SchemaFlowdir: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$ref": "defs.json#/$defs/flowdirParameters"
}`,
	SchemaAuditCreate: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "allOf": [{ "$ref": "defs.json#/$defs/flowdirParameters" }],
  "properties": {
    "flowId": { "type": "string" }
  }
}`,
	SchemaAuditUpdate: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["success"],
  "properties": {
    "success": { "type": "boolean" },
    "errorMessage": { "type": "string" },
    "totalDirs": { "type": "integer", "minimum": 0 },
    "totalFiles": { "type": "integer", "minimum": 0 },
    "totalSymlinks": { "type": "integer", "minimum": 0 },
    "createdPaths": { "type": "array", "items": { "type": "string" } },
    "logs": { "type": "array", "items": { "type": "string" } },
    "executionTime": { "type": "integer", "minimum": 0 }
  }
}`,
}

// RequestValidator validates API request bodies with JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type RequestValidator struct {
	schemas map[Schema]*jsonschema.Schema
}

// NewRequestValidator compiles every request schema.
func NewRequestValidator() (*RequestValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	defs, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionsJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema definitions: %w", err)
	}
	if err := c.AddResource(schemaDefinitionsURL, defs); err != nil {
		return nil, fmt.Errorf("add schema definitions: %w", err)
	}

	for name, src := range requestSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", name, err)
		}
		if err := c.AddResource(schemaURL(name), doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", name, err)
		}
	}

	v := &RequestValidator{schemas: make(map[Schema]*jsonschema.Schema, len(requestSchemas))}
	for name := range requestSchemas {
		compiled, err := c.Compile(schemaURL(name))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		v.schemas[name] = compiled
	}
	return v, nil
}

func schemaURL(name Schema) string {
	return schemaBaseURL + string(name) + ".json"
}

// Validate checks a raw JSON body against the named schema.
func (v *RequestValidator) Validate(name Schema, body []byte) error {
	compiled, ok := v.schemas[name]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown request schema %q", name)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "request body is not valid JSON").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// ValidateValue checks a Go value against the named schema.
func (v *RequestValidator) ValidateValue(name Schema, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize request").WithCause(err)
	}
	return v.Validate(name, b)
}

// toFlowError converts a jsonschema.ValidationError into a FlowError whose
// details list every leaf violation with its instance location.
func toFlowError(err error) *schema.FlowError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
