package generation

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const recordSchemaURL = "schema://generated-question.json"

// recordSchema describes the field types a model record may carry. Presence
// is not required here; missing fields are back-filled or rejected later.
const recordSchema = `{
  "type": "object",
  "properties": {
    "domain_name":   {"type": ["string", "null"]},
    "topic_name":    {"type": ["string", "null"]},
    "title":         {"type": ["string", "null"]},
    "stem":          {"type": ["string", "null"]},
    "explanation":   {"type": ["string", "null"]},
    "correct_label": {"type": ["string", "null"]},
    "choices": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "choice_label": {"type": ["string", "null"]},
          "choice_text":  {"type": ["string", "null"]},
          "label":        {"type": ["string", "null"]},
          "text":         {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var (
	recordSchemaOnce     sync.Once
	recordSchemaCompiled *jsonschema.Schema
	recordSchemaErr      error
)

func compiledRecordSchema() (*jsonschema.Schema, error) {
	recordSchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(recordSchema), &doc); err != nil {
			recordSchemaErr = fmt.Errorf("parse record schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(recordSchemaURL, doc); err != nil {
			recordSchemaErr = fmt.Errorf("add record schema: %w", err)
			return
		}
		recordSchemaCompiled, recordSchemaErr = c.Compile(recordSchemaURL)
	})
	return recordSchemaCompiled, recordSchemaErr
}

// checkRecord returns a non-empty reason when raw does not match recordSchema.
func checkRecord(raw json.RawMessage) string {
	sch, err := compiledRecordSchema()
	if err != nil {
		return err.Error()
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "invalid json"
	}
	if err := sch.Validate(v); err != nil {
		return err.Error()
	}
	return ""
}
