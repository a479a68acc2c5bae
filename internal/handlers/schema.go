package handlers

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const submitJobSchema = `{
  "type": "object",
  "required": ["channel", "category"],
  "properties": {
    "tenant_id":   {"type": "string"},
    "channel":     {"enum": ["email", "sms"]},
    "category":    {"enum": ["attendance", "fees", "exams", "general", "newsletter", "emergency", "events", "homework", "transport"]},
    "template_id": {"type": "integer", "minimum": 1},
    "subject":     {"type": "string", "maxLength": 998},
    "body":        {"type": "string", "minLength": 1},
    "variables":   {"type": "object", "additionalProperties": {"type": "string"}},
    "recipients": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["address"],
        "properties": {
          "address":   {"type": "string", "minLength": 1},
          "name":      {"type": "string"},
          "variables": {"type": "object", "additionalProperties": {"type": "string"}}
        }
      }
    },
    "audience": {
      "type": "object",
      "properties": {
        "role":       {"type": "string"},
        "class_ids":  {"type": "array", "items": {"type": "string"}},
        "student_id": {"type": "string"},
        "group":      {"type": "string"}
      }
    },
    "requested_by": {"type": "string"}
  },
  "oneOf": [
    {"required": ["template_id"], "not": {"required": ["body"]}},
    {"required": ["body"], "not": {"required": ["template_id"]}}
  ]
}`

const templateSchema = `{
  "type": "object",
  "required": ["name", "channel", "category", "body"],
  "properties": {
    "id":        {"type": "integer", "minimum": 0},
    "name":      {"type": "string", "minLength": 1, "maxLength": 128},
    "channel":   {"enum": ["email", "sms"]},
    "category":  {"enum": ["attendance", "fees", "exams", "general", "newsletter", "emergency", "events", "homework", "transport"]},
    "subject":   {"type": "string"},
    "body":      {"type": "string", "minLength": 1},
    "is_active": {"type": "boolean"}
  }
}`

const statusEventSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "record_id":           {"type": "integer", "minimum": 1},
    "provider_message_id": {"type": "string", "minLength": 1},
    "status":              {"enum": ["sent", "delivered", "opened", "failed", "bounced"]},
    "occurred_at":         {"type": "string", "format": "date-time"},
    "detail":              {"type": "string"}
  },
  "anyOf": [
    {"required": ["record_id"]},
    {"required": ["provider_message_id"]}
  ]
}`

const testSendSchema = `{
  "type": "object",
  "required": ["provider", "to"],
  "properties": {
    "provider": {
      "type": "object",
      "required": ["channel", "kind"],
      "properties": {
        "channel": {"enum": ["email", "sms"]},
        "kind":    {"type": "string", "minLength": 1}
      }
    },
    "to":      {"type": "string", "minLength": 1},
    "subject": {"type": "string"},
    "body":    {"type": "string"}
  }
}`

var (
	submitJobValidator   = mustSchema(submitJobSchema)
	templateValidator    = mustSchema(templateSchema)
	statusEventValidator = mustSchema(statusEventSchema)
	testSendValidator    = mustSchema(testSendSchema)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid request schema: %v", err))
	}
	return s
}

// validateBody checks the raw request body against schema and returns every
// violation in one message.
func validateBody(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
