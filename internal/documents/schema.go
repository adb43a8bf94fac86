package documents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// collectionSchema guards against adopting a blob that merely parses as JSON
// but is not a metadata document (a stray file with the same name, a partial
// write). Anything that fails it degrades to an empty collection.
const collectionSchema = `{
  "type": "object",
  "required": ["version", "documents"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "documents": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "fileRef": {"type": ["string", "null"]},
          "filename": {"type": ["string", "null"]},
          "hasFile": {"type": "boolean"},
          "userLabel": {"type": "string"},
          "title": {"type": "string"},
          "category": {"type": "string"},
          "date": {"type": "string"},
          "amount": {"type": ["string", "number"]},
          "notes": {"type": "string"},
          "reimbursed": {"type": "boolean"},
          "reimbursedDate": {"type": ["string", "null"]},
          "createdAt": {"type": "string"},
          "ocrConfidence": {"type": ["number", "null"]}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func collectionValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(collectionSchema))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("collection.json", doc); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile("collection.json")
	})
	return compiledSchema, schemaErr
}

// decodeCollection parses and validates raw metadata content. Any error is
// the caller's cue to fall back to an empty collection.
func decodeCollection(raw []byte) (Collection, error) {
	schema, err := collectionValidator()
	if err != nil {
		return Collection{}, fmt.Errorf("compile collection schema: %w", err)
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Collection{}, fmt.Errorf("parse metadata document: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return Collection{}, fmt.Errorf("validate metadata document: %w", err)
	}

	var col Collection
	if err := json.Unmarshal(raw, &col); err != nil {
		return Collection{}, fmt.Errorf("decode metadata document: %w", err)
	}
	if col.Documents == nil {
		col.Documents = []Document{}
	}
	return col, nil
}
