package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaSet validates item payloads against per-collection JSON Schemas. A
// collection with no schema file is unvalidated; validation is opt-in per
// collection, never a prerequisite for storage.
type SchemaSet struct {
	dir string

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewSchemaSet reads schemas from dir, one file per collection named
// <collection>.schema.json. An empty dir disables validation entirely.
func NewSchemaSet(dir string) *SchemaSet {
	return &SchemaSet{
		dir:      strings.TrimSpace(dir),
		compiled: map[string]*jsonschema.Schema{},
	}
}

// ValidationError carries the schema failure to the HTTP layer, which maps
// it to a 422-style payload.
type ValidationError struct {
	Collection string
	Detail     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("payload for collection %s failed validation: %s", e.Collection, e.Detail)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Validate checks fields against the collection's schema, if one exists.
func (s *SchemaSet) Validate(collection string, fields map[string]any) error {
	if s == nil || s.dir == "" {
		return nil
	}
	schema, err := s.schemaFor(collection)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	// jsonschema wants plain decoded JSON values.
	instance := make(map[string]any, len(fields))
	for k, v := range fields {
		instance[k] = v
	}
	if err := schema.Validate(instance); err != nil {
		return &ValidationError{Collection: collection, Detail: err.Error()}
	}
	return nil
}

func (s *SchemaSet) schemaFor(collection string) (*jsonschema.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if schema, ok := s.compiled[collection]; ok {
		return schema, nil
	}
	path := filepath.Join(s.dir, collection+".schema.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.compiled[collection] = nil
			return nil, nil
		}
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", path, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(path, doc); err != nil {
		return nil, fmt.Errorf("register schema %s: %w", path, err)
	}
	schema, err := compiler.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", path, err)
	}
	s.compiled[collection] = schema
	return schema, nil
}
