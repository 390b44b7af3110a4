// Package report renders run results as JSON and HTML and stores them
// through a Sink.
package report

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wesleyorama2/stampede/internal/engine"
)

// Kind names a report document type and its schema.
type Kind string

const (
	KindLoad      Kind = "load"
	KindStress    Kind = "stress"
	KindBenchmark Kind = "benchmark"
)

//go:embed schema/*.json
var schemaFS embed.FS

var (
	schemaMu sync.Mutex
	schemas  = map[Kind]*jsonschema.Schema{}
)

func compiledSchema(kind Kind) (*jsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if s, ok := schemas[kind]; ok {
		return s, nil
	}

	name := string(kind) + ".json"
	raw, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return nil, fmt.Errorf("unknown report kind %q", kind)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("invalid %s schema: %w", kind, err)
	}
	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("invalid %s schema: %w", kind, err)
	}
	schemas[kind] = s
	return s, nil
}

// SchemaError lists every schema violation in a report document.
type SchemaError struct {
	Kind     Kind
	Problems []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s report does not match schema: %s", e.Kind, strings.Join(e.Problems, "; "))
}

// Validate checks an encoded report document against the schema for kind.
func Validate(kind Kind, data []byte) error {
	s, err := compiledSchema(kind)
	if err != nil {
		return err
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := s.Validate(doc); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return err
		}
		return &SchemaError{Kind: kind, Problems: flatten(verr)}
	}
	return nil
}

// flatten collects the leaf causes of a validation error.
func flatten(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := verr.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{loc + ": " + verr.Message}
	}
	var out []string
	for _, c := range verr.Causes {
		out = append(out, flatten(c)...)
	}
	return out
}

// Encode marshals v as indented JSON and validates it against the schema
// for kind. An invalid document is never returned.
func Encode(kind Kind, v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s report: %w", kind, err)
	}
	if err := Validate(kind, data); err != nil {
		return nil, err
	}
	return data, nil
}

// ReadTestResult loads a load test report, validating it first.
func ReadTestResult(path string) (*engine.TestResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	if err := Validate(KindLoad, data); err != nil {
		return nil, err
	}

	var result engine.TestResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &result, nil
}
