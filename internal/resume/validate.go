package resume

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON []byte

// ErrMissing is returned when no résumé document was supplied at all.
var ErrMissing = errors.New("cv data is required")

// ValidationError lists every schema violation found in a document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid cv data: " + strings.Join(e.Problems, "; ")
}

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	})
	return schema, schemaErr
}

// Decode validates raw JSON against the résumé schema and decodes it.
func Decode(raw json.RawMessage) (Resume, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Resume{}, ErrMissing
	}

	s, err := compiledSchema()
	if err != nil {
		return Resume{}, fmt.Errorf("load resume schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Resume{}, &ValidationError{Problems: []string{err.Error()}}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return Resume{}, &ValidationError{Problems: problems}
	}

	var r Resume
	if err := json.Unmarshal(raw, &r); err != nil {
		return Resume{}, fmt.Errorf("decode cv data: %w", err)
	}
	r.Normalize()
	return r, nil
}

// Normalize replaces nil lists with empty ones so that equal documents encode identically
// whether a list was omitted, null or empty.
func (r *Resume) Normalize() {
	if r.Experience == nil {
		r.Experience = []Experience{}
	}
	if r.Education == nil {
		r.Education = []Education{}
	}
	if r.Skills == nil {
		r.Skills = []Skill{}
	}
	for i := range r.Experience {
		if r.Experience[i].Description == nil {
			r.Experience[i].Description = []string{}
		}
	}
	for i := range r.Skills {
		if r.Skills[i].Items == nil {
			r.Skills[i].Items = []string{}
		}
	}
	for i := range r.Projects {
		if r.Projects[i].Technologies == nil {
			r.Projects[i].Technologies = []string{}
		}
	}
}
