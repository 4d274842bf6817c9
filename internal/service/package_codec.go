package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"statebridge/internal/domain"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const packageSchemaURL = "https://statebridge.local/schemas/migration-package.json"

const packageSchema = `{
	"type": "object",
	"required": ["version", "timestamp", "state"],
	"properties": {
		"version": {"type": "string", "minLength": 1},
		"timestamp": {"type": "string", "minLength": 1},
		"state": {"not": {"type": "null"}},
		"config": {"type": "object"},
		"platform": {"type": "string"}
	}
}`

// PackageCodec encodes migration packages and rejects malformed ones before
// anything is written.
type PackageCodec struct {
	schema   *jsonschema.Schema
	validate *validator.Validate
}

func NewPackageCodec() (*PackageCodec, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(packageSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse package schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(packageSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to load package schema: %w", err)
	}
	schema, err := compiler.Compile(packageSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile package schema: %w", err)
	}

	return &PackageCodec{
		schema:   schema,
		validate: validator.New(),
	}, nil
}

func (c *PackageCodec) Encode(pkg *domain.MigrationPackage) ([]byte, error) {
	return json.Marshal(pkg)
}

func (c *PackageCodec) Decode(data []byte) (*domain.MigrationPackage, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, &ValidationError{Problems: []string{"package is not valid JSON"}}
	}

	if err := c.schema.Validate(instance); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, &ValidationError{Problems: schemaProblems(verr)}
		}
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	var pkg domain.MigrationPackage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	// Only the envelope is checked. The embedded config may come from an
	// older or differently configured runtime.
	if err := c.validate.StructPartial(pkg, "Version", "Timestamp", "State"); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	if pkg.Platform != "" && !pkg.Platform.Valid() {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("unknown platform %q", pkg.Platform)}}
	}

	return &pkg, nil
}

func schemaProblems(err *jsonschema.ValidationError) []string {
	var problems []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			problems = append(problems, e.Error())
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(err)
	return problems
}
