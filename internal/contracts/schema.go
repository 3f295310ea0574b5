// Package contracts loads contract documents from files and the repository,
// validates them against the contract schema and keeps the engine's catalog
// current.
package contracts

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/opensource-finance/tern/internal/domain"
	"github.com/opensource-finance/tern/internal/rules"
)

//go:embed schema.cue
var schemaSource string

// ErrSchema is returned for a document that does not match the contract schema.
var ErrSchema = errors.New("contract does not match schema")

// Validator checks raw contract documents against the #Contract definition.
// It is safe for concurrent use.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile contract schema: %w", err)
	}

	def := v.LookupPath(cue.ParsePath("#Contract"))
	if !def.Exists() {
		return nil, fmt.Errorf("contract schema has no #Contract definition")
	}
	return &Validator{ctx: ctx, schema: def}, nil
}

// Validate checks one JSON contract document.
func (v *Validator) Validate(doc []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	val := v.ctx.CompileBytes(doc, cue.Filename("contract.json"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := v.schema.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}

// Decode validates and decodes one contract document.
func (v *Validator) Decode(doc []byte) (*domain.ContractConfig, error) {
	if err := v.Validate(doc); err != nil {
		return nil, err
	}
	var cfg domain.ContractConfig
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return &cfg, nil
}

// ParseDocuments splits a contracts file into documents. The file is either
// a JSON array or an object with a "contracts" array. Documents failing the
// schema are returned as load errors; a file that is not JSON is an error.
func (v *Validator) ParseDocuments(data []byte) ([]*domain.ContractConfig, []*rules.LoadError, error) {
	docs, err := splitDocuments(data)
	if err != nil {
		return nil, nil, err
	}

	var (
		configs []*domain.ContractConfig
		errs    []*rules.LoadError
	)
	for _, doc := range docs {
		cfg, err := v.Decode(doc)
		if err != nil {
			errs = append(errs, &rules.LoadError{
				ContractID: peekID(doc),
				Section:    rules.SectionSchema,
				Err:        err,
			})
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, errs, nil
}

// LoadFile reads and validates a contracts file.
func (v *Validator) LoadFile(path string) ([]*domain.ContractConfig, []*rules.LoadError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read contracts file: %w", err)
	}
	return v.ParseDocuments(data)
}

func splitDocuments(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var docs []json.RawMessage
	if trimmed[0] == '{' {
		var wrapper struct {
			Contracts []json.RawMessage `json:"contracts"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, fmt.Errorf("failed to parse contracts document: %w", err)
		}
		return wrapper.Contracts, nil
	}
	if err := json.Unmarshal(trimmed, &docs); err != nil {
		return nil, fmt.Errorf("failed to parse contracts document: %w", err)
	}
	return docs, nil
}

func peekID(doc []byte) string {
	var head struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(doc, &head); err != nil || head.ID == nil {
		return ""
	}
	return fmt.Sprint(head.ID)
}
