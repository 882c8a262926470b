// Package schema validates worker envelopes, stage outputs and generated
// objects against the OpenAPI components embedded in schemas.yaml.
package schema

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
)

//go:embed schemas.yaml
var document []byte

// Schema names.
const (
	WorkerEnvelope            = "WorkerEnvelope"
	ClinicalTrialsOutputs     = "ClinicalTrialsOutputs"
	ClinicalNarrative         = "ClinicalNarrative"
	PatentOutputs             = "PatentOutputs"
	MarketIntelligenceOutputs = "MarketIntelligenceOutputs"
	ReportOutputs             = "ReportOutputs"
	SynthesisNarrative        = "SynthesisNarrative"
	CanonicalResult           = "CanonicalResult"
)

// ForWorker returns the output schema a worker type must satisfy.
func ForWorker(w domain.WorkerType) (string, error) {
	switch w {
	case domain.WorkerClinicalTrials:
		return ClinicalTrialsOutputs, nil
	case domain.WorkerPatent:
		return PatentOutputs, nil
	case domain.WorkerMarket:
		return MarketIntelligenceOutputs, nil
	case domain.WorkerReport:
		return ReportOutputs, nil
	}
	return "", fmt.Errorf("%w: %s", domain.ErrUnknownWorker, w)
}

type Validator struct {
	doc *openapi3.T
}

var _ ports.SchemaValidator = (*Validator)(nil)

// New loads and checks the embedded document.
func New() (*Validator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(document)
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid schemas: %w", err)
	}
	return &Validator{doc: doc}, nil
}

// MustNew is New for process bootstrap and tests.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

func (v *Validator) lookup(name string) (*openapi3.Schema, error) {
	ref, ok := v.doc.Components.Schemas[name]
	if !ok || ref.Value == nil {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	return ref.Value, nil
}

// ValidateJSON decodes raw and validates it; failures are *domain.SchemaError.
func (v *Validator) ValidateJSON(name string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return &domain.SchemaError{Schema: name, Err: fmt.Errorf("empty payload")}
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return &domain.SchemaError{Schema: name, Err: fmt.Errorf("invalid json: %w", err)}
	}
	return v.ValidateValue(name, value)
}

// ValidateValue validates an already decoded JSON value (maps, slices, float64...).
func (v *Validator) ValidateValue(name string, value any) error {
	s, err := v.lookup(name)
	if err != nil {
		return err
	}
	if err := s.VisitJSON(value, openapi3.MultiErrors()); err != nil {
		return &domain.SchemaError{Schema: name, Err: err}
	}
	return nil
}

// Document returns a self-contained JSON rendering of a schema with references
// inlined, used in generation prompts.
func (v *Validator) Document(name string) (string, error) {
	s, err := v.lookup(name)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(render(s), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func render(s *openapi3.Schema) map[string]any {
	out := map[string]any{}
	if types := s.Type.Slice(); len(types) == 1 {
		out["type"] = types[0]
	} else if len(types) > 1 {
		out["type"] = types
	}
	if s.Nullable {
		out["nullable"] = true
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Min != nil {
		out["minimum"] = *s.Min
	}
	if s.Max != nil {
		out["maximum"] = *s.Max
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, ref := range s.Properties {
			if ref != nil && ref.Value != nil {
				props[name] = render(ref.Value)
			}
		}
		out["properties"] = props
	}
	if s.Items != nil && s.Items.Value != nil {
		out["items"] = render(s.Items.Value)
	}
	for _, ref := range s.AllOf {
		if ref == nil || ref.Value == nil {
			continue
		}
		for k, val := range render(ref.Value) {
			out[k] = val
		}
	}
	return out
}

// Names lists the known schemas.
func (v *Validator) Names() []string {
	names := make([]string, 0, len(v.doc.Components.Schemas))
	for name := range v.doc.Components.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
