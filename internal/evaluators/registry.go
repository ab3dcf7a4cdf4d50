package evaluators

import (
	"fmt"
	"sort"

	"github.com/go-viper/mapstructure/v2"

	"github.com/kestrel-eval/kestrel/internal/llm"
)

// JudgeFactory builds a client for a judge model, used by evaluators that
// delegate scoring to a second LLM. An empty modelID selects the factory's
// configured default judge model.
type JudgeFactory func(modelID string) (llm.Client, error)

type factory func(r *Registry, params map[string]any) (Evaluator, error)

// Registry maps evaluator names to constructors. Construction is the only
// place parameter payloads are decoded, so bad configuration fails before
// any model call is made.
type Registry struct {
	judge     JudgeFactory
	factories map[string]factory
}

// NewRegistry builds a registry with every built-in evaluator registered.
// judge may be nil when no judge-backed evaluator will be constructed.
func NewRegistry(judge JudgeFactory) *Registry {
	r := &Registry{
		judge: judge,
		factories: map[string]factory{
			NameInstructionAdherence: newInstructionEvaluator,
			NameFormatConsistency:    newFormatEvaluator,
			NameHallucination:        newHallucinationEvaluator,
			NameRefusalBehavior:      newRefusalEvaluator,
			NameOutputStability:      newStabilityEvaluator,
		},
	}
	return r
}

// Exists reports whether name is a registered evaluator.
func (r *Registry) Exists(name string) bool {
	_, ok := r.factories[name]
	return ok
}

// Names returns the registered evaluator names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Construct builds the named evaluator from its parameter payload. Unknown
// names and undecodable payloads are errors.
func (r *Registry) Construct(name string, params map[string]any) (Evaluator, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown evaluator %q (available: %v)", name, r.Names())
	}
	return f(r, params)
}

// decodeParams decodes a loosely-typed parameter map into a typed config
// struct, tolerating JSON/YAML numeric widening.
func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("decoding evaluator params: %w", err)
	}
	return nil
}
