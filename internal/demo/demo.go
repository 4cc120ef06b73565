// Package demo holds the namespaces compiled into the pipestack binary: a
// small training pipeline and an evaluation step library it can borrow from.
package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/animus-labs/pipestack/internal/pipeline"
	"github.com/animus-labs/pipestack/internal/resolver"
)

const (
	TrainingFile   = "pipelines/training.go"
	EvaluationFile = "steps/evaluation.go"

	TrainingPipeline = "training_pipeline"
)

// JSONMaterializer stores step outputs as indented JSON documents.
type JSONMaterializer struct{}

func (JSONMaterializer) Name() string { return "JSONMaterializer" }

func (JSONMaterializer) Marshal(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }

// Catalog returns a catalog with every demo namespace registered.
func Catalog() (*resolver.Catalog, error) {
	c := resolver.NewCatalog()
	if err := c.Add(TrainingFile, buildTraining); err != nil {
		return nil, err
	}
	if err := c.Add(EvaluationFile, buildEvaluation); err != nil {
		return nil, err
	}
	return c, nil
}

func buildTraining(ns *resolver.Namespace) error {
	steps := []pipeline.StepDefinition{
		{Symbol: "importer", Run: importer, Params: map[string]any{"rows": 100, "seed": 1}, Outputs: []string{"dataset"}},
		{Symbol: "trainer", Run: trainer, Params: map[string]any{"epochs": 10, "learning_rate": 0.1}, Outputs: []string{"model"}},
		{Symbol: "evaluator", Run: evaluator, Params: map[string]any{"threshold": 0.5}, Outputs: []string{"accuracy"}},
	}
	for _, s := range steps {
		if err := ns.RegisterStep(s); err != nil {
			return err
		}
	}
	for _, m := range []pipeline.Materializer{pipeline.YAMLMaterializer{}, JSONMaterializer{}} {
		if err := ns.RegisterMaterializer(m); err != nil {
			return err
		}
	}
	return ns.RegisterPipeline(pipeline.Definition{
		Name:  TrainingPipeline,
		Slots: []string{"importer", "trainer", "evaluator"},
	})
}

func buildEvaluation(ns *resolver.Namespace) error {
	if err := ns.RegisterStep(pipeline.StepDefinition{
		Symbol:  "strict_evaluator",
		Run:     evaluator,
		Params:  map[string]any{"threshold": 0.9},
		Outputs: []string{"accuracy"},
	}); err != nil {
		return err
	}
	return ns.RegisterMaterializer(JSONMaterializer{})
}

func importer(ctx context.Context, params map[string]any) (map[string]any, error) {
	rows, err := intParam(params, "rows")
	if err != nil {
		return nil, err
	}
	if rows <= 0 {
		return nil, fmt.Errorf("rows must be positive, got %d", rows)
	}
	seed, err := intParam(params, "seed")
	if err != nil {
		return nil, err
	}
	return map[string]any{"dataset": map[string]any{"rows": rows, "seed": seed}}, nil
}

// trainer converges towards 1 with the number of epochs scaled by the
// learning rate.
func trainer(ctx context.Context, params map[string]any) (map[string]any, error) {
	epochs, err := intParam(params, "epochs")
	if err != nil {
		return nil, err
	}
	rate, err := floatParam(params, "learning_rate")
	if err != nil {
		return nil, err
	}
	if rate <= 0 || rate > 1 {
		return nil, fmt.Errorf("learning_rate must be in (0, 1], got %v", rate)
	}
	score := 1 - math.Pow(1-rate, float64(epochs))
	return map[string]any{"model": map[string]any{"epochs": epochs, "score": score}}, nil
}

func evaluator(ctx context.Context, params map[string]any) (map[string]any, error) {
	threshold, err := floatParam(params, "threshold")
	if err != nil {
		return nil, err
	}
	env := pipeline.Environment(ctx)
	return map[string]any{"accuracy": map[string]any{
		"threshold":   threshold,
		"secrets_env": len(env),
	}}, nil
}

func intParam(params map[string]any, key string) (int, error) {
	switch v := params[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%s must be an integer, got %v", key, v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
}

func floatParam(params map[string]any, key string) (float64, error) {
	switch v := params[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%s must be a number, got %T", key, v)
	}
}
