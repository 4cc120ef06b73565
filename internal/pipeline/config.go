package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Document keys understood by WithConfig.
const (
	KeyName          = "name"
	KeySteps         = "steps"
	KeyEnableCache   = "enable_cache"
	KeyRunName       = "run_name"
	KeySecrets       = "secrets"
	KeySchedule      = "schedule"
	KeyRequirements  = "requirements"
	KeyStack         = "stack"
	KeyStepParams    = "parameters"
	KeyStepSource    = "source"
	KeyMaterializers = "materializers"
)

// Schedule turns a pipeline into a recurring run.
type Schedule struct {
	StartTime      time.Time
	EndTime        time.Time
	IntervalSecond int
	Catchup        bool
}

// WithConfig returns a copy configured from a pipeline document. Step
// parameters under steps.<slot>.parameters override code defaults; when
// overwrite is false, overriding a value that was set in code fails.
func (p *Pipeline) WithConfig(doc map[string]any, overwrite bool) (*Pipeline, error) {
	c := p.clone()

	if v, ok := doc[KeyEnableCache]; ok {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%s must be a boolean, got %T", KeyEnableCache, v)
		}
		c.enableCache = b
	}
	if v, ok := doc[KeyRunName]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string, got %T", KeyRunName, v)
		}
		c.runName = strings.TrimSpace(s)
	}
	switch v := doc[KeyStack].(type) {
	case nil:
	case string:
		c.stackName = strings.TrimSpace(v)
	case map[string]any:
		name, _ := v["name"].(string)
		c.stackName = strings.TrimSpace(name)
	default:
		return nil, fmt.Errorf("%s must be a stack name or an inline stack definition, got %T", KeyStack, v)
	}
	if v, ok := doc[KeySecrets]; ok {
		list, err := stringList(KeySecrets, v)
		if err != nil {
			return nil, err
		}
		c.secrets = list
	}
	if v, ok := doc[KeyRequirements]; ok {
		list, err := stringList(KeyRequirements, v)
		if err != nil {
			return nil, err
		}
		c.requirements = appendUnique(c.requirements, list...)
	}
	if v, ok := doc[KeySchedule]; ok && v != nil {
		s, err := parseSchedule(v)
		if err != nil {
			return nil, err
		}
		c.schedule = s
	}

	steps, _ := doc[KeySteps].(map[string]any)
	for slot, raw := range steps {
		step, ok := c.steps[slot]
		if !ok {
			return nil, fmt.Errorf("pipeline %q has no step slot %q", c.name, slot)
		}
		stepDoc, _ := raw.(map[string]any)
		params, ok := stepDoc[KeyStepParams]
		if !ok || params == nil {
			continue
		}
		paramMap, ok := params.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("steps.%s.%s must be a mapping, got %T", slot, KeyStepParams, params)
		}
		configured, err := step.configure(slot, paramMap, overwrite)
		if err != nil {
			return nil, err
		}
		c.steps[slot] = configured
	}
	return c, nil
}

func parseSchedule(v any) (*Schedule, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a mapping, got %T", KeySchedule, v)
	}
	s := &Schedule{}
	var err error
	if s.StartTime, err = timeValue(m["start_time"]); err != nil {
		return nil, fmt.Errorf("schedule.start_time: %w", err)
	}
	if s.StartTime.IsZero() {
		return nil, fmt.Errorf("schedule.start_time is required")
	}
	if raw, ok := m["end_time"]; ok && raw != nil {
		if s.EndTime, err = timeValue(raw); err != nil {
			return nil, fmt.Errorf("schedule.end_time: %w", err)
		}
	}
	switch iv := m["interval_second"].(type) {
	case int:
		s.IntervalSecond = iv
	case float64:
		s.IntervalSecond = int(iv)
	default:
		return nil, fmt.Errorf("schedule.interval_second must be an integer")
	}
	if s.IntervalSecond <= 0 {
		return nil, fmt.Errorf("schedule.interval_second must be positive")
	}
	if b, ok := m["catchup"].(bool); ok {
		s.Catchup = b
	}
	return s, nil
}

func timeValue(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				return parsed.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized time %q", t)
	default:
		return time.Time{}, fmt.Errorf("unsupported time value %T", v)
	}
}

func stringList(key string, v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list, got %T", key, v)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%s[%d] must be a non-empty string", key, i)
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, nil
}

func appendUnique(list []string, items ...string) []string {
	seen := make(map[string]struct{}, len(list))
	for _, s := range list {
		seen[s] = struct{}{}
	}
	for _, s := range items {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		list = append(list, s)
	}
	return list
}
