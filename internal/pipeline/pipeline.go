package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Definition is what a namespace registers for a pipeline symbol.
type Definition struct {
	Name         string
	Slots        []string
	Requirements []string
}

// Pipeline is a definition bound to one step instance per slot.
type Pipeline struct {
	name         string
	slots        []string
	steps        map[string]*Step
	requirements []string

	enableCache bool
	runName     string
	secrets     []string
	schedule    *Schedule
	stackName   string
}

// SlotError reports steps that do not match the declared slots.
type SlotError struct {
	Pipeline   string
	Missing    []string
	Unexpected []string
}

func (e *SlotError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing steps: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected steps: "+strings.Join(e.Unexpected, ", "))
	}
	return fmt.Sprintf("pipeline %q: %s", e.Pipeline, strings.Join(parts, "; "))
}

// New binds steps to the definition's slots. Every slot must be filled and
// no extra step may be passed.
func (d Definition) New(steps map[string]*Step) (*Pipeline, error) {
	if strings.TrimSpace(d.Name) == "" {
		return nil, fmt.Errorf("pipeline name is required")
	}
	slotErr := &SlotError{Pipeline: d.Name}
	declared := make(map[string]struct{}, len(d.Slots))
	for _, slot := range d.Slots {
		declared[slot] = struct{}{}
		if s, ok := steps[slot]; !ok || s == nil {
			slotErr.Missing = append(slotErr.Missing, slot)
		}
	}
	for name := range steps {
		if _, ok := declared[name]; !ok {
			slotErr.Unexpected = append(slotErr.Unexpected, name)
		}
	}
	if len(slotErr.Missing) > 0 || len(slotErr.Unexpected) > 0 {
		sort.Strings(slotErr.Missing)
		sort.Strings(slotErr.Unexpected)
		return nil, slotErr
	}
	bound := make(map[string]*Step, len(steps))
	for k, v := range steps {
		bound[k] = v
	}
	return &Pipeline{
		name:         d.Name,
		slots:        append([]string(nil), d.Slots...),
		steps:        bound,
		requirements: append([]string(nil), d.Requirements...),
		enableCache:  true,
	}, nil
}

func (p *Pipeline) Name() string { return p.name }

func (p *Pipeline) Slots() []string { return append([]string(nil), p.slots...) }

// Step returns the step bound to slot.
func (p *Pipeline) Step(slot string) (*Step, bool) {
	s, ok := p.steps[slot]
	return s, ok
}

func (p *Pipeline) EnableCache() bool { return p.enableCache }

func (p *Pipeline) Secrets() []string { return append([]string(nil), p.secrets...) }

func (p *Pipeline) Schedule() *Schedule { return p.schedule }

func (p *Pipeline) Requirements() []string { return append([]string(nil), p.requirements...) }

// StackName is the stack named by the document, if any.
func (p *Pipeline) StackName() string { return p.stackName }

// RunName returns the configured run name or one derived from now.
func (p *Pipeline) RunName(now time.Time) string {
	if p.runName != "" {
		return p.runName
	}
	now = now.UTC()
	return fmt.Sprintf("%s-%s_%06d", p.name, now.Format("02_Jan_06-15_04_05"), now.Nanosecond()/1000)
}

func (p *Pipeline) clone() *Pipeline {
	c := *p
	c.slots = append([]string(nil), p.slots...)
	c.requirements = append([]string(nil), p.requirements...)
	c.secrets = append([]string(nil), p.secrets...)
	c.steps = make(map[string]*Step, len(p.steps))
	for k, v := range p.steps {
		c.steps[k] = v
	}
	if p.schedule != nil {
		s := *p.schedule
		c.schedule = &s
	}
	return &c
}
