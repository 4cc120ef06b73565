package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/animus-labs/pipestack/internal/orchestrator"
	"github.com/animus-labs/pipestack/internal/platform/auditlog"
)

const transitionActor = "pipestack"

// TransitionLog appends orchestrator lifecycle transitions to the
// tamper-evident lifecycle_events table.
type TransitionLog struct {
	db auditlog.QueryRower
}

func NewTransitionLog(db auditlog.QueryRower) *TransitionLog {
	if db == nil {
		return nil
	}
	return &TransitionLog{db: db}
}

func transitionEvent(rec orchestrator.TransitionRecord) auditlog.Event {
	return auditlog.Event{
		OccurredAt:   rec.OccurredAt,
		Actor:        transitionActor,
		Action:       "orchestrator." + string(rec.Operation),
		ResourceType: "orchestrator",
		ResourceID:   rec.OrchestratorID.String(),
		FromState:    string(rec.From),
		ToState:      string(rec.To),
		Payload: map[string]any{
			"orchestrator": rec.Orchestrator,
			"outcome":      string(rec.Outcome),
			"message":      rec.Message,
		},
	}
}

func (l *TransitionLog) Append(ctx context.Context, rec orchestrator.TransitionRecord) (int64, error) {
	if l == nil || l.db == nil {
		return 0, errors.New("transition log not initialized")
	}
	id, err := auditlog.Insert(ctx, l.db, transitionEvent(rec))
	if err != nil {
		return 0, fmt.Errorf("append transition: %w", err)
	}
	return id, nil
}
