// Package metadatastore provides the postgres metadata store flavor, which
// keeps a ledger of submitted runs and the audit trail of orchestrator
// lifecycle transitions.
package metadatastore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/animus-labs/pipestack/internal/domain"
	"github.com/animus-labs/pipestack/internal/orchestrator"
	"github.com/animus-labs/pipestack/internal/pipeline"
	"github.com/animus-labs/pipestack/internal/platform/postgres"
	"github.com/animus-labs/pipestack/internal/registry"
	repo "github.com/animus-labs/pipestack/internal/repo/postgres"
)

const FlavorName = "postgres"

var (
	_ pipeline.RunRecorder            = (*Store)(nil)
	_ orchestrator.TransitionRecorder = (*Store)(nil)
)

// Store connects on first use; building a stack never touches the database.
type Store struct {
	desc domain.ComponentDescriptor
	cfg  postgres.Config
	open func(ctx context.Context, cfg postgres.Config) (*sql.DB, error)

	mu          sync.Mutex
	db          *sql.DB
	runs        *repo.RunStore
	transitions *repo.TransitionLog
}

func Flavor() registry.Flavor {
	return registry.Flavor{
		Type:        domain.ComponentMetadataStore,
		Name:        FlavorName,
		Description: "PostgreSQL run ledger and lifecycle audit trail",
		Factory: func(desc domain.ComponentDescriptor) (registry.Component, error) {
			return New(desc)
		},
	}
}

func New(desc domain.ComponentDescriptor) (*Store, error) {
	cfg, err := postgres.ConfigFromEnv(desc.ConfigString("url", ""))
	if err != nil {
		return nil, fmt.Errorf("postgres metadata store %q: %w", desc.Name, err)
	}
	return &Store{desc: desc, cfg: cfg, open: postgres.Open}, nil
}

func (s *Store) Descriptor() domain.ComponentDescriptor { return s.desc }

func (s *Store) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := s.open(ctx, s.cfg)
	if err != nil {
		return fmt.Errorf("connect metadata store: %w", err)
	}
	if err := repo.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate metadata store: %w", err)
	}
	s.db = db
	s.runs = repo.NewRunStore(db)
	s.transitions = repo.NewTransitionLog(db)
	return nil
}

func (s *Store) RecordRun(ctx context.Context, rec pipeline.RunRecord) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	return s.runs.CreateRun(ctx, rec)
}

func (s *Store) RecordTransition(ctx context.Context, rec orchestrator.TransitionRecord) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	_, err := s.transitions.Append(ctx, rec)
	return err
}

func (s *Store) ListRuns(ctx context.Context, filter repo.RunFilter) ([]pipeline.RunRecord, error) {
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s.runs.ListRuns(ctx, filter)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
