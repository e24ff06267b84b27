package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

// Backend is one snapshot store.
type Backend interface {
	Save(ctx context.Context, snap orchestrator.Snapshot) error
	Load(ctx context.Context, id string) (orchestrator.Snapshot, error)
}

// Tiered saves per-turn snapshots to the hot backend, archives on
// disconnect, and resumes from whichever holds the session. Either
// backend may be nil.
type Tiered struct {
	Hot     Backend
	Archive Backend
}

func (t *Tiered) Save(ctx context.Context, snap orchestrator.Snapshot) error {
	if t.Hot == nil {
		return nil
	}
	return t.Hot.Save(ctx, snap)
}

func (t *Tiered) ArchiveSnapshot(ctx context.Context, snap orchestrator.Snapshot) error {
	var errs []error
	if t.Hot != nil {
		errs = append(errs, t.Hot.Save(ctx, snap))
	}
	if t.Archive != nil {
		errs = append(errs, t.Archive.Save(ctx, snap))
	}
	return errors.Join(errs...)
}

func (t *Tiered) Load(ctx context.Context, id string) (orchestrator.Snapshot, error) {
	var failed error
	for _, b := range []Backend{t.Hot, t.Archive} {
		if b == nil {
			continue
		}
		snap, err := b.Load(ctx, id)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ErrNotFound) && failed == nil {
			failed = fmt.Errorf("store: load %s: %w", id, err)
		}
	}
	if failed != nil {
		return orchestrator.Snapshot{}, failed
	}
	return orchestrator.Snapshot{}, ErrNotFound
}
