package eviction

import (
	"context"
	"fmt"
	"log/slog"
)

// Store is the part of a remote archive store the manager needs.
type Store interface {
	// List returns the names of the archives in the store, in no particular order.
	List(ctx context.Context) ([]string, error)
	// Remove deletes one archive by name.
	Remove(ctx context.Context, name string) error
}

// Manager applies the retention rules to the remote store and the local archive directory.
type Manager struct {
	selector *Selector
	pruner   *Pruner
	logger   *slog.Logger
}

// NewManager creates a Manager. minEntries is the remote eviction floor and
// keep the number of local archives to retain.
func NewManager(minEntries, keep int) *Manager {
	return &Manager{
		selector: NewSelector(minEntries),
		pruner:   NewPruner(keep),
		logger:   slog.Default().With("component", "eviction.manager"),
	}
}

// EvictRemote removes the oldest archive from store when the store holds enough of them.
// It returns the evicted name, or "" when nothing was removed.
func (m *Manager) EvictRemote(ctx context.Context, store Store) (string, error) {
	names, err := store.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list remote archives: %w", err)
	}

	victim, err := m.selector.SelectOldest(names)
	if err != nil {
		return "", fmt.Errorf("failed to select oldest archive: %w", err)
	}
	if victim == "" {
		m.logger.Info("Remote eviction not needed", "count", len(names), "min_entries", m.selector.MinEntries)
		return "", nil
	}

	m.logger.Info("Evicting remote archive", "name", victim, "count", len(names))
	if err := store.Remove(ctx, victim); err != nil {
		return "", fmt.Errorf("failed to remove remote archive %s: %w", victim, err)
	}
	return victim, nil
}

// PruneLocal trims dir down to the configured number of most recent archives.
func (m *Manager) PruneLocal(dir string) ([]string, error) {
	return m.pruner.Prune(dir)
}
