// Package control holds the operator-facing controls: the persisted pause
// flag and the read-only status report.
package control

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jonesrussell/north-cloud/catalog-sync/internal/database"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/domain"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/events"
	"github.com/jonesrussell/north-cloud/catalog-sync/internal/logger"
)

// ErrPaused is returned by operations refused while sync is paused.
var ErrPaused = errors.New("sync is paused")

// SettingsStore reads and writes persisted settings.
type SettingsStore interface {
	Get(ctx context.Context, key string) (*domain.Setting, error)
	Set(ctx context.Context, key, value, updatedBy string) (*domain.Setting, error)
}

// Gate is the cooperative pause flag. It is read at the start of every
// tick and fill run; work already in flight is never interrupted.
type Gate struct {
	settings  SettingsStore
	publisher *events.Publisher
	log       logger.Logger
}

// NewGate creates a gate. publisher may be nil.
func NewGate(settings SettingsStore, publisher *events.Publisher, log logger.Logger) *Gate {
	return &Gate{
		settings:  settings,
		publisher: publisher,
		log:       log.With(logger.Component("gate")),
	}
}

// Paused reports whether the pause flag is set. A missing row means running.
func (g *Gate) Paused(ctx context.Context) (bool, error) {
	state, err := g.State(ctx)
	if err != nil {
		return false, err
	}
	return state.Paused, nil
}

// State returns the flag with who last changed it and when.
func (g *Gate) State(ctx context.Context) (domain.PauseState, error) {
	setting, err := g.settings.Get(ctx, domain.SettingPaused)
	if errors.Is(err, database.ErrNotFound) {
		return domain.PauseState{}, nil
	}
	if err != nil {
		return domain.PauseState{}, fmt.Errorf("read pause flag: %w", err)
	}

	paused, parseErr := strconv.ParseBool(setting.Value)
	if parseErr != nil {
		return domain.PauseState{}, fmt.Errorf("parse pause flag %q: %w", setting.Value, parseErr)
	}

	updatedAt := setting.UpdatedAt
	return domain.PauseState{Paused: paused, UpdatedAt: &updatedAt, UpdatedBy: setting.UpdatedBy}, nil
}

// Pause sets the flag, recording who set it.
func (g *Gate) Pause(ctx context.Context, by string) (domain.PauseState, error) {
	return g.set(ctx, true, by)
}

// Resume clears the flag, recording who cleared it.
func (g *Gate) Resume(ctx context.Context, by string) (domain.PauseState, error) {
	return g.set(ctx, false, by)
}

func (g *Gate) set(ctx context.Context, paused bool, by string) (domain.PauseState, error) {
	if by == "" {
		by = "unknown"
	}

	setting, err := g.settings.Set(ctx, domain.SettingPaused, strconv.FormatBool(paused), by)
	if err != nil {
		return domain.PauseState{}, fmt.Errorf("write pause flag: %w", err)
	}

	eventType := events.SyncResumed
	if paused {
		eventType = events.SyncPaused
	}
	g.log.Info("Sync pause flag changed", logger.Bool("paused", paused), logger.String("by", by))
	g.publisher.PublishAsync(events.Event{EventType: eventType, Payload: map[string]any{"by": by}})

	updatedAt := setting.UpdatedAt
	return domain.PauseState{Paused: paused, UpdatedAt: &updatedAt, UpdatedBy: setting.UpdatedBy}, nil
}
