package alert

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ertriage/ertriage/internal/domain/encounter"
)

// ActiveLister lists encounters still in the pipeline. Satisfied by
// encounter.Repository.
type ActiveLister interface {
	ListActive(ctx context.Context) ([]*encounter.Encounter, error)
}

// Evaluator runs the rule table against every active encounter on a timer.
// Event-triggered alerts (patient worsening) are created inline by the
// message service; the evaluator covers the time-based rules that no single
// request can observe.
type Evaluator struct {
	encounters ActiveLister
	alerts     *Service
	cfg        RuleConfig
	interval   time.Duration
	logger     zerolog.Logger
}

func NewEvaluator(encounters ActiveLister, alerts *Service, cfg RuleConfig, interval time.Duration, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		encounters: encounters,
		alerts:     alerts,
		cfg:        cfg,
		interval:   interval,
		logger:     logger.With().Str("component", "alert_evaluator").Logger(),
	}
}

// Start runs the evaluation loop until ctx is cancelled.
func (e *Evaluator) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.RunOnce(ctx); err != nil {
				e.logger.Error().Err(err).Msg("alert evaluation pass failed")
			}
		}
	}
}

// RunOnce evaluates every active encounter exactly once. Each firing becomes
// at most one new alert; existing open alerts of the same type suppress
// creation.
func (e *Evaluator) RunOnce(ctx context.Context) error {
	encs, err := e.encounters.ListActive(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var created int
	for _, enc := range encs {
		f := EvaluateEncounter(enc, now, e.cfg)
		if f == nil {
			continue
		}
		_, ok, err := e.alerts.CreateIfAbsent(ctx, enc, f)
		if err != nil {
			e.logger.Error().Err(err).
				Str("encounter_id", enc.ID.String()).
				Str("type", f.Type).
				Msg("failed to create rule alert")
			continue
		}
		if ok {
			created++
		}
	}

	if created > 0 {
		e.logger.Info().Int("created", created).Int("evaluated", len(encs)).
			Msg("alert evaluation pass complete")
	}
	return nil
}
