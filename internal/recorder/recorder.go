// Package recorder persists and forwards measurement results.
package recorder

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayusman/pulselab/internal/session"
	"github.com/ayusman/pulselab/internal/store"
)

// Publisher forwards a result off box, for example over MQTT.
type Publisher interface {
	Publish(r session.Result) error
}

// Recorder saves each result to the store and hands it to the publishers.
type Recorder struct {
	store      *store.Store
	publishers []Publisher
	logger     *zap.SugaredLogger
}

// New creates a Recorder. A nil store skips persistence.
func New(st *store.Store, logger *zap.SugaredLogger, publishers ...Publisher) *Recorder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Recorder{store: st, publishers: publishers, logger: logger}
}

// Record handles one result. A failing destination does not stop the others.
func (r *Recorder) Record(res session.Result) error {
	var err error
	if r.store != nil {
		m := &store.Measurement{
			ID:        res.ID,
			StartedAt: res.StartedAt,
			EndedAt:   res.EndedAt,
			Outcome:   string(res.Outcome),
			Rate:      res.Rate,
		}
		err = multierr.Append(err, r.store.Measurements().Create(m, res.Samples))
	}
	for _, p := range r.publishers {
		err = multierr.Append(err, p.Publish(res))
	}
	return err
}

// Run records results until the channel closes or ctx is done.
func (r *Recorder) Run(ctx context.Context, results <-chan session.Result) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			if err := r.Record(res); err != nil {
				r.logger.Warnw("recording measurement", "id", res.ID, "error", err)
				continue
			}
			r.logger.Infow("measurement recorded",
				"id", res.ID,
				"outcome", res.Outcome,
				"rate", res.Rate,
				"samples", len(res.Samples),
			)
		}
	}
}
