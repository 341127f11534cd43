package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/galen-hood/tabletop/internal/config"
)

// Janitor periodically prunes expired roll records and evicts idle
// hosts. It implements the server lifecycle Service contract.
type Janitor struct {
	log      *zap.Logger
	cfg      config.SessionConfig
	registry *Registry
	stop     chan struct{}
	done     chan struct{}
}

// NewJanitor builds a janitor over the registry.
func NewJanitor(log *zap.Logger, cfg config.SessionConfig, reg *Registry) *Janitor {
	return &Janitor{
		log:      log,
		cfg:      cfg,
		registry: reg,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs cleanup sweeps on the configured interval until Stop is
// called.
func (j *Janitor) Start() error {
	defer close(j.done)
	ticker := time.NewTicker(j.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return nil
		case <-ticker.C:
			j.Sweep(context.Background(), time.Now())
		}
	}
}

// Stop ends the sweep loop and waits for the current sweep to finish.
func (j *Janitor) Stop() {
	close(j.stop)
	<-j.done
}

// Sweep runs one cleanup pass: rolls older than the retention window
// are deleted from every host's store, then hosts idle past the expiry
// cutoff with nobody online are evicted. Store I/O runs on a snapshot,
// never under the registry lock.
func (j *Janitor) Sweep(ctx context.Context, now time.Time) {
	rollCutoff := now.Add(-j.cfg.LatestRollWindow)
	for _, hc := range j.registry.Snapshot() {
		store := hc.Store()
		if store == nil {
			continue
		}
		deleted, err := store.DeleteRollsBefore(ctx, rollCutoff)
		if err != nil {
			j.log.Warn("pruning rolls",
				zap.String("host", hc.URL()),
				zap.Error(err))
			continue
		}
		if deleted > 0 {
			j.log.Debug("pruned rolls",
				zap.String("host", hc.URL()),
				zap.Int64("deleted", deleted))
		}
	}

	expired := j.registry.ExpireIdle(now.Add(-j.cfg.HostExpiry))
	if len(expired) > 0 {
		j.log.Info("expired hosts", zap.Strings("hosts", expired))
	}
}
