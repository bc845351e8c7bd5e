package podgroup

import (
	"time"

	"github.com/cuemby/stark/pkg/log"
	"github.com/rs/zerolog"
)

// defaultReapInterval is §5's default reaper period.
const defaultReapInterval = 10 * time.Second

// Reaper periodically evicts expired memberships from a Store. It owns
// its own task, independent of the StateStore's access path, mirroring
// the way pkg/events.Broker owns its own run loop rather than being
// driven by callers.
type Reaper struct {
	store    *Store
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
}

// NewReaper creates a reaper over store. interval <= 0 uses the §5 default.
func NewReaper(store *Store, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = defaultReapInterval
	}
	return &Reaper{
		store:    store,
		interval: interval,
		logger:   log.WithComponent("podgroup"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the reap loop in a new goroutine.
func (r *Reaper) Start() {
	go r.run()
}

// Stop ends the reap loop. Safe to call once; a second call panics on
// the closed channel, matching events.Broker's Stop contract.
func (r *Reaper) Stop() {
	close(r.stopCh)
}

func (r *Reaper) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			evicted := r.store.reap(time.Now())
			if evicted > 0 {
				r.logger.Debug().Int("evicted", evicted).Msg("reaped expired podgroup memberships")
			}
		case <-r.stopCh:
			return
		}
	}
}
