package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Janitor periodically purges expired job records from the store.
type Janitor struct {
	store    Store
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewJanitor creates a janitor that sweeps the store at the given interval.
// A zero interval defaults to one hour.
func NewJanitor(store Store, interval time.Duration, log zerolog.Logger) *Janitor {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	return &Janitor{
		store:    store,
		interval: interval,
		log:      log.With().Str("component", "job-janitor").Logger(),
		stop:     make(chan struct{}),
	}
}

func (j *Janitor) Start() {
	go j.loop()
}

func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
}

func (j *Janitor) loop() {
	// Run once on startup to clear any backlog from downtime
	j.sweep()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stop:
			return
		}
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	purged, err := j.store.PurgeExpired(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("job purge failed")
		return
	}
	if purged > 0 {
		j.log.Info().Int("purged", purged).Msg("expired jobs purged")
	}
}
