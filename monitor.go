package offlinecache

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// DefaultProbeInterval is how often the monitor checks connectivity.
const DefaultProbeInterval = 30 * time.Second

// Monitor periodically probes the origin and raises the connectivity
// restored signal when it comes back, draining the retry queue. It is one
// possible producer of the signal; hosts can equally call
// Gateway.NotifyOnline from their own reconnect hook.
type Monitor struct {
	gateway   *Gateway
	interval  time.Duration
	probePath string
	log       zerolog.Logger

	wasOnline bool
}

func NewMonitor(g *Gateway, interval time.Duration, probePath string, logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if probePath == "" {
		probePath = "/api/health"
	}
	return &Monitor{
		gateway:   g,
		interval:  interval,
		probePath: probePath,
		log:       logger,
	}
}

// Run probes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	online := m.probe(ctx)
	defer func() { m.wasOnline = online }()
	if !online {
		if m.wasOnline {
			m.log.Info().Msg("Connectivity lost")
		}
		return
	}
	if !m.wasOnline {
		m.log.Info().Msg("Connectivity restored")
	}
	if m.gateway.Queue().Len() == 0 {
		return
	}
	m.drain(ctx)
}

func (m *Monitor) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.gateway.networkTimeout)
	defer cancel()
	res, err := m.gateway.fetcher.do(probeCtx, http.MethodHead, m.probePath, nil, nil)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	return true
}

// drain replays the queue, backing off exponentially between failed
// passes: a failed drain usually means the origin flapped right back off.
func (m *Monitor) drain(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxElapsedTime = m.interval
	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return m.gateway.NotifyOnline(ctx)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		m.log.Debug().Err(err).Msg("Retry queue not fully drained")
	}
}
