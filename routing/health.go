package routing

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cocaine/rpcproxy/cocaine"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultHealthCheckPeriod  = 5 * time.Second
	DefaultHealthCheckTimeout = 5 * time.Second
	DefaultHealthCheckRetry   = time.Second
)

// ClusterChecker is implemented by the cocaine locator client. A successful
// call means that the locator is reachable.
type ClusterChecker interface {
	Cluster(context.Context) (map[string]cocaine.Endpoint, error)
}

// HealthCheck polls the locator and reports whether it is reachable.
type HealthCheck struct {
	Checker ClusterChecker
	Period  time.Duration
	Timeout time.Duration
	Retry   time.Duration

	healthy atomic.Bool
}

// Healthy tells whether the last check succeeded.
func (h *HealthCheck) Healthy() bool {
	return h.healthy.Load()
}

func (h *HealthCheck) check(ctx context.Context) error {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultHealthCheckTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := h.Checker.Cluster(ctx)
	return err
}

// Run checks the locator periodically until the context is done. After a
// failed check, the next one follows after the retry delay.
func (h *HealthCheck) Run(ctx context.Context) {
	period, retry := h.Period, h.Retry
	if period <= 0 {
		period = DefaultHealthCheckPeriod
	}

	if retry <= 0 {
		retry = DefaultHealthCheckRetry
	}

	for {
		delay := period
		if err := h.check(ctx); err != nil {
			if h.healthy.Swap(false) {
				log.Errorf("locator is unavailable: %v", err)
			}

			delay = retry
		} else if !h.healthy.Swap(true) {
			log.Info("locator is available")
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}
