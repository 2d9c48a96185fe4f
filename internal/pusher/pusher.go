// Package pusher posts signed Entropy Packets from the Collector to the
// Gateway's /push endpoint, retrying transient failures with jittered
// exponential backoff and short-circuiting via a circuit breaker once the
// Gateway looks consistently unreachable. Grounded on qrng-core's
// retry.rs RetryPolicy, reimplemented with cenkalti/backoff/v4, the
// dependency the teacher already carries for its own reconnect logic.
package pusher

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/qrng-diode/qrng-diode/internal/breaker"
	"github.com/qrng-diode/qrng-diode/internal/protocol"
)

// Config controls the Pusher's target and retry behavior.
type Config struct {
	PushURL       string
	RequestTimeout time.Duration
	MaxAttempts   uint64
	BreakerThreshold uint32
	BreakerReset  time.Duration
}

// Pusher delivers packets to the Gateway over HTTP.
type Pusher struct {
	cfg     Config
	client  *http.Client
	breaker *breaker.Breaker
	logger  *zap.Logger
}

// New builds a Pusher.
func New(cfg Config, logger *zap.Logger) *Pusher {
	return &Pusher{
		cfg:     cfg,
		client:  &http.Client{},
		breaker: breaker.New(cfg.BreakerThreshold, cfg.BreakerReset),
		logger:  logger,
	}
}

// ErrCircuitOpen is returned by Push when the breaker is currently open.
var ErrCircuitOpen = errors.New("pusher: circuit breaker open, skipping push")

// Push encodes and delivers one packet, retrying transient HTTP failures
// up to MaxAttempts times with exponential backoff and jitter. It never
// blocks past ctx's deadline.
func (p *Pusher) Push(ctx context.Context, pkt *protocol.Packet) error {
	if p.breaker.IsOpen() {
		return ErrCircuitOpen
	}

	body := pkt.Encode()
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.cfg.MaxAttempts)

	err := backoff.Retry(func() error {
		return p.pushOnce(ctx, body)
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		p.breaker.RecordFailure()
		return err
	}
	p.breaker.RecordSuccess()
	return nil
}

func (p *Pusher) pushOnce(ctx context.Context, body []byte) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.cfg.PushURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(errors.Wrap(err, "pusher: building request"))
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("pusher: request failed, will retry", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil
	case http.StatusConflict, http.StatusGone:
		// Replay or stale: retrying the same bytes cannot succeed.
		return backoff.Permanent(errors.Errorf("pusher: gateway rejected packet permanently, status %d", resp.StatusCode))
	case http.StatusBadRequest, http.StatusUnauthorized:
		return backoff.Permanent(errors.Errorf("pusher: gateway rejected malformed/unauthenticated packet, status %d", resp.StatusCode))
	default:
		return errors.Errorf("pusher: unexpected gateway status %d", resp.StatusCode)
	}
}
