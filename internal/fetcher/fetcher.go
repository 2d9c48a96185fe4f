// Package fetcher implements the per-source HTTP client that polls one
// QRNG appliance endpoint on its configured period, validates what comes
// back, and retries transient failures with jittered exponential backoff
// before quarantining a source that keeps failing. Grounded on
// qrng-core's fetcher.rs (retry-wrapped fetch_once + validate_response),
// reimplemented with cenkalti/backoff/v4 for the retry loop, the same
// dependency the teacher repo already carries.
package fetcher

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/qrng-diode/qrng-diode/internal/entropy"
)

// QuarantineThreshold is the number of consecutive fetch failures after
// which a source is quarantined and excluded from Mixer windows.
const QuarantineThreshold = 5

// MaxBackoff caps the exponential backoff between retry attempts within a
// single fetch cycle.
const MaxBackoff = 60 * time.Second

var (
	htmlPrefixes = [][]byte{
		[]byte("<!doctype html>"),
		[]byte("<!DOCTYPE html>"),
		[]byte("<html>"),
	}
)

// Fetcher polls a single Source on its own goroutine and reports chunks
// onto Out.
type Fetcher struct {
	Source *entropy.Source
	Client *http.Client
	Out    chan<- entropy.RawChunk
	Logger *zap.Logger
}

// New builds a Fetcher with a sane default HTTP client (connection
// pooling and a 30s per-request timeout), mirroring the original
// Quantis client's pool settings.
func New(source *entropy.Source, out chan<- entropy.RawChunk, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		Source: source,
		Client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Out:    out,
		Logger: logger,
	}
}

// Run polls the source on its configured period until ctx is cancelled.
// Each tick performs one retrying fetch; a successful fetch is sent to
// Out, a failed one (after retries are exhausted) records a failure
// against the source and potentially quarantines it.
func (f *Fetcher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.Source.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick(ctx)
		}
	}
}

func (f *Fetcher) tick(ctx context.Context) {
	data, err := f.fetchWithRetry(ctx)
	if err != nil {
		if justQuarantined := f.Source.RecordFailure(QuarantineThreshold); justQuarantined {
			f.Logger.Warn("source quarantined after repeated failures",
				zap.String("source_id", f.Source.ID),
				zap.Int("consecutive_failures", f.Source.ConsecutiveFailures()),
			)
		} else {
			f.Logger.Debug("fetch failed", zap.String("source_id", f.Source.ID), zap.Error(err))
		}
		return
	}

	f.Source.RecordSuccess()
	select {
	case f.Out <- entropy.RawChunk{Data: data, SourceID: f.Source.ID, At: time.Now()}:
	case <-ctx.Done():
	}
}

// fetchWithRetry wraps fetchOnce in jittered exponential backoff, bounded
// by the context and by MaxBackoff per attempt.
func (f *Fetcher) fetchWithRetry(ctx context.Context) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = MaxBackoff
	bo.RandomizationFactor = 0.2        // jitter of at most ±20%
	bo.MaxElapsedTime = f.Source.Period // never retry past the next scheduled tick

	var out []byte
	op := func() error {
		data, err := f.fetchOnce(ctx)
		if err != nil {
			return err
		}
		out = data
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Source.Endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(errors.Wrap(err, "fetcher: building request"))
	}
	q := req.URL.Query()
	q.Set("size", strconv.Itoa(f.Source.ChunkSize))
	req.URL.RawQuery = q.Encode()

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetcher: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("fetcher: unexpected HTTP status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "fetcher: reading body")
	}

	if err := f.validate(data); err != nil {
		// Validation failures are returned as ordinary retryable errors:
		// they are retried like transport errors for as long as this
		// tick's backoff budget allows.
		return nil, err
	}
	return data, nil
}

func (f *Fetcher) validate(data []byte) error {
	if len(data) != f.Source.ChunkSize {
		return errors.Errorf("fetcher: received %d bytes, expected %d", len(data), f.Source.ChunkSize)
	}
	if len(data) == 0 {
		return errors.New("fetcher: received empty response")
	}
	for _, prefix := range htmlPrefixes {
		if len(data) >= len(prefix) && string(data[:len(prefix)]) == string(prefix) {
			return errors.New("fetcher: received HTML content instead of binary random data")
		}
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	max := 0
	for _, c := range counts {
		if c > max {
			max = c
		}
	}
	threshold := int(float64(len(data)) * 0.9)
	if max > threshold {
		return errors.Errorf("fetcher: low entropy detected, a single byte value accounts for %d/%d bytes", max, len(data))
	}
	return nil
}
