// Package api implements the Gateway's Request Router: the authenticated
// HTTP surface external callers use to draw quantum entropy, plus the
// unauthenticated health and metrics endpoints.
package api

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/qrng-diode/qrng-diode/internal/buffer"
	"github.com/qrng-diode/qrng-diode/internal/entropyerr"
	"github.com/qrng-diode/qrng-diode/internal/metrics"
	"github.com/qrng-diode/qrng-diode/internal/montecarlo"
	"github.com/qrng-diode/qrng-diode/internal/ratelimit"
)

const (
	maxRandomBytes = 1 << 20 // 1,048,576
	maxIntegers    = 10_000
	maxFloats      = 10_000
	maxUUIDs       = 1_000
)

// Config configures the Request Router.
type Config struct {
	Principals                    []string
	RateLimit                     ratelimit.Config
	MinHealthyFillPercent         float64
	MetricsPublic                 bool
	InsufficientEntropyRetryAfter time.Duration
}

// Router serves the Gateway's public API.
type Router struct {
	cfg       Config
	buffer    *buffer.Ring
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
	startTime time.Time

	requestsServed atomic.Uint64
	bytesServed    atomic.Uint64
}

// New builds a Router bound to the given Distribution Buffer.
func New(cfg Config, dist *buffer.Ring, logger *zap.Logger) *Router {
	return &Router{
		cfg:       cfg,
		buffer:    dist,
		limiter:   ratelimit.New(cfg.RateLimit),
		logger:    logger,
		startTime: time.Now(),
	}
}

// Handler builds the net/http.ServeMux routing table, following the
// teacher's own plain-mux convention (no web framework anywhere in the
// example corpus).
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/random", rt.withAuth(rt.handleRandom, "fetch_bytes"))
	mux.HandleFunc("/api/integers", rt.withAuth(rt.handleIntegers, "fetch_integers"))
	mux.HandleFunc("/api/floats", rt.withAuth(rt.handleFloats, "fetch_floats"))
	mux.HandleFunc("/api/uuid", rt.withAuth(rt.handleUUID, "fetch_uuids"))
	mux.HandleFunc("/api/status", rt.withAuth(rt.handleStatus, "status"))
	mux.HandleFunc("/api/test/monte-carlo", rt.withAuth(rt.handleMonteCarlo, "monte_carlo"))
	mux.HandleFunc("/health", rt.handleHealth)
	if rt.cfg.MetricsPublic {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		mux.HandleFunc("/metrics", rt.withAuth(func(w http.ResponseWriter, r *http.Request) {
			promhttp.Handler().ServeHTTP(w, r)
		}, "metrics"))
	}
	return mux
}

// withAuth enforces bearer authentication, rate limiting, and per-request
// latency/outcome metrics around a Request Router operation.
func (rt *Router) withAuth(next http.HandlerFunc, operation string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			metrics.RequestLatencySeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		}()

		credential, ok := extractCredential(r)
		if !ok || !isKnownPrincipal(rt.cfg.Principals, credential) {
			metrics.RecordRequest(operation, "unauthorized")
			writeError(w, entropyerr.ErrUnauthorized, 0)
			return
		}

		allowed, retryAfter := rt.limiter.Allow(credential)
		if !allowed {
			metrics.RecordRateLimited(operation)
			metrics.RecordRequest(operation, "rate_limited")
			writeError(w, entropyerr.ErrRateLimited, retryAfter)
			return
		}

		next(w, r)
		rt.requestsServed.Add(1)
	}
}

func (rt *Router) handleRandom(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := strconv.Atoi(q.Get("bytes"))
	if err != nil || n < 1 || n > maxRandomBytes {
		rt.fail(w, "fetch_bytes", entropyerr.ErrInvalidRequest, 0)
		return
	}
	encoding := q.Get("encoding")
	if encoding == "" {
		encoding = "hex"
	}

	data, err := rt.buffer.Read(n)
	if err != nil {
		rt.fail(w, "fetch_bytes", err, rt.cfg.InsufficientEntropyRetryAfter)
		return
	}
	metrics.RecordBytesServed(n)
	rt.bytesServed.Add(uint64(n))

	switch encoding {
	case "hex":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(hex.EncodeToString(data)))
	case "base64":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(base64.StdEncoding.EncodeToString(data)))
	case "raw", "binary":
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
	default:
		rt.fail(w, "fetch_bytes", entropyerr.ErrInvalidRequest, 0)
		return
	}
	metrics.RecordRequest("fetch_bytes", "ok")
}

func (rt *Router) handleIntegers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count, err := strconv.Atoi(q.Get("count"))
	if err != nil || count < 1 || count > maxIntegers {
		rt.fail(w, "fetch_integers", entropyerr.ErrInvalidRequest, 0)
		return
	}
	min, errMin := strconv.ParseInt(q.Get("min"), 10, 64)
	max, errMax := strconv.ParseInt(q.Get("max"), 10, 64)
	if errMin != nil || errMax != nil || min > max {
		rt.fail(w, "fetch_integers", entropyerr.ErrInvalidRequest, 0)
		return
	}

	out := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		v, err := FetchInteger(rt.buffer, min, max)
		if err != nil {
			rt.fail(w, "fetch_integers", err, rt.cfg.InsufficientEntropyRetryAfter)
			return
		}
		out = append(out, v)
	}
	metrics.RecordRequest("fetch_integers", "ok")
	writeJSON(w, map[string]any{"integers": out})
}

func (rt *Router) handleFloats(w http.ResponseWriter, r *http.Request) {
	count, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil || count < 1 || count > maxFloats {
		rt.fail(w, "fetch_floats", entropyerr.ErrInvalidRequest, 0)
		return
	}
	out := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		f, err := FetchFloat(rt.buffer)
		if err != nil {
			rt.fail(w, "fetch_floats", err, rt.cfg.InsufficientEntropyRetryAfter)
			return
		}
		out = append(out, f)
	}
	metrics.RecordRequest("fetch_floats", "ok")
	writeJSON(w, map[string]any{"floats": out})
}

func (rt *Router) handleUUID(w http.ResponseWriter, r *http.Request) {
	countParam := r.URL.Query().Get("count")
	count := 1
	if countParam != "" {
		n, err := strconv.Atoi(countParam)
		if err != nil {
			rt.fail(w, "fetch_uuids", entropyerr.ErrInvalidRequest, 0)
			return
		}
		count = n
	}
	if count < 1 || count > maxUUIDs {
		rt.fail(w, "fetch_uuids", entropyerr.ErrInvalidRequest, 0)
		return
	}

	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id, err := FetchUUIDv4(rt.buffer)
		if err != nil {
			rt.fail(w, "fetch_uuids", err, rt.cfg.InsufficientEntropyRetryAfter)
			return
		}
		out = append(out, FormatUUID(id))
	}
	metrics.RecordRequest("fetch_uuids", "ok")
	writeJSON(w, map[string]any{"uuids": out})
}

// staleDataWarningSeconds is the freshness age above which handleStatus
// surfaces a warning, matching the original gateway's fixed 300-second
// threshold.
const staleDataWarningSeconds = 300.0

func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	fillPercent := rt.buffer.FillPercent()
	freshness := 0.0
	if age, ok := rt.buffer.OldestAge(); ok {
		freshness = age.Seconds()
	}
	uptime := time.Since(rt.startTime).Seconds()
	requestsServed := rt.requestsServed.Load()
	requestsPerSecond := 0.0
	if uptime > 0 {
		requestsPerSecond = float64(requestsServed) / uptime
	}

	warnings := []string{}
	if fillPercent < rt.cfg.MinHealthyFillPercent {
		warnings = append(warnings, "buffer fill below minimum healthy threshold")
	}
	if freshness > staleDataWarningSeconds {
		warnings = append(warnings, fmt.Sprintf("data is %.0f seconds old", freshness))
	}

	metrics.RecordRequest("status", "ok")
	writeJSON(w, map[string]any{
		"fill_percent":          fillPercent,
		"bytes_available":       rt.buffer.Len(),
		"freshness_seconds":     freshness,
		"uptime_seconds":        uptime,
		"total_bytes_served":    rt.bytesServed.Load(),
		"total_requests_served": requestsServed,
		"requests_per_second":   requestsPerSecond,
		"warnings":              warnings,
	})
}

func (rt *Router) handleMonteCarlo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	iterations, err := strconv.Atoi(r.URL.Query().Get("iterations"))
	if err != nil {
		rt.fail(w, "monte_carlo", entropyerr.ErrInvalidRequest, 0)
		return
	}
	result, err := montecarlo.Estimate(rt.buffer, iterations)
	if err != nil {
		rt.fail(w, "monte_carlo", err, rt.cfg.InsufficientEntropyRetryAfter)
		return
	}
	metrics.RecordRequest("monte_carlo", "ok")
	writeJSON(w, map[string]any{
		"estimated_pi":   result.EstimatedPi,
		"absolute_error": result.AbsoluteError,
		"error_percent":  result.ErrorPercent,
		"quality":        result.Quality,
	})
}

// handleHealth is unauthenticated: 200 when fill percent meets the
// configured minimum, 503 (Degraded) otherwise.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	fillPercent := rt.buffer.FillPercent()
	metrics.SetBufferFillPercent("distribution", fillPercent)
	if fillPercent < rt.cfg.MinHealthyFillPercent {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]any{"status": "degraded", "fill_percent": fillPercent})
		return
	}
	writeJSON(w, map[string]any{"status": "ok", "fill_percent": fillPercent})
}

// fail records the failed outcome and writes the mapped error response.
func (rt *Router) fail(w http.ResponseWriter, operation string, err error, retryAfter time.Duration) {
	metrics.RecordRequest(operation, "error")
	writeError(w, err, retryAfter)
}

func writeError(w http.ResponseWriter, err error, retryAfter time.Duration) {
	status, body := mapError(err)
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+0.999)))
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func mapError(err error) (int, map[string]any) {
	switch {
	case errors.Is(err, entropyerr.ErrInvalidRequest), errors.Is(err, entropyerr.ErrArithmeticRange):
		return http.StatusBadRequest, map[string]any{"error": "invalid_request", "message": err.Error()}
	case errors.Is(err, entropyerr.ErrUnauthorized):
		return http.StatusUnauthorized, map[string]any{"error": "unauthorized"}
	case errors.Is(err, entropyerr.ErrRateLimited):
		return http.StatusTooManyRequests, map[string]any{"error": "rate_limited"}
	case errors.Is(err, entropyerr.ErrInsufficientEntropy):
		return http.StatusServiceUnavailable, map[string]any{"error": "insufficient_entropy"}
	default:
		return http.StatusInternalServerError, map[string]any{"error": "internal_error"}
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(body)
}
