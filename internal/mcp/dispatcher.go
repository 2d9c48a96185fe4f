package mcp

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/qrng-diode/qrng-diode/internal/buffer"
	"github.com/qrng-diode/qrng-diode/internal/entropyerr"
	"github.com/qrng-diode/qrng-diode/internal/gateway/api"
	"github.com/qrng-diode/qrng-diode/internal/montecarlo"
	"github.com/qrng-diode/qrng-diode/internal/ratelimit"
)

// Config configures the MCP bridge.
type Config struct {
	// SharedRateLimit selects whether this bridge's calls are metered
	// through the limiter passed to New (the Gateway builds a separate
	// Limiter with the Router's rate-limit settings for it). Default true:
	// MCP sessions are typically one caller per process, so one bucket
	// keyed by the bridge's configured credential is sufficient.
	SharedRateLimit bool
	// Credential is the principal identity the bridge authenticates as
	// when SharedRateLimit is enabled.
	Credential string
}

// Dispatcher executes JSON-RPC 2.0 requests against the Distribution
// Buffer in-process, unlike the original bridge, which was a thin HTTP
// client back to its own gateway, this bridge IS the gateway process.
type Dispatcher struct {
	cfg      Config
	buffer   *buffer.Ring
	limiter  *ratelimit.Limiter
	sessions *sessionStore
	logger   *zap.Logger

	fetchInteger func(*buffer.Ring, int64, int64) (int64, error)
	fetchFloat   func(*buffer.Ring) (float64, error)
	fetchUUID    func(*buffer.Ring) ([16]byte, error)
	formatUUID   func([16]byte) string
	estimate     func(*buffer.Ring, int) (montecarlo.Result, error)
}

// New builds a Dispatcher bound to the Gateway's Distribution Buffer.
// limiter may be nil when Config.SharedRateLimit is false.
func New(cfg Config, dist *buffer.Ring, limiter *ratelimit.Limiter, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:          cfg,
		buffer:       dist,
		limiter:      limiter,
		sessions:     newSessionStore(),
		logger:       logger,
		fetchInteger: api.FetchInteger,
		fetchFloat:   api.FetchFloat,
		fetchUUID:    api.FetchUUIDv4,
		formatUUID:   api.FormatUUID,
		estimate:     montecarlo.Estimate,
	}
}

// Dispatch handles one decoded JSON-RPC 2.0 request and returns its
// response, applying the shared rate limiter (if configured) before any
// tool executes.
func (d *Dispatcher) Dispatch(req Request) Response {
	if d.cfg.SharedRateLimit && d.limiter != nil {
		allowed, _ := d.limiter.Allow(d.cfg.Credential)
		if !allowed {
			return errorResponse(req.ID, CodeServerError, "rate limited")
		}
	}

	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "qrng-mcp", "version": "1.0"},
		})
	case "tools/list":
		return resultResponse(req.ID, toolsListResult{Tools: catalog})
	case "tools/call":
		return d.dispatchToolCall(req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (d *Dispatcher) dispatchToolCall(req Request) Response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "malformed tools/call params: "+err.Error())
	}

	handler, ok := d.handlerFor(params.Name)
	if !ok {
		return errorResponse(req.ID, CodeInvalidParams, "unknown tool: "+params.Name)
	}

	result, rpcErr := handler(params.Arguments)
	if rpcErr != nil {
		return Response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return resultResponse(req.ID, textResult(result))
}

func (d *Dispatcher) handlerFor(name string) (func(json.RawMessage) (any, *Error), bool) {
	switch name {
	case "get_random_bytes":
		return d.callGetRandomBytes, true
	case "get_random_integers":
		return d.callGetRandomIntegers, true
	case "get_random_floats":
		return d.callGetRandomFloats, true
	case "get_random_uuid":
		return d.callGetRandomUUID, true
	case "get_status":
		return d.callGetStatus, true
	case "get_data_quality":
		return d.callGetDataQuality, true
	default:
		return nil, false
	}
}

func isInsufficientEntropy(err error) bool {
	return errors.Is(err, entropyerr.ErrInsufficientEntropy)
}

func insufficientEntropyError(err error) *Error {
	if isInsufficientEntropy(err) {
		return &Error{Code: CodeServerError, Message: "insufficient entropy in distribution buffer"}
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}

// sessionTimeout is how long an HTTP session may sit idle before it is
// evicted from the session store; a later call with the same key gets a
// fresh Session.
const sessionTimeout = 30 * time.Minute
