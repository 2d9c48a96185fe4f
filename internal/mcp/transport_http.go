package mcp

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// maxRequestBody bounds how much a single POST /mcp body may contain.
const maxRequestBody = 4 << 20

// ServeHTTP handles POST /mcp: one JSON-RPC 2.0 request body per call,
// sharing the Dispatch logic the stdio transport uses. A Session is
// created per Mcp-Session-Id header value (per remote address when the
// header is absent) so concurrent callers don't serialize behind each
// other's in-flight guard.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		writeHTTPError(w, errorResponse(nil, CodeInvalidParams, "failed to read request body"))
		return
	}
	if len(body) > maxRequestBody {
		writeHTTPError(w, errorResponse(nil, CodeInvalidParams, "request body too large"))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeHTTPError(w, errorResponse(nil, CodeInvalidParams, "malformed request: "+err.Error()))
		return
	}

	session := d.sessions.GetOrCreate(sessionKey(r))
	if !session.TryEnter() {
		writeHTTPError(w, errorResponse(req.ID, CodeServerError, "session busy"))
		return
	}
	resp := d.Dispatch(req)
	session.Leave()
	session.Touch()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		d.logger.Error("mcp: failed to write http response", zap.Error(err))
	}
}

func sessionKey(r *http.Request) string {
	if id := r.Header.Get("Mcp-Session-Id"); id != "" {
		return id
	}
	return r.RemoteAddr
}

func writeHTTPError(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK) // JSON-RPC errors travel in the body, not the transport status
	json.NewEncoder(w).Encode(resp)
}
