package mcp

import (
	"bufio"
	"encoding/json"
	"io"

	"go.uber.org/zap"
)

// ServeStdio runs the newline-delimited JSON-RPC 2.0 loop over the given
// reader/writer, one request per line, until r is exhausted or returns an
// error. A single Session backs the whole process lifetime, matching a
// stdio MCP client's single long-lived connection.
func (d *Dispatcher) ServeStdio(r io.Reader, w io.Writer) error {
	session := d.sessions.GetOrCreate("stdio")
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = encoder.Encode(errorResponse(nil, CodeInvalidParams, "malformed request: "+err.Error()))
			continue
		}

		if !session.TryEnter() {
			_ = encoder.Encode(errorResponse(req.ID, CodeServerError, "session busy"))
			continue
		}
		resp := d.Dispatch(req)
		session.Leave()
		session.Touch()

		if err := encoder.Encode(resp); err != nil {
			d.logger.Error("mcp: failed to write stdio response", zap.Error(err))
			return err
		}
	}
	return scanner.Err()
}
