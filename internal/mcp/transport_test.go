package mcp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeStdioHandlesOneLinePerRequest(t *testing.T) {
	d, buf := newTestDispatcher(t, 1<<20)
	fillDispatcherBuffer(t, buf, 16)

	reqLine := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n"
	var out bytes.Buffer
	err := d.ServeStdio(strings.NewReader(reqLine), &out)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestServeStdioReportsMalformedLine(t *testing.T) {
	d, _ := newTestDispatcher(t, 1<<20)
	var out bytes.Buffer
	err := d.ServeStdio(strings.NewReader("not json\n"), &out)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestServeHTTPRejectsNonPost(t *testing.T) {
	d, _ := newTestDispatcher(t, 1<<20)
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeHTTPDispatchesToolsCall(t *testing.T) {
	d, buf := newTestDispatcher(t, 1<<20)
	fillDispatcherBuffer(t, buf, 16)

	params := toolCallParams{Name: "get_status", Arguments: json.RawMessage(`{}`)}
	paramBytes, err := json.Marshal(params)
	require.NoError(t, err)
	envelope := Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/call", Params: paramBytes}
	payload, err := json.Marshal(envelope)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestSessionSingleFlightRejectsReentry(t *testing.T) {
	session := NewSession("s1")
	require.True(t, session.TryEnter())
	assert.False(t, session.TryEnter())
	session.Leave()
	assert.True(t, session.TryEnter())
}
