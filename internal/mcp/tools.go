package mcp

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
)

const (
	maxBytesPerCall    = 65536
	maxIntegersPerCall = 1000
	maxFloatsPerCall   = 1000
	maxUUIDsPerCall    = 100

	defaultQualityIterations = 500_000
)

// catalog is the fixed tool list advertised by tools/list: the five
// spec.md requires, plus get_data_quality, carried over from the
// original bridge's tool set though the distilled spec dropped it.
var catalog = []Tool{
	{
		Name:        "get_random_bytes",
		Description: "Fetch random bytes from the quantum entropy stream",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"count":    map[string]any{"type": "integer", "description": "Number of bytes to fetch (1-65536)"},
				"encoding": map[string]any{"type": "string", "description": "Output encoding: hex or base64", "enum": []string{"hex", "base64"}},
			},
			"required": []string{"count"},
		},
	},
	{
		Name:        "get_random_integers",
		Description: "Generate random integers in a specified range",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"count": map[string]any{"type": "integer", "description": "Number of integers to generate (1-1000)"},
				"min":   map[string]any{"type": "integer", "description": "Minimum value (inclusive), default 0"},
				"max":   map[string]any{"type": "integer", "description": "Maximum value (inclusive), default 100"},
			},
			"required": []string{"count"},
		},
	},
	{
		Name:        "get_random_floats",
		Description: "Generate random floats uniformly distributed in [0, 1)",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"count": map[string]any{"type": "integer", "description": "Number of floats to generate (1-1000)"},
			},
			"required": []string{"count"},
		},
	},
	{
		Name:        "get_random_uuid",
		Description: "Generate random UUID v4 values",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"count": map[string]any{"type": "integer", "description": "Number of UUIDs to generate (1-100), default 1"},
			},
		},
	},
	{
		Name:        "get_status",
		Description: "Get entropy buffer status and health",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "get_data_quality",
		Description: "Test the quality of quantum random data using Monte Carlo pi estimation",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
}

type getRandomBytesArgs struct {
	Count    int    `json:"count"`
	Encoding string `json:"encoding,omitempty"`
}

func (d *Dispatcher) callGetRandomBytes(raw json.RawMessage) (any, *Error) {
	var args getRandomBytesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "malformed arguments: " + err.Error()}
	}
	if args.Count < 1 || args.Count > maxBytesPerCall {
		return nil, &Error{Code: CodeInvalidParams, Message: "count must be between 1 and 65536"}
	}
	encoding := args.Encoding
	if encoding == "" {
		encoding = "hex"
	}
	if encoding != "hex" && encoding != "base64" {
		return nil, &Error{Code: CodeInvalidParams, Message: "encoding must be 'hex' or 'base64'"}
	}

	data, err := d.buffer.Read(args.Count)
	if err != nil {
		return nil, insufficientEntropyError(err)
	}
	if encoding == "base64" {
		return base64.StdEncoding.EncodeToString(data), nil
	}
	return hex.EncodeToString(data), nil
}

type getRandomIntegersArgs struct {
	Count int    `json:"count"`
	Min   *int64 `json:"min,omitempty"`
	Max   *int64 `json:"max,omitempty"`
}

func (d *Dispatcher) callGetRandomIntegers(raw json.RawMessage) (any, *Error) {
	var args getRandomIntegersArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "malformed arguments: " + err.Error()}
	}
	if args.Count < 1 || args.Count > maxIntegersPerCall {
		return nil, &Error{Code: CodeInvalidParams, Message: "count must be between 1 and 1000"}
	}
	min, max := int64(0), int64(100)
	if args.Min != nil {
		min = *args.Min
	}
	if args.Max != nil {
		max = *args.Max
	}
	if min >= max {
		return nil, &Error{Code: CodeInvalidParams, Message: "min must be less than max"}
	}

	out := make([]int64, 0, args.Count)
	for i := 0; i < args.Count; i++ {
		v, err := d.fetchInteger(d.buffer, min, max)
		if err != nil {
			return nil, insufficientEntropyError(err)
		}
		out = append(out, v)
	}
	return out, nil
}

type getRandomFloatsArgs struct {
	Count int `json:"count"`
}

func (d *Dispatcher) callGetRandomFloats(raw json.RawMessage) (any, *Error) {
	var args getRandomFloatsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "malformed arguments: " + err.Error()}
	}
	if args.Count < 1 || args.Count > maxFloatsPerCall {
		return nil, &Error{Code: CodeInvalidParams, Message: "count must be between 1 and 1000"}
	}

	out := make([]float64, 0, args.Count)
	for i := 0; i < args.Count; i++ {
		f, err := d.fetchFloat(d.buffer)
		if err != nil {
			return nil, insufficientEntropyError(err)
		}
		out = append(out, f)
	}
	return out, nil
}

type getRandomUUIDArgs struct {
	Count *int `json:"count,omitempty"`
}

func (d *Dispatcher) callGetRandomUUID(raw json.RawMessage) (any, *Error) {
	var args getRandomUUIDArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: "malformed arguments: " + err.Error()}
		}
	}
	count := 1
	if args.Count != nil {
		count = *args.Count
	}
	if count < 1 || count > maxUUIDsPerCall {
		return nil, &Error{Code: CodeInvalidParams, Message: "count must be between 1 and 100"}
	}

	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id, err := d.fetchUUID(d.buffer)
		if err != nil {
			return nil, insufficientEntropyError(err)
		}
		out = append(out, d.formatUUID(id))
	}
	return out, nil
}

func (d *Dispatcher) callGetStatus(json.RawMessage) (any, *Error) {
	fillPercent := d.buffer.FillPercent()
	freshness := 0.0
	if age, ok := d.buffer.OldestAge(); ok {
		freshness = age.Seconds()
	}
	return map[string]any{
		"fill_percent":      fillPercent,
		"bytes_available":   d.buffer.Len(),
		"freshness_seconds": freshness,
	}, nil
}

func (d *Dispatcher) callGetDataQuality(json.RawMessage) (any, *Error) {
	result, err := d.estimate(d.buffer, defaultQualityIterations)
	if err != nil {
		if isInsufficientEntropy(err) {
			return map[string]any{
				"status":  "unavailable",
				"message": "insufficient entropy in distribution buffer; quality test will be available once the buffer fills",
			}, nil
		}
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return map[string]any{
		"estimated_pi":   result.EstimatedPi,
		"absolute_error": result.AbsoluteError,
		"error_percent":  result.ErrorPercent,
		"quality":        result.Quality,
	}, nil
}
