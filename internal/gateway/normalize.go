package gateway

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/SimplyPrint/card-gateway/internal/driver"
)

const (
	parseFailureMessage   = "Failed to parse response"
	missingFlagMessage    = "driver response missing success flag"
	genericFailureMessage = "Operation failed"
)

// Normalize classifies one driver run. It has no side effects, so decoding the
// same output twice yields two equal results and nothing else.
func Normalize(kind driver.Kind, out *driver.Output) *Result {
	if out == nil {
		return Failed(kind, FailureDecode, parseFailureMessage)
	}

	var doc Document
	dec := json.NewDecoder(bytes.NewReader(out.Stdout))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil || doc == nil || dec.More() {
		return Failed(kind, FailureDecode, decodeFailureMessage(out))
	}

	res := &Result{
		Kind:     kind,
		Payload:  doc,
		Trace:    decodeTrace(doc["trace"]),
		Duration: out.Duration,
	}

	ok, isBool := doc.Bool("success")
	switch {
	case !isBool:
		res.Failure = FailureDecode
		res.Message = missingFlagMessage
	case !ok:
		res.Failure = FailureApplication
		res.Message = applicationMessage(doc)
	default:
		res.Success = true
	}
	return res
}

// decodeFailureMessage prefers stderr, then stdout, then a fixed text.
func decodeFailureMessage(out *driver.Output) string {
	if s := strings.TrimSpace(string(out.Stderr)); s != "" {
		return s
	}
	if s := strings.TrimSpace(string(out.Stdout)); s != "" {
		return s
	}
	return parseFailureMessage
}

func applicationMessage(doc Document) string {
	if s := doc.String("error"); s != "" {
		return s
	}
	if s := doc.String("message"); s != "" {
		return s
	}
	return genericFailureMessage
}

func decodeTrace(v any) []driver.TraceEntry {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	trace := make([]driver.TraceEntry, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		e := driver.TraceEntry{}
		e.TX, _ = m["tx"].(string)
		e.RX, _ = m["rx"].(string)
		e.SW, _ = m["sw"].(string)
		trace = append(trace, e.Normalized())
	}
	return trace
}
