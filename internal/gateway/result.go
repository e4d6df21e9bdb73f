// Package gateway turns driver output into uniform operation results and owns
// the gateway's in-memory state: UID history, per-session transaction logs and
// the per-kind in-flight guards.
package gateway

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/SimplyPrint/card-gateway/internal/driver"
)

// FailureKind says where in the pipeline an operation failed.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureSpawn       FailureKind = "spawn"
	FailureDecode      FailureKind = "decode"
	FailureApplication FailureKind = "application"
	FailureTimeout     FailureKind = "timeout"
	FailureValidation  FailureKind = "validation"
	FailureBusy        FailureKind = "busy"
	FailureCanceled    FailureKind = "canceled"
	FailureInternal    FailureKind = "internal"
)

// Document is a decoded driver reply. Keys are whatever the driver emitted.
type Document map[string]any

// String returns doc[key] if it is a string.
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Bool returns doc[key] if it is a bool.
func (d Document) Bool(key string) (bool, bool) {
	b, ok := d[key].(bool)
	return b, ok
}

func (d Document) clone() Document {
	out := make(Document, len(d)+4)
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Result is the outcome of one operation. Payload is the driver document passed
// through unchanged; Trace is the same document's trace in driver order, with
// hex fields normalized.
type Result struct {
	ID       string
	Kind     driver.Kind
	Success  bool
	Message  string
	Failure  FailureKind
	Payload  Document
	Trace    []driver.TraceEntry
	Duration time.Duration
}

// Succeeded builds a successful result.
func Succeeded(kind driver.Kind, payload Document, trace []driver.TraceEntry) *Result {
	return &Result{Kind: kind, Success: true, Payload: payload, Trace: trace}
}

// Failed builds a failure result with no driver payload.
func Failed(kind driver.Kind, fk FailureKind, msg string) *Result {
	return &Result{Kind: kind, Failure: fk, Message: msg}
}

// MarshalJSON renders the result as the driver document with the gateway's
// fields layered on top: success, error and failure for failures, and the
// normalized trace.
func (r *Result) MarshalJSON() ([]byte, error) {
	m := r.Payload.clone()
	m["success"] = r.Success
	if r.Success {
		delete(m, "failure")
	} else {
		m["error"] = r.Message
		m["failure"] = string(r.Failure)
	}
	if r.Trace != nil {
		m["trace"] = r.Trace
	} else if r.Kind.TouchesCard() {
		m["trace"] = []driver.TraceEntry{}
	}
	return json.Marshal(m)
}

// IntOrDefault reads a non-negative integer out of a loosely typed value the
// way request bodies and query strings arrive. Anything else yields def.
func IntOrDefault(v any, def int) int {
	var n int
	switch x := v.(type) {
	case nil:
		return def
	case int:
		n = x
	case float64:
		if x != float64(int(x)) {
			return def
		}
		n = int(x)
	case json.Number:
		i, err := strconv.Atoi(x.String())
		if err != nil {
			return def
		}
		n = i
	case string:
		if x == "" {
			return def
		}
		i, err := strconv.Atoi(x)
		if err != nil {
			return def
		}
		n = i
	default:
		return def
	}
	if n < 0 {
		return def
	}
	return n
}
