package gateway

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/SimplyPrint/card-gateway/internal/driver"
	"github.com/SimplyPrint/card-gateway/internal/logging"
)

const tracerName = "github.com/SimplyPrint/card-gateway/internal/gateway"

// Options configures a Dispatcher. Only Invoker is required.
type Options struct {
	Invoker driver.Invoker
	History *HistoryStore
	Metrics *Metrics
	Tracer  trace.Tracer

	// SerializeReaders queues card operations so only one driver talks to
	// the readers at a time.
	SerializeReaders bool

	// SpawnRate limits driver invocations per second; 0 disables the limit.
	SpawnRate  float64
	SpawnBurst int

	// ReaderIndex supplies the operational reader for requests that leave it
	// as driver.AutoReader. Nil means driver.DefaultReaderIndex.
	ReaderIndex func() int

	// OnHistoryChange is called after a history record is added or the
	// history is cleared.
	OnHistoryChange func()

	Now func() time.Time
}

// Dispatcher validates requests, runs them through the driver and turns the
// outcome into a Result. It never panics past Execute and never retries.
type Dispatcher struct {
	invoker         driver.Invoker
	history         *HistoryStore
	metrics         *Metrics
	tracer          trace.Tracer
	serialize       bool
	limiter         *rate.Limiter
	readerIndex     func() int
	onHistoryChange func()
	now             func() time.Time
	slot            cardSlot
}

func NewDispatcher(opts Options) *Dispatcher {
	d := &Dispatcher{
		invoker:         opts.Invoker,
		history:         opts.History,
		metrics:         opts.Metrics,
		tracer:          opts.Tracer,
		serialize:       opts.SerializeReaders,
		readerIndex:     opts.ReaderIndex,
		onHistoryChange: opts.OnHistoryChange,
		now:             opts.Now,
	}
	if d.history == nil {
		d.history = NewHistoryStore()
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	if d.now == nil {
		d.now = time.Now
	}
	if opts.SpawnRate > 0 {
		burst := opts.SpawnBurst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.SpawnRate), burst)
	}
	return d
}

// History returns the UID history store.
func (d *Dispatcher) History() *HistoryStore {
	return d.history
}

// ClearHistory empties the UID history.
func (d *Dispatcher) ClearHistory() {
	d.history.Clear()
	logging.Info(logging.CatCard, "History cleared", nil)
	if d.onHistoryChange != nil {
		d.onHistoryChange()
	}
}

// Execute runs one operation to completion and always returns a Result.
func (d *Dispatcher) Execute(ctx context.Context, req driver.Request) (res *Result) {
	start := time.Now()
	id := uuid.NewString()
	var span trace.Span

	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, debug.Stack(), "dispatch "+string(req.Kind))
			res = Failed(req.Kind, FailureInternal, fmt.Sprintf("internal error: %v", r))
		}
		res.ID = id
		res.Duration = time.Since(start)
		if span != nil {
			endSpan(span, res)
		}
		d.metrics.observe(res)
		d.logResult(req, res)
	}()

	req, invalid := d.prepare(req)
	if invalid != nil {
		return invalid
	}

	ctx, span = d.tracer.Start(ctx, "card."+string(req.Kind), trace.WithAttributes(
		attribute.String("card.operation_id", id),
		attribute.String("card.operation", string(req.Kind)),
		attribute.Int("card.reader", req.Reader),
	))

	return d.run(ctx, req)
}

func endSpan(span trace.Span, res *Result) {
	if res.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetAttributes(attribute.String("card.failure", string(res.Failure)))
		span.SetStatus(codes.Error, res.Message)
	}
	span.End()
}

func (d *Dispatcher) run(ctx context.Context, req driver.Request) *Result {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return contextFailure(req.Kind, ctxErr, "waiting for the rate limit")
			}
			return Failed(req.Kind, FailureBusy, "Too many card operations, try again shortly")
		}
	}

	if req.Kind.TouchesCard() && d.serialize {
		gauge := d.metrics.readerGauge(strconv.Itoa(req.Reader))
		if gauge != nil {
			gauge.Inc()
			defer gauge.Dec()
		}
		release, err := d.slot.acquire(ctx)
		if err != nil {
			return contextFailure(req.Kind, err, "waiting for reader")
		}
		defer release()
	}

	out, err := d.invoker.Invoke(ctx, req)
	res := d.classify(req, out, err)

	switch req.Kind {
	case driver.KindListReaders:
		annotateReaders(res)
	case driver.KindRawAPDU, driver.KindType4Read, driver.KindType4Write:
		qualify(res, req)
	case driver.KindReadUID:
		if res.Success {
			d.recordHistory(res)
		}
	}
	return res
}

func (d *Dispatcher) classify(req driver.Request, out *driver.Output, err error) *Result {
	var spawnErr *driver.SpawnError
	switch {
	case err == nil:
		return Normalize(req.Kind, out)
	case errors.As(err, &spawnErr):
		logging.CaptureError(err, "driver spawn", map[string]any{"operation": string(req.Kind)})
		return Failed(req.Kind, FailureSpawn, err.Error())
	case errors.Is(err, driver.ErrTimeout):
		logging.CaptureMessage("Card driver timed out", logging.LevelWarn, map[string]any{"operation": string(req.Kind)})
		res := Failed(req.Kind, FailureTimeout, capitalize(err.Error()))
		if out != nil {
			res.Payload = Document{"stderr": strings.TrimSpace(string(out.Stderr))}
		}
		return res
	case errors.Is(err, driver.ErrCanceled):
		return Failed(req.Kind, FailureCanceled, "Request canceled")
	}
	return Failed(req.Kind, FailureSpawn, err.Error())
}

func contextFailure(kind driver.Kind, err error, doing string) *Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return Failed(kind, FailureTimeout, "Timed out "+doing)
	}
	return Failed(kind, FailureCanceled, "Request canceled while "+doing)
}

func (d *Dispatcher) recordHistory(res *Result) {
	d.history.Add(HistoryRecord{
		UID:       res.Payload.String("uid"),
		Reader:    res.Payload.String("reader"),
		Timestamp: d.now().UTC(),
	})
	if d.onHistoryChange != nil {
		d.onHistoryChange()
	}
}

// prepare applies defaults and validation. A non-nil Result means the request
// was rejected before reaching the driver.
func (d *Dispatcher) prepare(req driver.Request) (driver.Request, *Result) {
	if _, ok := driver.ParseKind(string(req.Kind)); !ok {
		return req, Failed(req.Kind, FailureValidation, fmt.Sprintf("Unknown operation: %q", req.Kind))
	}

	if req.Kind.TouchesCard() && req.Reader < 0 {
		req.Reader = d.defaultReader()
	}

	invalid := func(msg string) (driver.Request, *Result) {
		return req, Failed(req.Kind, FailureValidation, msg)
	}

	switch req.Kind {
	case driver.KindListReaders:
		req.Reader = driver.AutoReader

	case driver.KindLiteInfo:
		req.Version = strings.TrimSpace(req.Version)
		if req.Version == "" {
			req.Version = driver.DefaultLiteVersion
		}

	case driver.KindRawAPDU:
		req.APDU = driver.NormalizeHex(req.APDU)
		if req.APDU == "" {
			return invalid("APDU hex string required")
		}
		if !driver.ValidHex(req.APDU) {
			return invalid("APDU must be an even-length hex string")
		}

	case driver.KindType4Info, driver.KindType4Read, driver.KindType4Write:
		req.AID = driver.NormalizeHex(req.AID)
		if req.AID == "" {
			req.AID = driver.DefaultAID
		}
		if !driver.ValidHex(req.AID) {
			return invalid("AID must be an even-length hex string")
		}
		if req.Offset < 0 {
			req.Offset = driver.DefaultReadOffset
		}

		switch req.Kind {
		case driver.KindType4Read:
			if req.Length <= 0 {
				req.Length = driver.DefaultReadLength
			}
		case driver.KindType4Write:
			req.Data = driver.NormalizeHex(req.Data)
			if req.Data == "" {
				return invalid("Data hex string required")
			}
			if !driver.ValidHex(req.Data) {
				return invalid("Data must be an even-length hex string")
			}
		}
	}
	return req, nil
}

func (d *Dispatcher) defaultReader() int {
	if d.readerIndex != nil {
		if idx := d.readerIndex(); idx >= 0 {
			return idx
		}
	}
	return driver.DefaultReaderIndex
}

// qualify marks whether the card accepted the command. The driver document's
// success only says the exchange happened; nominal says the card answered 9000.
func qualify(res *Result, req driver.Request) {
	if res.Payload == nil {
		return
	}

	sw := driver.NormalizeStatusWord(res.Payload.String("sw"))
	if sw == "" && len(res.Trace) > 0 {
		sw = res.Trace[len(res.Trace)-1].SW
	}
	if sw != "" {
		res.Payload["sw"] = sw
	} else {
		delete(res.Payload, "sw")
	}

	if req.Kind == driver.KindRawAPDU {
		tx := driver.NormalizeHex(res.Payload.String("tx"))
		if tx == "" {
			tx = req.APDU
		}
		res.Payload["tx"] = tx
		if rx, ok := res.Payload["rx"].(string); ok {
			res.Payload["rx"] = driver.NormalizeHex(rx)
		}
	}

	nominal := sw == driver.StatusOK
	res.Payload["nominal"] = nominal
	res.Payload["operation_ok"] = res.Success && nominal
}

func (d *Dispatcher) logResult(req driver.Request, res *Result) {
	data := map[string]any{
		"id":        res.ID,
		"operation": string(req.Kind),
		"duration":  res.Duration.String(),
		"trace":     len(res.Trace),
	}
	if req.Kind.TouchesCard() {
		data["reader"] = req.Reader
	}

	if res.Success {
		logging.Info(logging.CatCard, req.Kind.Label()+" succeeded", data)
		return
	}
	data["failure"] = string(res.Failure)
	data["error"] = res.Message
	switch res.Failure {
	case FailureSpawn, FailureTimeout, FailureDecode, FailureInternal:
		logging.Error(logging.CatDriver, req.Kind.Label()+" failed", data)
	default:
		logging.Warn(logging.CatCard, req.Kind.Label()+" failed", data)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
