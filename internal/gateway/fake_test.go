package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/SimplyPrint/card-gateway/internal/driver"
)

// fakeInvoker stands in for the driver and counts how often it was started.
type fakeInvoker struct {
	mu    sync.Mutex
	calls []driver.Request
	fn    func(ctx context.Context, req driver.Request) (*driver.Output, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, req driver.Request) (*driver.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func (f *fakeInvoker) spawns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeInvoker) last() driver.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

// replying returns an invoker that always prints doc on stdout.
func replying(doc map[string]any) *fakeInvoker {
	return &fakeInvoker{fn: func(context.Context, driver.Request) (*driver.Output, error) {
		b, err := json.Marshal(doc)
		if err != nil {
			panic(err)
		}
		return &driver.Output{Stdout: b}, nil
	}}
}

func stdout(s string) *driver.Output {
	return &driver.Output{Stdout: []byte(s)}
}
