package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/SimplyPrint/card-gateway/internal/driver"
	"github.com/SimplyPrint/card-gateway/internal/gateway"
	"github.com/SimplyPrint/card-gateway/internal/service"
	"github.com/SimplyPrint/card-gateway/internal/settings"
)

// fakeDriver answers every invocation with a canned JSON document and
// remembers what it was asked.
type fakeDriver struct {
	mu    sync.Mutex
	calls []driver.Request
	reply func(driver.Request) string
}

func (f *fakeDriver) Invoke(ctx context.Context, req driver.Request) (*driver.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	reply := f.reply
	f.mu.Unlock()

	if reply == nil {
		reply = defaultReply
	}
	return &driver.Output{Stdout: []byte(reply(req))}, nil
}

func (f *fakeDriver) spawns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDriver) last() driver.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return driver.Request{}
	}
	return f.calls[len(f.calls)-1]
}

func defaultReply(req driver.Request) string {
	switch req.Kind {
	case driver.KindListReaders:
		return `{"success":true,"readers":["ACS ACR1252 PICC","ACS ACR1252 SAM"],"count":2}`
	case driver.KindReadUID:
		return `{"success":true,"uid":"04 A1 B2 C3","uid_hex":"04A1B2C3","reader":"ACS ACR1252 PICC","sw":"90 00"}`
	case driver.KindRawAPDU:
		return `{"success":true,"tx":"00 A4 04 00","rx":"","sw":"90 00","trace":[{"tx":"00 A4 04 00","rx":"","sw":"90 00"}]}`
	}
	return `{"success":true}`
}

type fakeService struct {
	installed bool
	failWith  error
}

func (f *fakeService) Install() error {
	if f.failWith != nil {
		return f.failWith
	}
	if f.installed {
		return service.ErrAlreadyInstalled
	}
	f.installed = true
	return nil
}

func (f *fakeService) Uninstall() error {
	if !f.installed {
		return service.ErrNotInstalled
	}
	f.installed = false
	return nil
}

func (f *fakeService) IsInstalled() bool { return f.installed }

func (f *fakeService) Status() (string, error) {
	if f.installed {
		return "running", nil
	}
	return "not installed", nil
}

type testEnv struct {
	server   *Server
	driver   *fakeDriver
	settings *settings.Store
	service  *fakeService
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}

	fd := &fakeDriver{}
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	history := gateway.NewHistoryStore()
	d := gateway.NewDispatcher(gateway.Options{
		Invoker:          fd,
		History:          history,
		SerializeReaders: true,
		ReaderIndex:      store.ReaderIndex,
		OnHistoryChange:  HistoryNotifier(hub, history),
	})

	svc := &fakeService{}
	opts.Dispatcher = d
	opts.Hub = hub
	if opts.Settings == nil {
		opts.Settings = store
	}
	if opts.Service == nil {
		opts.Service = svc
	}
	return &testEnv{
		server:   NewServer(opts),
		driver:   fd,
		settings: store,
		service:  svc,
	}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}
