package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/SimplyPrint/card-gateway/internal/config"
	"github.com/SimplyPrint/card-gateway/internal/driver"
	"github.com/SimplyPrint/card-gateway/internal/driver/pcsc"
	"github.com/SimplyPrint/card-gateway/internal/gateway"
)

// newInvoker picks the driver backend for cfg.Driver.Mode.
func newInvoker(cfg config.Config) driver.Invoker {
	if cfg.Driver.Mode == config.ModePCSC {
		return pcsc.NewInvoker(cfg.Driver.Timeout.Duration)
	}
	return &driver.ProcessInvoker{
		Command: cfg.Driver.Command,
		Args:    cfg.Driver.Args,
		Dir:     cfg.Driver.Dir,
		Env:     cfg.Driver.Env,
		Timeout: cfg.Driver.Timeout.Duration,
	}
}

// newRegistry returns a registry carrying the Go runtime and process
// collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// dispatcherDeps are the optional collaborators of a dispatcher.
type dispatcherDeps struct {
	history         *gateway.HistoryStore
	registry        prometheus.Registerer
	readerIndex     func() int
	onHistoryChange func()
}

func newDispatcher(cfg config.Config, deps dispatcherDeps) *gateway.Dispatcher {
	history := deps.history
	if history == nil {
		history = gateway.NewHistoryStore()
	}
	var metrics *gateway.Metrics
	if deps.registry != nil {
		metrics = gateway.NewMetrics(deps.registry, history)
	}
	return gateway.NewDispatcher(gateway.Options{
		Invoker:          newInvoker(cfg),
		History:          history,
		Metrics:          metrics,
		SerializeReaders: cfg.Gateway.SerializeReaders,
		SpawnRate:        cfg.Gateway.SpawnRate,
		SpawnBurst:       cfg.Gateway.SpawnBurst,
		ReaderIndex:      deps.readerIndex,
		OnHistoryChange:  deps.onHistoryChange,
	})
}
