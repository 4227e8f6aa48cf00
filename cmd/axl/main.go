// axl is the axledger node daemon. It takes an optional TOML
// configuration file path as its only argument; everything else is
// configuration, not flags.
//
//	axl [config.toml]
//
// Exit status is 0 on a clean shutdown and nonzero on unrecoverable
// storage or configuration errors.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/axledger/axledger/log"
	"github.com/axledger/axledger/metrics"
	"github.com/axledger/axledger/node"
)

var logger = log.NewModuleLogger(log.ModuleCmd)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := &node.DefaultConfig
	if len(os.Args) > 1 {
		loaded, err := node.LoadConfig(os.Args[1])
		if err != nil {
			logger.Error("Configuration error", "err", err)
			return 2
		}
		cfg = loaded
	}

	n, err := node.New(cfg)
	if err != nil {
		logger.Error("Failed to assemble node", "err", err)
		return 1
	}
	if err := n.Start(); err != nil {
		logger.Error("Failed to start node", "err", err)
		n.Stop()
		return 1
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logger.Info("Shutting down", "signal", sig)

	n.Stop()
	return 0
}

func serveMetrics(addr string) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewPrometheusCollector(nil, "node"))
	logger.Info("Serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})); err != nil {
		logger.Warn("Metrics endpoint failed", "err", err)
	}
}
