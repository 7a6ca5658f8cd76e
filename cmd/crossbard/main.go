package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sebas/crossbar/internal/banner"
	"github.com/sebas/crossbar/internal/core/backend"
	"github.com/sebas/crossbar/internal/core/call"
	"github.com/sebas/crossbar/internal/core/config"
	"github.com/sebas/crossbar/internal/core/events"
	"github.com/sebas/crossbar/internal/core/metrics"
	"github.com/sebas/crossbar/internal/logger"
)

func main() {
	cfg := config.Load()

	outputs := []io.Writer{os.Stdout}
	if cfg.LogFile != "" {
		outputs = append(outputs, logger.RotatingFile(cfg.LogFile, cfg.LogMaxSizeMB))
	}
	logger.InitLogger(outputs...)
	logger.SetLevel(cfg.LogLevel)

	prov, err := config.LoadProvisioning(cfg.ProvisioningPath, cfg.Call)
	if err != nil {
		logger.Error("Failed to load provisioning", "path", cfg.ProvisioningPath, "error", err)
		os.Exit(1)
	}

	banner.Print("Crossbar Call Control", []banner.ConfigLine{
		{Label: "Node", Value: prov.Call.NodeID},
		{Label: "Provisioning", Value: cfg.ProvisioningPath},
		{Label: "Lines", Value: strconv.Itoa(len(prov.Lines))},
		{Label: "Devices", Value: strconv.Itoa(len(prov.Devices))},
		{Label: "Metrics", Value: cfg.MetricsAddr},
		{Label: "Log level", Value: cfg.LogLevel},
	})

	run(cfg, prov)
}

func run(cfg *config.Config, prov *config.Provisioning) {
	reg := prometheus.NewRegistry()
	set := metrics.New(reg)

	pub := events.NewChannelPublisher(1024)
	defer pub.Close()

	// Every provisioned line is dialable through the loopback backend.
	lineNames := make([]string, 0, len(prov.Lines))
	for _, l := range prov.Lines {
		lineNames = append(lineNames, l.Name)
	}
	adapter := backend.NewLoopback(lineNames...)
	core := call.New(prov.Call, adapter,
		call.WithPublisher(pub),
		call.WithMetrics(set),
	)
	if err := core.Provision(prov); err != nil {
		logger.Error("Provisioning failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go consumeEvents(ctx, pub)
	go serveMetrics(cfg.MetricsAddr, reg)

	logger.Info("Crossbar running",
		"node", prov.Call.NodeID,
		"lines", len(prov.Lines),
		"devices", len(prov.Devices))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal, shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	core.Close(shutdownCtx)
	cancel()

	time.Sleep(200 * time.Millisecond)
}

// consumeEvents drains the publisher buffer into the log. A real deployment
// replaces this with a broker forwarder.
func consumeEvents(ctx context.Context, pub *events.ChannelPublisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-pub.Events():
			if !ok {
				return
			}
			logger.Debug("Event", "type", string(ev.Type()), "subject", ev.Subject())
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("Metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server stopped", "error", err)
	}
}
