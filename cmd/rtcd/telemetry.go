package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/mem"
	"go.opentelemetry.io/otel"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"pkt.systems/pslog"
)

// telemetryBundle mirrors the teacher's telemetry.go shape (meter
// provider + optional metrics HTTP listener) trimmed to what rtcd needs:
// no tracer provider; rtcd exports metrics only, and the gRPC transport
// emits no traces.
type telemetryBundle struct {
	meterProvider *sdkmetric.MeterProvider
	metricsServer *http.Server
	metricsLn     net.Listener
}

func startTelemetry(ctx context.Context, clusterName, metricsListen string, logger pslog.Logger) (*telemetryBundle, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String("rtc-master"),
		semconv.ServiceInstanceIDKey.String(clusterName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("telemetry: start prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	bundle := &telemetryBundle{meterProvider: provider}

	metricsListen = strings.TrimSpace(metricsListen)
	if metricsListen == "" {
		return bundle, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", healthzHandler(logger))

	ln, err := net.Listen("tcp", metricsListen)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: listen %s: %w", metricsListen, err)
	}
	srv := &http.Server{Handler: mux}
	bundle.metricsServer = srv
	bundle.metricsLn = ln
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Warn("telemetry.metrics.serve_failed", "error", err)
		}
	}()
	logger.Info("telemetry.metrics.enabled", "listen", metricsListen)
	return bundle, nil
}

// healthzHandler reports resource pressure the way the teacher's
// shutdown guard reports drain state (internal/core/guard.go), using
// gopsutil to sample system memory instead of an application-level flag.
func healthzHandler(logger pslog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vm, err := mem.VirtualMemoryWithContext(r.Context())
		if err != nil {
			logger.Warn("healthz.memory_sample_failed", "error", err)
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok (memory sample unavailable)")
			return
		}
		if vm.UsedPercent > 95 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "memory pressure: %.1f%% used\n", vm.UsedPercent)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok (memory %.1f%% used)\n", vm.UsedPercent)
	}
}

func (b *telemetryBundle) shutdown(ctx context.Context) {
	if b == nil {
		return
	}
	if b.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = b.metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	if b.meterProvider != nil {
		_ = b.meterProvider.Shutdown(ctx)
	}
}
