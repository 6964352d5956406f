package http

import (
	"context"
	"net/http"
	"sync"

	"github.com/buildbarn/bb-dispatch/pkg/program"
	"github.com/buildbarn/bb-dispatch/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	handlerPrometheusMetrics sync.Once

	handlerRequestsDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "http",
			Name:      "handler_requests_duration_seconds",
			Help:      "Amount of time spent per HTTP request, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-3, 6, 2),
		},
		[]string{"name", "code", "method"})
)

// NewMetricsHandler creates an adapter for http.Handler that adds basic
// instrumentation in the form of Prometheus metrics.
func NewMetricsHandler(base http.Handler, name string) http.Handler {
	handlerPrometheusMetrics.Do(func() {
		prometheus.MustRegister(handlerRequestsDurationSeconds)
	})

	return promhttp.InstrumentHandlerDuration(
		handlerRequestsDurationSeconds.MustCurryWith(prometheus.Labels{"name": name}),
		base)
}

// NewServersAndServe spawns HTTP servers as part of a program.Group,
// one for each of the provided listen addresses. The servers are
// closed once the context associated with the group is canceled.
func NewServersAndServe(listenAddresses []string, handler http.Handler, group program.Group) {
	for _, listenAddress := range listenAddresses {
		server := &http.Server{
			Addr:    listenAddress,
			Handler: handler,
		}
		group.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
			<-ctx.Done()
			return server.Close()
		})
		group.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				return util.StatusWrapf(err, "Failed to launch HTTP server %#v", server.Addr)
			}
			return nil
		})
	}
}
