package scattergather

import (
	"context"
	"sync"

	"github.com/buildbarn/bb-dispatch/pkg/clock"
	"github.com/buildbarn/bb-dispatch/pkg/util"
	"github.com/prometheus/client_golang/prometheus"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	scatterGatherPrometheusMetrics sync.Once

	scatterGatherDispatchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "dispatch",
			Name:      "scatter_gather_dispatch_duration_seconds",
			Help:      "Amount of time spent dispatching requests to servers, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-4, 6, 2),
		},
		[]string{"name", "grpc_code"})
	scatterGatherGatherDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "dispatch",
			Name:      "scatter_gather_gather_duration_seconds",
			Help:      "Amount of time between dispatching requests and all responses being gathered, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-4, 6, 2),
		},
		[]string{"name", "grpc_code"})
	scatterGatherFanOut = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "dispatch",
			Name:      "scatter_gather_fan_out",
			Help:      "Number of servers to which a single request was sent.",
			Buckets:   prometheus.ExponentialBuckets(1.0, 2.0, 10),
		},
		[]string{"name"})
)

type metricsScatterGather struct {
	base  ScatterGather
	clock clock.Clock
	name  string

	fanOut prometheus.Observer
}

// NewMetricsScatterGather creates a decorator for ScatterGather that
// exposes Prometheus metrics on the duration of the dispatch and
// gather phases, and the number of servers to which requests are sent.
func NewMetricsScatterGather(base ScatterGather, clock clock.Clock, name string) ScatterGather {
	scatterGatherPrometheusMetrics.Do(func() {
		prometheus.MustRegister(scatterGatherDispatchDurationSeconds)
		prometheus.MustRegister(scatterGatherGatherDurationSeconds)
		prometheus.MustRegister(scatterGatherFanOut)
	})

	return &metricsScatterGather{
		base:   base,
		clock:  clock,
		name:   name,
		fanOut: scatterGatherFanOut.WithLabelValues(name),
	}
}

func (sg *metricsScatterGather) ScatterGather(ctx context.Context, request Request) (*CompositeResponse, error) {
	timeStart := sg.clock.Now()
	response, err := sg.base.ScatterGather(ctx, request)
	timeDispatched := sg.clock.Now()
	if err != nil {
		scatterGatherDispatchDurationSeconds.WithLabelValues(sg.name, status.Code(err).String()).Observe(timeDispatched.Sub(timeStart).Seconds())
		return nil, err
	}

	// Responses without any constituents have settled by the time
	// they are returned. If dispatching failed, they carry the error.
	code := codes.OK
	if response.NumFutures() == 0 {
		_, err := response.Get()
		code = status.Code(err)
	}
	scatterGatherDispatchDurationSeconds.WithLabelValues(sg.name, code.String()).Observe(timeDispatched.Sub(timeStart).Seconds())
	sg.fanOut.Observe(float64(response.NumFutures()))
	response.AddListener(func() {
		_, err := response.Get()
		scatterGatherGatherDurationSeconds.WithLabelValues(sg.name, status.Code(err).String()).Observe(sg.clock.Now().Sub(timeDispatched).Seconds())
	})
	return response, nil
}
