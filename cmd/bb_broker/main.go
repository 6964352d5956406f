package main

import (
	"context"
	"log"
	"os"

	"github.com/buildbarn/bb-dispatch/pkg/broker"
	"github.com/buildbarn/bb-dispatch/pkg/clock"
	"github.com/buildbarn/bb-dispatch/pkg/configuration"
	bb_http "github.com/buildbarn/bb-dispatch/pkg/http"
	bb_otel "github.com/buildbarn/bb-dispatch/pkg/otel"
	"github.com/buildbarn/bb-dispatch/pkg/pool"
	"github.com/buildbarn/bb-dispatch/pkg/program"
	"github.com/buildbarn/bb-dispatch/pkg/scattergather"
	"github.com/buildbarn/bb-dispatch/pkg/transport"
	"github.com/buildbarn/bb-dispatch/pkg/util"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"go.opentelemetry.io/otel"
)

func main() {
	program.RunMain(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
		if len(os.Args) != 2 {
			log.Fatal("Usage: bb_broker bb_broker.jsonnet")
		}
		config, err := configuration.GetBrokerConfiguration(os.Args[1])
		if err != nil {
			return util.StatusWrapf(err, "Failed to read configuration from %s", os.Args[1])
		}

		otel.SetTextMapPropagator(bb_otel.NewTextMapPropagator())
		if config.Tracing != nil {
			tracerProvider, err := bb_otel.NewTracerProviderFromConfiguration(ctx, config.Tracing, transport.BaseClientDialer)
			if err != nil {
				return util.StatusWrap(err, "Failed to create tracer provider")
			}
			otel.SetTracerProvider(tracerProvider)
			dependenciesGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
				<-ctx.Done()
				// Flush spans of queries that completed during
				// shutdown.
				return tracerProvider.Shutdown(context.Background())
			})
		}

		routingTable, err := broker.NewRoutingTableFromConfiguration(config.RoutingTable)
		if err != nil {
			return util.StatusWrap(err, "Failed to create routing table")
		}
		replicaSelection, err := config.NewReplicaSelection()
		if err != nil {
			return err
		}
		granularity, err := config.NewGranularity()
		if err != nil {
			return err
		}
		gatherMode, err := config.NewGatherMode()
		if err != nil {
			return err
		}
		defaultTimeout, err := config.NewDefaultTimeout()
		if err != nil {
			return err
		}

		// Connections to storage servers.
		dialOptions, callOptions, err := transport.NewClientOptions(config.Compression)
		if err != nil {
			return util.StatusWrap(err, "Failed to create gRPC client options")
		}
		poolConfiguration, err := config.PoolConfiguration()
		if err != nil {
			return err
		}
		connectionPool := pool.NewBoundedKeyedPool(
			transport.NewGRPCConnectionFactory(transport.BaseClientDialer, dialOptions, callOptions, clock.SystemClock),
			poolConfiguration,
			clock.SystemClock,
			util.DefaultErrorLogger)
		dependenciesGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
			<-ctx.Done()
			return connectionPool.Close()
		})

		scatterGather := scattergather.NewMetricsScatterGather(
			scattergather.NewScatterGather(
				connectionPool,
				clock.SystemClock,
				util.DefaultErrorLogger,
				otel.GetTracerProvider()),
			clock.SystemClock,
			"query")

		router := mux.NewRouter()
		broker.NewQueryHandler(
			scatterGather,
			routingTable,
			replicaSelection,
			broker.QueryDefaults{
				Granularity: granularity,
				GatherMode:  gatherMode,
				Timeout:     defaultTimeout,
			},
			uuid.NewRandom,
			util.DefaultErrorLogger).RegisterRoutes(router)
		bb_http.NewServersAndServe(
			config.HTTPListenAddresses,
			bb_http.NewMetricsHandler(router, "Query"),
			siblingsGroup)

		diagnosticsRouter := mux.NewRouter()
		util.RegisterAdministrativeHTTPEndpoints(diagnosticsRouter)
		bb_http.NewServersAndServe(
			[]string{config.DiagnosticsHTTPListenAddress},
			diagnosticsRouter,
			siblingsGroup)

		log.Printf("Serving queries for %d segments", len(routingTable.Segments()))
		return nil
	})
}
