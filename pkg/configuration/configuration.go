package configuration

import (
	"time"

	"github.com/buildbarn/bb-dispatch/pkg/eviction"
	"github.com/buildbarn/bb-dispatch/pkg/future"
	"github.com/buildbarn/bb-dispatch/pkg/otel"
	"github.com/buildbarn/bb-dispatch/pkg/pool"
	"github.com/buildbarn/bb-dispatch/pkg/selection"
	"github.com/buildbarn/bb-dispatch/pkg/topology"
	"github.com/buildbarn/bb-dispatch/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PoolConfiguration controls the number of connections the broker
// maintains to each storage server.
type PoolConfiguration struct {
	MaximumConnectionsPerServer     int64 `json:"maximumConnectionsPerServer"`
	MaximumIdleConnectionsPerServer int   `json:"maximumIdleConnectionsPerServer"`
	// "LEAST_RECENTLY_USED" (default), "FIRST_IN_FIRST_OUT" or
	// "RANDOM_REPLACEMENT".
	IdleConnectionEvictionPolicy string `json:"idleConnectionEvictionPolicy"`
}

// ReplicaSelectionConfiguration names the policy that is used to pick
// one server out of the replicas of a segment. Weights are only used
// by the rendezvous policy and are keyed by "host:port".
type ReplicaSelectionConfiguration struct {
	Policy  string            `json:"policy"`
	Weights map[string]uint32 `json:"weights"`
}

// BrokerConfiguration is the top-level configuration of bb_broker.
type BrokerConfiguration struct {
	// Addresses on which the query API is served.
	HTTPListenAddresses []string `json:"httpListenAddresses"`
	// Address on which /metrics, /-/healthy and /debug/pprof are
	// served.
	DiagnosticsHTTPListenAddress string `json:"diagnosticsHttpListenAddress"`

	// Segments and the ordered list of servers holding replicas of
	// them, as "host:port".
	RoutingTable map[string][]string `json:"routingTable"`

	ReplicaSelection ReplicaSelectionConfiguration `json:"replicaSelection"`
	// Either "SEGMENT_ID_SET" or "SEGMENT_ID".
	Granularity string `json:"granularity"`
	// Either "SHORTCIRCUIT_AND", "AND" or "IGNORE".
	GatherMode string `json:"gatherMode"`
	// Timeout applied to queries that don't specify one, as a Go
	// duration string. Left empty, queries have no timeout.
	DefaultTimeout string `json:"defaultTimeout"`

	Pool PoolConfiguration `json:"pool"`
	// Compression used on connections to servers: "zstd", "gzip"
	// or empty.
	Compression string `json:"compression"`

	// If set, spans are exported to an OTLP collector.
	Tracing *otel.TracingConfiguration `json:"tracing"`
}

// GetBrokerConfiguration reads a Jsonnet configuration file and applies
// default values to fields that were left unset.
func GetBrokerConfiguration(path string) (*BrokerConfiguration, error) {
	var configuration BrokerConfiguration
	if err := util.UnmarshalConfigurationFromFile(path, &configuration); err != nil {
		return nil, err
	}
	setDefaultBrokerValues(&configuration)
	return &configuration, nil
}

// GetBrokerConfigurationFromSnippet is identical to
// GetBrokerConfiguration, except that the Jsonnet source is provided
// directly.
func GetBrokerConfigurationFromSnippet(snippet string, environment []string) (*BrokerConfiguration, error) {
	var configuration BrokerConfiguration
	if err := util.UnmarshalConfigurationFromSnippet("<snippet>", snippet, environment, &configuration); err != nil {
		return nil, err
	}
	setDefaultBrokerValues(&configuration)
	return &configuration, nil
}

func setDefaultBrokerValues(configuration *BrokerConfiguration) {
	if len(configuration.HTTPListenAddresses) == 0 {
		configuration.HTTPListenAddresses = []string{":8080"}
	}
	if configuration.DiagnosticsHTTPListenAddress == "" {
		configuration.DiagnosticsHTTPListenAddress = ":9980"
	}
	if configuration.Pool.MaximumConnectionsPerServer <= 0 {
		configuration.Pool.MaximumConnectionsPerServer = 16
	}
	if configuration.Pool.MaximumIdleConnectionsPerServer == 0 {
		configuration.Pool.MaximumIdleConnectionsPerServer = 4
	}
}

// PoolConfiguration converts the pool settings to the form accepted by
// pool.NewBoundedKeyedPool().
func (c *BrokerConfiguration) PoolConfiguration() (pool.Configuration, error) {
	evictionPolicy, err := eviction.NewCacheReplacementPolicyFromConfiguration(c.Pool.IdleConnectionEvictionPolicy)
	if err != nil {
		return pool.Configuration{}, util.StatusWrap(err, "Invalid idle connection eviction policy")
	}
	return pool.Configuration{
		MaximumConnectionsPerServer:     c.Pool.MaximumConnectionsPerServer,
		MaximumIdleConnectionsPerServer: c.Pool.MaximumIdleConnectionsPerServer,
		IdleConnectionEvictionPolicy:    evictionPolicy,
	}, nil
}

// NewReplicaSelection creates the replica selection policy named in
// the configuration.
func (c *BrokerConfiguration) NewReplicaSelection() (selection.ReplicaSelection, error) {
	weights := make(map[topology.ServerInstance]uint32, len(c.ReplicaSelection.Weights))
	for address, weight := range c.ReplicaSelection.Weights {
		server, err := topology.ParseServerInstance(address)
		if err != nil {
			return nil, util.StatusWrap(err, "Invalid replica selection weight")
		}
		weights[server] = weight
	}
	return selection.NewReplicaSelectionFromConfiguration(c.ReplicaSelection.Policy, weights)
}

// NewGranularity returns the default replica selection granularity.
func (c *BrokerConfiguration) NewGranularity() (selection.Granularity, error) {
	return selection.NewGranularityFromConfiguration(c.Granularity)
}

// NewGatherMode returns the default gather mode.
func (c *BrokerConfiguration) NewGatherMode() (future.GatherMode, error) {
	return future.NewGatherModeFromConfiguration(c.GatherMode)
}

// NewDefaultTimeout returns the default query timeout. A negative
// duration is returned if no timeout is configured.
func (c *BrokerConfiguration) NewDefaultTimeout() (time.Duration, error) {
	if c.DefaultTimeout == "" {
		return -1, nil
	}
	timeout, err := time.ParseDuration(c.DefaultTimeout)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "Invalid default timeout %#v: %s", c.DefaultTimeout, err)
	}
	if timeout < 0 {
		return 0, status.Errorf(codes.InvalidArgument, "Default timeout %#v is negative", c.DefaultTimeout)
	}
	return timeout, nil
}
