package mock

//go:generate mockgen -destination clock.go -package mock github.com/buildbarn/bb-dispatch/pkg/clock Clock,Timer
//go:generate mockgen -destination pool.go -package mock github.com/buildbarn/bb-dispatch/pkg/pool KeyedPool
//go:generate mockgen -destination scattergather.go -package mock github.com/buildbarn/bb-dispatch/pkg/scattergather ScatterGather
//go:generate mockgen -destination selection.go -package mock github.com/buildbarn/bb-dispatch/pkg/selection ReplicaSelection
//go:generate mockgen -destination transport.go -package mock github.com/buildbarn/bb-dispatch/pkg/transport Connection,ConnectionFactory
//go:generate mockgen -destination util.go -package mock github.com/buildbarn/bb-dispatch/pkg/util ErrorLogger
