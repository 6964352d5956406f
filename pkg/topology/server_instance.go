package topology

import (
	"net"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServerInstance identifies a single storage node that holds replicas
// of one or more segments. It is comparable, so that it can be used as
// a key in maps and connection pools.
type ServerInstance struct {
	Hostname string
	Port     int
}

// ParseServerInstance converts a string of the form "host:port" to a
// ServerInstance.
func ParseServerInstance(address string) (ServerInstance, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return ServerInstance{}, status.Errorf(codes.InvalidArgument, "Invalid server address %#v: %s", address, err)
	}
	if host == "" {
		return ServerInstance{}, status.Errorf(codes.InvalidArgument, "Server address %#v has no hostname", address)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return ServerInstance{}, status.Errorf(codes.InvalidArgument, "Invalid port in server address %#v", address)
	}
	return ServerInstance{Hostname: host, Port: int(port)}, nil
}

// Address returns the network address of the server, in a form that
// can be passed to dialers.
func (s ServerInstance) Address() string {
	return net.JoinHostPort(s.Hostname, strconv.Itoa(s.Port))
}

func (s ServerInstance) String() string {
	return s.Address()
}

// Less provides a total order on server instances, so that iteration
// over servers can be made deterministic.
func (s ServerInstance) Less(other ServerInstance) bool {
	if s.Hostname != other.Hostname {
		return s.Hostname < other.Hostname
	}
	return s.Port < other.Port
}

// ServerList is an ordered list of candidate servers that hold
// replicas of a segment.
type ServerList []ServerInstance

// Key returns a string that uniquely identifies the contents of the
// list, including its order. Go slices cannot be used as map keys,
// which is why this key is used to index merged segment groups.
func (l ServerList) Key() string {
	parts := make([]string, 0, len(l))
	for _, server := range l {
		parts = append(parts, server.Address())
	}
	return strings.Join(parts, ",")
}

// SegmentGroup is a set of segments together with the ordered list of
// servers that are capable of serving all of them.
type SegmentGroup struct {
	Segments *SegmentIDSet
	Servers  ServerList
}
