package broker

import (
	"github.com/buildbarn/bb-dispatch/pkg/scattergather"
	"github.com/buildbarn/bb-dispatch/pkg/topology"
	"github.com/buildbarn/bb-dispatch/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// SegmentQuery is the payload that the broker sends to a single
// server. It contains the query and the subset of segments the server
// is expected to evaluate it against.
type SegmentQuery struct {
	RequestID string
	Query     string
	Segments  []topology.SegmentID
}

// MarshalSegmentQuery encodes a SegmentQuery as a serialized
// google.protobuf.Struct, so that servers written in any language can
// decode it without a dedicated schema.
func MarshalSegmentQuery(q *SegmentQuery) ([]byte, error) {
	segments := make([]any, 0, len(q.Segments))
	for _, segment := range q.Segments {
		segments = append(segments, string(segment))
	}
	s, err := structpb.NewStruct(map[string]any{
		"requestId": q.RequestID,
		"query":     q.Query,
		"segments":  segments,
	})
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to convert segment query")
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to marshal segment query")
	}
	return data, nil
}

func getStringField(s *structpb.Struct, name string) (string, error) {
	v, ok := s.Fields[name]
	if !ok {
		return "", nil
	}
	sv, ok := v.Kind.(*structpb.Value_StringValue)
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "Field %#v is not a string", name)
	}
	return sv.StringValue, nil
}

// UnmarshalSegmentQuery decodes a payload created by
// MarshalSegmentQuery.
func UnmarshalSegmentQuery(data []byte) (*SegmentQuery, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to unmarshal segment query")
	}
	requestID, err := getStringField(&s, "requestId")
	if err != nil {
		return nil, err
	}
	query, err := getStringField(&s, "query")
	if err != nil {
		return nil, err
	}
	q := &SegmentQuery{
		RequestID: requestID,
		Query:     query,
	}
	if v, ok := s.Fields["segments"]; ok {
		lv, ok := v.Kind.(*structpb.Value_ListValue)
		if !ok {
			return nil, status.Error(codes.InvalidArgument, "Field \"segments\" is not a list")
		}
		for i, element := range lv.ListValue.Values {
			sv, ok := element.Kind.(*structpb.Value_StringValue)
			if !ok {
				return nil, status.Errorf(codes.InvalidArgument, "Segment at index %d is not a string", i)
			}
			q.Segments = append(q.Segments, topology.SegmentID(sv.StringValue))
		}
	}
	return q, nil
}

// NewSegmentQuerySerializer returns a RequestSerializer that sends the
// same query to every server, restricted to the segments that were
// assigned to it.
func NewSegmentQuerySerializer(requestID, query string) scattergather.RequestSerializer {
	return func(server topology.ServerInstance, segments *topology.SegmentIDSet) ([]byte, error) {
		return MarshalSegmentQuery(&SegmentQuery{
			RequestID: requestID,
			Query:     query,
			Segments:  segments.Segments(),
		})
	}
}
