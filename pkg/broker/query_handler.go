package broker

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/buildbarn/bb-dispatch/pkg/future"
	bb_http "github.com/buildbarn/bb-dispatch/pkg/http"
	"github.com/buildbarn/bb-dispatch/pkg/scattergather"
	"github.com/buildbarn/bb-dispatch/pkg/selection"
	"github.com/buildbarn/bb-dispatch/pkg/topology"
	"github.com/buildbarn/bb-dispatch/pkg/util"
	"github.com/gorilla/mux"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QueryDefaults are applied to fields that are omitted from incoming
// queries.
type QueryDefaults struct {
	Granularity selection.Granularity
	GatherMode  future.GatherMode
	// Negative values mean that no timeout is applied.
	Timeout time.Duration
}

type queryRequestMessage struct {
	RequestID   string            `json:"requestId"`
	Query       string            `json:"query"`
	Segments    []string          `json:"segments"`
	HashKey     string            `json:"hashKey"`
	TimeoutMs   *int64            `json:"timeoutMs"`
	Pinned      map[string]string `json:"pinned"`
	GatherMode  string            `json:"gatherMode"`
	Granularity string            `json:"granularity"`
}

type queryResponseMessage struct {
	RequestID string `json:"requestId,omitempty"`
	// Encoded as base64 by encoding/json.
	Responses map[string][]byte `json:"responses,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// QueryHandler is an HTTP handler that accepts queries over a set of
// segments, dispatches them to the servers holding the segments, and
// returns the responses of all servers.
type QueryHandler struct {
	scatterGather    scattergather.ScatterGather
	routingTable     *RoutingTable
	replicaSelection selection.ReplicaSelection
	defaults         QueryDefaults
	uuidGenerator    util.UUIDGenerator
	errorLogger      util.ErrorLogger
}

// NewQueryHandler creates a QueryHandler. Queries that don't provide a
// request ID are assigned one using the UUID generator. Failures to
// write responses are reported through the error logger, as the status
// code has already been sent at that point.
func NewQueryHandler(scatterGather scattergather.ScatterGather, routingTable *RoutingTable, replicaSelection selection.ReplicaSelection, defaults QueryDefaults, uuidGenerator util.UUIDGenerator, errorLogger util.ErrorLogger) *QueryHandler {
	return &QueryHandler{
		scatterGather:    scatterGather,
		routingTable:     routingTable,
		replicaSelection: replicaSelection,
		defaults:         defaults,
		uuidGenerator:    uuidGenerator,
		errorLogger:      errorLogger,
	}
}

// RegisterRoutes adds the routes of the query API to a router.
func (h *QueryHandler) RegisterRoutes(router *mux.Router) {
	router.Handle("/query", h).Methods(http.MethodPost)
}

func (h *QueryHandler) newRequest(message *queryRequestMessage) (*scattergather.SimpleRequest, error) {
	if len(message.Segments) == 0 {
		return nil, status.Error(codes.InvalidArgument, "No segments provided")
	}
	segments := make([]topology.SegmentID, 0, len(message.Segments))
	for _, segment := range message.Segments {
		segments = append(segments, topology.SegmentID(segment))
	}
	groups, err := h.routingTable.SegmentGroups(segments)
	if err != nil {
		return nil, err
	}

	var pinned topology.PinnedSelection
	if len(message.Pinned) > 0 {
		pinned = make(topology.PinnedSelection, len(message.Pinned))
		for segment, address := range message.Pinned {
			server, err := topology.ParseServerInstance(address)
			if err != nil {
				return nil, util.StatusWrapf(err, "Invalid pinned server for segment %#v", segment)
			}
			pinned[topology.SegmentID(segment)] = server
		}
	}

	granularity := h.defaults.Granularity
	if message.Granularity != "" {
		if granularity, err = selection.NewGranularityFromConfiguration(message.Granularity); err != nil {
			return nil, err
		}
	}
	gatherMode := h.defaults.GatherMode
	if message.GatherMode != "" {
		if gatherMode, err = future.NewGatherModeFromConfiguration(message.GatherMode); err != nil {
			return nil, err
		}
	}
	timeout := h.defaults.Timeout
	if message.TimeoutMs != nil {
		if *message.TimeoutMs < 0 {
			timeout = -1
		} else {
			timeout = time.Duration(*message.TimeoutMs) * time.Millisecond
		}
	}

	requestID := message.RequestID
	if requestID == "" {
		id, err := h.uuidGenerator()
		if err != nil {
			return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to generate request ID")
		}
		requestID = id.String()
	}

	return &scattergather.SimpleRequest{
		Groups:      groups,
		Selection:   h.replicaSelection,
		Granularity: granularity,
		Timeout:     timeout,
		Key:         message.HashKey,
		Pinned:      pinned,
		Serializer:  NewSegmentQuerySerializer(requestID, message.Query),
		ID:          requestID,
		Mode:        gatherMode,
	}, nil
}

func (h *QueryHandler) writeResponse(w http.ResponseWriter, code int, message *queryResponseMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(message); err != nil {
		h.errorLogger.Log(util.StatusWrapf(err, "Failed to write response to query %#v", message.RequestID))
	}
}

func (h *QueryHandler) writeError(w http.ResponseWriter, requestID string, err error) {
	h.writeResponse(w, bb_http.StatusCodeFromError(err), &queryResponseMessage{
		RequestID: requestID,
		Error:     status.Convert(err).Message(),
	})
}

func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var message queryRequestMessage
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&message); err != nil {
		h.writeError(w, "", status.Errorf(codes.InvalidArgument, "Failed to parse query: %s", err))
		return
	}
	request, err := h.newRequest(&message)
	if err != nil {
		h.writeError(w, message.RequestID, err)
		return
	}

	ctx := r.Context()
	response, err := h.scatterGather.ScatterGather(ctx, request)
	if err != nil {
		h.writeError(w, request.ID, err)
		return
	}
	if err := response.Wait(ctx); err != nil && ctx.Err() != nil {
		// The client went away. Stop waiting for servers.
		response.Cancel()
		h.writeError(w, request.ID, err)
		return
	}

	responses, err := response.Get()
	reply := &queryResponseMessage{
		RequestID: request.ID,
		Responses: make(map[string][]byte, len(responses)),
	}
	for server, payload := range responses {
		reply.Responses[server.String()] = payload
	}
	if errs := response.Errors(); len(errs) > 0 {
		reply.Errors = make(map[string]string, len(errs))
		for server, serverErr := range errs {
			reply.Errors[server.String()] = status.Convert(serverErr).Message()
		}
	}
	if err != nil {
		reply.Error = status.Convert(err).Message()
	}
	h.writeResponse(w, bb_http.StatusCodeFromError(err), reply)
}
