package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"go.uber.org/mock/gomock"
)

func mustMarshalToString(t *testing.T, m proto.Message) string {
	s, err := protojson.MarshalOptions{Multiline: true}.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return string(s)
}

// RequireEqualStatus asserts that two errors have the same gRPC status
// code, message and details.
func RequireEqualStatus(t *testing.T, want, got error) {
	t.Helper()
	wantProto := status.Convert(want).Proto()
	gotProto := status.Convert(got).Proto()
	if !proto.Equal(wantProto, gotProto) {
		t.Fatalf("Not equal:\nWant:\n\n%s\n\nGot:\n\n%s", mustMarshalToString(t, wantProto), mustMarshalToString(t, gotProto))
	}
}

// RequirePrefixedStatus is identical to RequireEqualStatus, except that
// the message of got only needs to start with the message of want.
// This is useful when messages contain errors produced by third-party
// libraries.
func RequirePrefixedStatus(t *testing.T, want, got error) {
	t.Helper()
	wantProto := status.Convert(want).Proto()
	gotProto := status.Convert(got).Proto()
	require.Condition(t, func() bool { return strings.HasPrefix(gotProto.GetMessage(), wantProto.GetMessage()) }, "Want message of status\n%v\nto have prefix\n%v", mustMarshalToString(t, gotProto), wantProto.GetMessage())
	gotProto.Message = wantProto.GetMessage()
	RequireEqualStatus(t, status.ErrorProto(wantProto), status.ErrorProto(gotProto))
}

type eqStatusMatcher struct {
	status error
}

// EqStatus is a gomock matcher for gRPC status equality. It is
// typically used to match errors passed to an ErrorLogger.
func EqStatus(t *testing.T, s error) gomock.Matcher {
	return &eqStatusMatcher{status: s}
}

func (m *eqStatusMatcher) Matches(got any) bool {
	gotError, ok := got.(error)
	return ok && proto.Equal(status.Convert(m.status).Proto(), status.Convert(gotError).Proto())
}

func (m *eqStatusMatcher) String() string {
	return fmt.Sprintf("is status equal to %v", m.status)
}
