// Package grpcserver exposes read-only dashboard state over gRPC for the
// transaction-submission collaborator. Messages are protobuf well-known
// types, so no generated code is needed.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/stakingdash/internal/dashboards"
	"github.com/MarkoPoloResearchLab/stakingdash/pkg/staking"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "stakingdash.session.v1.SessionService"

	methodGetSnapshot     = "GetSnapshot"
	methodGetSelectedPool = "GetSelectedPool"

	errorInvalidUserID     = "invalid_user_id"
	errorUnknownUser       = "unknown_user"
	errorNotConnected      = "not_connected"
	errorNoSelection       = "no_selection"
	errorInvalidSelection  = "invalid_selection"
	errorRegistryClosed    = "unavailable"
	fullMethodSnapshot     = "/" + ServiceName + "/" + methodGetSnapshot
	fullMethodSelectedPool = "/" + ServiceName + "/" + methodGetSelectedPool
)

// SessionServiceServer is the server API of the session service. Requests
// carry the TAuth user id.
type SessionServiceServer interface {
	GetSnapshot(ctx context.Context, userID *wrapperspb.StringValue) (*structpb.Struct, error)
	GetSelectedPool(ctx context.Context, userID *wrapperspb.StringValue) (*structpb.Struct, error)
}

// SessionServiceDesc describes the service for grpc.Server.RegisterService.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodGetSnapshot, Handler: getSnapshotHandler},
		{MethodName: methodGetSelectedPool, Handler: getSelectedPoolHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stakingdash/session/v1/session.proto",
}

// RegisterSessionServiceServer registers server on registrar.
func RegisterSessionServiceServer(registrar grpc.ServiceRegistrar, server SessionServiceServer) {
	registrar.RegisterService(&SessionServiceDesc, server)
}

func getSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(wrapperspb.StringValue)
	if err := dec(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServiceServer).GetSnapshot(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethodSnapshot}
	handler := func(ctx context.Context, request any) (any, error) {
		return srv.(SessionServiceServer).GetSnapshot(ctx, request.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, request, info, handler)
}

func getSelectedPoolHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(wrapperspb.StringValue)
	if err := dec(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SessionServiceServer).GetSelectedPool(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethodSelectedPool}
	handler := func(ctx context.Context, request any) (any, error) {
		return srv.(SessionServiceServer).GetSelectedPool(ctx, request.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, request, info, handler)
}

// SessionServiceClient calls the session service.
type SessionServiceClient struct {
	conn grpc.ClientConnInterface
}

// NewSessionServiceClient wraps conn.
func NewSessionServiceClient(conn grpc.ClientConnInterface) *SessionServiceClient {
	return &SessionServiceClient{conn: conn}
}

func (client *SessionServiceClient) GetSnapshot(ctx context.Context, userID *wrapperspb.StringValue, options ...grpc.CallOption) (*structpb.Struct, error) {
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fullMethodSnapshot, userID, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *SessionServiceClient) GetSelectedPool(ctx context.Context, userID *wrapperspb.StringValue, options ...grpc.CallOption) (*structpb.Struct, error) {
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fullMethodSelectedPool, userID, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

// SessionServer serves dashboards held by the HTTP façade's registry.
type SessionServer struct {
	registry *dashboards.Registry
	now      func() int64
}

// NewSessionServer constructs the service. A nil clock selects the wall clock.
func NewSessionServer(registry *dashboards.Registry, now func() int64) *SessionServer {
	if now == nil {
		now = func() int64 { return time.Now().UTC().Unix() }
	}
	return &SessionServer{registry: registry, now: now}
}

func (service *SessionServer) GetSnapshot(_ context.Context, userID *wrapperspb.StringValue) (*structpb.Struct, error) {
	dashboard, err := service.registry.Lookup(userID.GetValue())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return toStruct(dashboards.Render(dashboard, service.now()))
}

func (service *SessionServer) GetSelectedPool(_ context.Context, userID *wrapperspb.StringValue) (*structpb.Struct, error) {
	dashboard, err := service.registry.Lookup(userID.GetValue())
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if !dashboard.Ready() {
		return nil, mapToGRPCError(staking.ErrNotConnected)
	}
	snapshot := dashboard.SessionSnapshot()
	if snapshot.SelectedPoolIndex == nil {
		return nil, mapToGRPCError(staking.ErrNoSelection)
	}
	index := *snapshot.SelectedPoolIndex
	definition, err := dashboard.Catalog().Get(index)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return toStruct(struct {
		Identity string              `json:"identity"`
		Pool     dashboards.PoolView `json:"pool"`
	}{
		Identity: snapshot.Identity.String(),
		Pool:     dashboards.RenderPool(index, definition, snapshot),
	})
}

func toStruct(value any) (*structpb.Struct, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	fields := map[string]any{}
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	result, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return result, nil
}

func mapToGRPCError(source error) error {
	if errors.Is(source, dashboards.ErrInvalidUserID) {
		return status.Error(codes.InvalidArgument, errorInvalidUserID)
	}
	if errors.Is(source, dashboards.ErrUnknownUser) {
		return status.Error(codes.NotFound, errorUnknownUser)
	}
	if errors.Is(source, dashboards.ErrRegistryClosed) {
		return status.Error(codes.Unavailable, errorRegistryClosed)
	}
	if errors.Is(source, staking.ErrNotConnected) {
		return status.Error(codes.FailedPrecondition, errorNotConnected)
	}
	if errors.Is(source, staking.ErrNoSelection) {
		return status.Error(codes.NotFound, errorNoSelection)
	}
	if errors.Is(source, staking.ErrOutOfRange) || errors.Is(source, staking.ErrInvalidSelection) {
		return status.Error(codes.InvalidArgument, errorInvalidSelection)
	}
	return status.Error(codes.Internal, source.Error())
}
