package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mr1hm/go-relief-ledger/internal/models"
)

const (
	AuditServiceName       = "reliefledger.audit.v1.AuditService"
	streamNotificationsRPC = "/" + AuditServiceName + "/StreamNotifications"
)

// auditStreamer is the server side of AuditService. Requests and stream
// messages are google.protobuf.Struct values.
type auditStreamer interface {
	StreamNotifications(req *structpb.Struct, stream grpc.ServerStream) error
}

var auditServiceDesc = grpc.ServiceDesc{
	ServiceName: AuditServiceName,
	HandlerType: (*auditStreamer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamNotifications",
			Handler:       streamNotificationsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "reliefledger/audit/v1/audit.proto",
}

func streamNotificationsHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(auditStreamer).StreamNotifications(req, stream)
}

type Server struct {
	broadcaster *Broadcaster
	health      *health.Server
	grpcServer  *grpc.Server
}

func NewServer(broadcaster *Broadcaster) *Server {
	s := &Server{
		broadcaster: broadcaster,
		health:      health.NewServer(),
		grpcServer:  grpc.NewServer(),
	}
	s.grpcServer.RegisterService(&auditServiceDesc, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(AuditServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	slog.Info("gRPC server listening", "addr", addr)
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop marks the server not serving, ends open streams and waits for
// in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.broadcaster.Close()
	s.grpcServer.GracefulStop()
}

// StreamNotifications sends every broadcast notification to the caller.
// The request may set "aggregate_type" and "kind" to filter.
func (s *Server) StreamNotifications(req *structpb.Struct, stream grpc.ServerStream) error {
	aggregateType := req.GetFields()["aggregate_type"].GetStringValue()
	kind := req.GetFields()["kind"].GetStringValue()

	id, ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	slog.Info("client subscribed to notification stream", "subscriber_id", id, "aggregate_type", aggregateType)

	for {
		select {
		case <-stream.Context().Done():
			slog.Info("client disconnected from notification stream", "subscriber_id", id)
			return nil
		case n, ok := <-ch:
			if !ok {
				return nil
			}

			if aggregateType != "" && n.AggregateType != aggregateType {
				continue
			}
			if kind != "" && string(n.Kind) != kind {
				continue
			}

			msg, err := toStruct(n)
			if err != nil {
				slog.Error("failed to encode notification", "error", err, "kind", n.Kind)
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				slog.Error("failed to send notification to stream", "error", err, "subscriber_id", id)
				return err
			}
		}
	}
}

func toStruct(n models.Notification) (*structpb.Struct, error) {
	fields := map[string]any{
		"kind":           string(n.Kind),
		"aggregate_type": n.AggregateType,
		"aggregate_id":   n.AggregateID,
		"principal":      n.Principal,
		"timestamp":      n.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if len(n.Details) > 0 {
		fields["details"] = n.Details
	}
	return structpb.NewStruct(fields)
}

// NotificationStream is the client side of StreamNotifications.
type NotificationStream struct {
	stream grpc.ClientStream
}

// StreamNotifications opens a notification stream on cc. Empty filters
// match everything.
func StreamNotifications(ctx context.Context, cc grpc.ClientConnInterface, aggregateType, kind string) (*NotificationStream, error) {
	stream, err := cc.NewStream(ctx, &auditServiceDesc.Streams[0], streamNotificationsRPC)
	if err != nil {
		return nil, err
	}

	req, err := structpb.NewStruct(map[string]any{
		"aggregate_type": aggregateType,
		"kind":           kind,
	})
	if err != nil {
		return nil, fmt.Errorf("error building stream request: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &NotificationStream{stream: stream}, nil
}

func (s *NotificationStream) Recv() (*structpb.Struct, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
