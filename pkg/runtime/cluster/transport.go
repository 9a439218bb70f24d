// Transport implements the cluster backend's inter-node envelope delivery,
// per SPEC_FULL.md's DOMAIN STACK entry for google.golang.org/grpc: a
// Deliver RPC forwards an EventEnvelope addressed to an agent id this node
// doesn't host to whichever node does. Rather than hand-authoring protoc
// output (no toolchain invocation is permitted for this exercise), the
// gRPC server and client register a custom "json" codec and a hand-built
// grpc.ServiceDesc — grpc-go's codec and service-registration interfaces
// only require concrete Go types, not generated proto.Message
// implementations, so this stays genuine gRPC wire traffic without
// fabricated generated code.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/nexus/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/types/known/anypb"
)

// jsonCodec is registered under the name "json". The client selects it via
// grpc.CallContentSubtype, and the server, which sets no codec of its own,
// decodes each request with the registered codec its content-subtype
// names. This replaces the default proto codec without requiring
// proto.Message payloads.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// WireEnvelope is the JSON-serializable mirror of types.EventEnvelope sent
// over the Deliver RPC. anypb.Any's TypeUrl/Value fields are plain exported
// strings/bytes, so it round-trips through encoding/json directly without
// needing protojson.
type WireEnvelope struct {
	ID                  string     `json:"id"`
	PublisherID         string     `json:"publisher_id"`
	Publishers          []string   `json:"publishers"`
	CorrelationID       string     `json:"correlation_id"`
	Timestamp           time.Time  `json:"timestamp"`
	Version             int        `json:"version"`
	PayloadTypeURL      string     `json:"payload_type_url,omitempty"`
	PayloadValue        []byte     `json:"payload_value,omitempty"`
	Direction           string     `json:"direction"`
	ShouldStopPropagate bool       `json:"should_stop_propagation"`
	MaxHopCount         int        `json:"max_hop_count"`
	CurrentHopCount     int        `json:"current_hop_count"`
	MinHopCount         int        `json:"min_hop_count"`
	Message             string     `json:"message"`
}

// ToWire converts an EventEnvelope to its wire form.
func ToWire(env *types.EventEnvelope) *WireEnvelope {
	w := &WireEnvelope{
		ID:                  env.ID,
		PublisherID:         env.PublisherID,
		Publishers:          append([]string(nil), env.Publishers...),
		CorrelationID:       env.CorrelationID,
		Timestamp:           env.Timestamp,
		Version:             env.Version,
		Direction:           string(env.Direction),
		ShouldStopPropagate: env.ShouldStopPropagate,
		MaxHopCount:         env.MaxHopCount,
		CurrentHopCount:     env.CurrentHopCount,
		MinHopCount:         env.MinHopCount,
		Message:             env.Message,
	}
	if env.Payload != nil {
		w.PayloadTypeURL = env.Payload.TypeUrl
		w.PayloadValue = env.Payload.Value
	}
	return w
}

// FromWire reconstructs an EventEnvelope from its wire form.
func FromWire(w *WireEnvelope) *types.EventEnvelope {
	env := &types.EventEnvelope{
		ID:                  w.ID,
		PublisherID:         w.PublisherID,
		Publishers:          append([]string(nil), w.Publishers...),
		CorrelationID:       w.CorrelationID,
		Timestamp:           w.Timestamp,
		Version:             w.Version,
		Direction:           types.Direction(w.Direction),
		ShouldStopPropagate: w.ShouldStopPropagate,
		MaxHopCount:         w.MaxHopCount,
		CurrentHopCount:     w.CurrentHopCount,
		MinHopCount:         w.MinHopCount,
		Message:             w.Message,
	}
	if w.PayloadTypeURL != "" {
		env.Payload = &anypb.Any{TypeUrl: w.PayloadTypeURL, Value: w.PayloadValue}
	}
	return env
}

// DeliverRequest is the Deliver RPC's request message.
type DeliverRequest struct {
	AgentID  string        `json:"agent_id"`
	Envelope *WireEnvelope `json:"envelope"`
}

// DeliverResponse is the Deliver RPC's response message.
type DeliverResponse struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Dispatcher hands a delivered envelope to the locally hosted actor named
// by agentID. The cluster backend's Manager wrapper implements this.
type Dispatcher interface {
	DeliverLocal(ctx context.Context, agentID string, env *types.EventEnvelope) error
}

// TransportServer implements the hand-rolled Deliver RPC over dispatcher.
type TransportServer struct {
	dispatcher Dispatcher
}

// NewTransportServer constructs a TransportServer over dispatcher.
func NewTransportServer(dispatcher Dispatcher) *TransportServer {
	return &TransportServer{dispatcher: dispatcher}
}

func (s *TransportServer) deliver(ctx context.Context, req *DeliverRequest) (*DeliverResponse, error) {
	env := FromWire(req.Envelope)
	if err := s.dispatcher.DeliverLocal(ctx, req.AgentID, env); err != nil {
		return &DeliverResponse{Accepted: false, Error: err.Error()}, nil
	}
	return &DeliverResponse{Accepted: true}, nil
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(DeliverRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*TransportServer).deliver(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Deliver"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*TransportServer).deliver(ctx, req.(*DeliverRequest))
	}
	return interceptor(ctx, req, info, handler)
}

const serviceName = "nexus.cluster.Transport"

// serviceDesc is the hand-built grpc.ServiceDesc standing in for protoc
// output: grpc-go's RegisterService only needs this struct shape, not a
// generated _grpc.pb.go file.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TransportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nexus/cluster/transport.proto",
}

// RegisterTransportServer registers server on grpcServer. It selects no
// codec itself: requests sent with the "json" content-subtype are decoded
// by jsonCodec, so payloads never need proto.Message.
func RegisterTransportServer(grpcServer *grpc.Server, server *TransportServer) {
	grpcServer.RegisterService(&serviceDesc, server)
}

// TransportClient calls the Deliver RPC against a peer node.
type TransportClient struct {
	conn *grpc.ClientConn
}

// DialTransport opens an insecure (no authentication/authorization layer,
// per spec.md §1's Non-goals) gRPC connection to a peer at addr, forcing
// the "json" codec registered above.
func DialTransport(addr string) (*TransportClient, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodec{}.Name())),
	)
	if err != nil {
		return nil, fmt.Errorf("cluster: dial %s: %w", addr, err)
	}
	return &TransportClient{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *TransportClient) Close() error { return c.conn.Close() }

// Deliver forwards env, addressed to agentID, to the peer this client
// dials.
func (c *TransportClient) Deliver(ctx context.Context, agentID string, env *types.EventEnvelope) (*DeliverResponse, error) {
	req := &DeliverRequest{AgentID: agentID, Envelope: ToWire(env)}
	resp := new(DeliverResponse)
	err := c.conn.Invoke(ctx, serviceName+"/Deliver", req, resp)
	return resp, err
}
