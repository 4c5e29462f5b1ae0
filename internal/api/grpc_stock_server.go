package api

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"ovotrack/server/internal/models"
	"ovotrack/server/internal/repository"
	"ovotrack/server/internal/services"
)

// StockQueryServer is the read-only stock API for other plant services.
// Requests and responses are google.protobuf.Struct documents.
type StockQueryServer interface {
	GetStock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLedger(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

const stockQueryService = "ovotrack.v1.StockQuery"

func stockQueryGetStockHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StockQueryServer).GetStock(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + stockQueryService + "/GetStock"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StockQueryServer).GetStock(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func stockQueryGetLedgerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(StockQueryServer).GetLedger(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + stockQueryService + "/GetLedger"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(StockQueryServer).GetLedger(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// StockQueryServiceDesc describes ovotrack.v1.StockQuery for grpc.Server.RegisterService
var StockQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: stockQueryService,
	HandlerType: (*StockQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStock", Handler: stockQueryGetStockHandler},
		{MethodName: "GetLedger", Handler: stockQueryGetLedgerHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ovotrack/v1/stock_query.proto",
}

// RegisterStockQueryServer registers srv on s
func RegisterStockQueryServer(s grpc.ServiceRegistrar, srv StockQueryServer) {
	s.RegisterService(&StockQueryServiceDesc, srv)
}

// StockQueryClient calls ovotrack.v1.StockQuery
type StockQueryClient struct {
	cc grpc.ClientConnInterface
}

// NewStockQueryClient creates a client over cc
func NewStockQueryClient(cc grpc.ClientConnInterface) *StockQueryClient {
	return &StockQueryClient{cc: cc}
}

func (c *StockQueryClient) GetStock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+stockQueryService+"/GetStock", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *StockQueryClient) GetLedger(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+stockQueryService+"/GetLedger", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// StockGRPCServer serves StockQuery from the ledger
type StockGRPCServer struct {
	ledger *services.LedgerService
	log    logrus.FieldLogger
}

// NewStockGRPCServer creates the gRPC stock server
func NewStockGRPCServer(ledger *services.LedgerService, log logrus.FieldLogger) *StockGRPCServer {
	return &StockGRPCServer{ledger: ledger, log: log}
}

func stringField(in *structpb.Struct, name string) string {
	if v, ok := in.GetFields()[name]; ok {
		return strings.TrimSpace(v.GetStringValue())
	}
	return ""
}

// GetStock expects {sku_code, space?} and returns {sku_code, space, quantity}
func (s *StockGRPCServer) GetStock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sku := stringField(in, "sku_code")
	space := models.StockSpace(stringField(in, "space"))
	if space == "" {
		space = models.SpaceWarehouse
	}
	qty, err := s.ledger.GetStock(ctx, sku, space)
	if err != nil {
		return nil, s.grpcError(err)
	}
	out, err := structpb.NewStruct(map[string]interface{}{
		"sku_code": sku,
		"space":    string(space),
		"quantity": qty,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// GetLedger expects {sku_code | voucher_id | lot_id, limit?, ascending?} and returns {entries, count}
func (s *StockGRPCServer) GetLedger(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := repository.MovementFilter{
		SkuCode:   stringField(in, "sku_code"),
		VoucherID: stringField(in, "voucher_id"),
		LotID:     stringField(in, "lot_id"),
		Kind:      models.MovementKind(stringField(in, "kind")),
		Space:     models.StockSpace(stringField(in, "space")),
		From:      stringField(in, "from"),
		To:        stringField(in, "to"),
	}
	if v, ok := in.GetFields()["limit"]; ok {
		f.Limit = int(v.GetNumberValue())
	}
	if v, ok := in.GetFields()["ascending"]; ok {
		f.Ascending = v.GetBoolValue()
	}

	entries, err := s.ledger.History(ctx, f)
	if err != nil {
		return nil, s.grpcError(err)
	}

	// structpb only takes plain JSON values
	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var list []interface{}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if list == nil {
		list = []interface{}{}
	}
	out, err := structpb.NewStruct(map[string]interface{}{
		"entries": list,
		"count":   len(list),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *StockGRPCServer) grpcError(err error) error {
	e, ok := services.AsError(err)
	if !ok {
		s.log.WithError(err).Error("grpc.internal_error")
		return status.Error(codes.Internal, "internal error")
	}
	switch e.Code {
	case services.CodeNotFound:
		return status.Error(codes.NotFound, e.Message)
	case services.CodeInvalidState:
		return status.Error(codes.FailedPrecondition, e.Message)
	case services.CodeUnauthorized:
		return status.Error(codes.PermissionDenied, e.Message)
	default:
		return status.Error(codes.InvalidArgument, e.Message)
	}
}

// AuthUnaryInterceptor requires a valid bearer token in the authorization metadata
func AuthUnaryInterceptor(secret []byte) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 || !strings.HasPrefix(values[0], "Bearer ") {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		if _, err := ParseActor(secret, strings.TrimPrefix(values[0], "Bearer ")); err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(ctx, req)
	}
}
