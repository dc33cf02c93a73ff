package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
	"github.com/Quagm/ios-aquatics/internal/core/service"
	"github.com/Quagm/ios-aquatics/internal/port"
)

const (
	GRPCServiceName = "aquatics.v1.OrderService"
	jsonCodecName   = "json"
)

// jsonCodec lets the order service speak JSON over gRPC (content-subtype
// "json"), so callers need no generated stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type StockCheckReply struct {
	Success bool     `json:"success"`
	Details []string `json:"details,omitempty"`
}

type PlaceOrderRequest struct {
	IdempotencyKey string                  `json:"idempotencyKey"`
	Items          []service.LineItem      `json:"items"`
	Total          decimal.Decimal         `json:"total"`
	Customer       domain.CustomerSnapshot `json:"customer"`
}

type OrderStatusRequest struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

type OrderReply struct {
	Order *domain.Order `json:"order"`
}

type OrderServiceServer interface {
	CheckStock(context.Context, *StockCheckRequest) (*StockCheckReply, error)
	CreateOrder(context.Context, *PlaceOrderRequest) (*OrderReply, error)
	UpdateOrderStatus(context.Context, *OrderStatusRequest) (*OrderReply, error)
	CompleteOrder(context.Context, *CompleteOrderRequest) (*OrderReply, error)
}

func unaryMethod[Req, Resp any](name string, call func(OrderServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + GRPCServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OrderServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CheckStock", OrderServiceServer.CheckStock),
		unaryMethod("CreateOrder", OrderServiceServer.CreateOrder),
		unaryMethod("UpdateOrderStatus", OrderServiceServer.UpdateOrderStatus),
		unaryMethod("CompleteOrder", OrderServiceServer.CompleteOrder),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderServiceDesc, srv)
}

// OrderServiceClient calls the order service with the JSON codec.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+GRPCServiceName+"/"+method, in, out, opts...)
}

func (c *OrderServiceClient) CheckStock(ctx context.Context, in *StockCheckRequest, opts ...grpc.CallOption) (*StockCheckReply, error) {
	out := new(StockCheckReply)
	return out, c.invoke(ctx, "CheckStock", in, out, opts)
}

func (c *OrderServiceClient) CreateOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	out := new(OrderReply)
	return out, c.invoke(ctx, "CreateOrder", in, out, opts)
}

func (c *OrderServiceClient) UpdateOrderStatus(ctx context.Context, in *OrderStatusRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	out := new(OrderReply)
	return out, c.invoke(ctx, "UpdateOrderStatus", in, out, opts)
}

func (c *OrderServiceClient) CompleteOrder(ctx context.Context, in *CompleteOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	out := new(OrderReply)
	return out, c.invoke(ctx, "CompleteOrder", in, out, opts)
}

type GRPCHandler struct {
	orders       *service.OrderService
	stock        *service.StockService
	verifier     port.TokenVerifier
	requireToken bool
}

func NewGRPCHandler(orders *service.OrderService, stock *service.StockService, verifier port.TokenVerifier, requireToken bool) *GRPCHandler {
	return &GRPCHandler{orders: orders, stock: stock, verifier: verifier, requireToken: requireToken}
}

// identity reads the bearer token from the "authorization" metadata entry.
func (h *GRPCHandler) identity(ctx context.Context) (domain.Identity, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	values := md.Get("authorization")
	if len(values) == 0 {
		if h.requireToken {
			return domain.Identity{}, domain.ErrUnauthorized
		}
		return domain.Identity{}, nil
	}

	scheme, token, ok := strings.Cut(values[0], " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || h.verifier == nil {
		return domain.Identity{}, domain.ErrUnauthorized
	}
	return h.verifier.Verify(token)
}

func (h *GRPCHandler) admin(ctx context.Context) error {
	id, err := h.identity(ctx)
	if err != nil {
		return err
	}
	if id.IsAnonymous() {
		return domain.ErrUnauthorized
	}
	if !id.IsAdmin() {
		return domain.ErrForbidden
	}
	return nil
}

func (h *GRPCHandler) CheckStock(ctx context.Context, req *StockCheckRequest) (*StockCheckReply, error) {
	if _, err := h.identity(ctx); err != nil {
		return nil, grpcError(err)
	}

	err := h.stock.CheckAvailability(ctx, req.Items)
	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		return &StockCheckReply{Success: false, Details: stockErr.Details()}, nil
	}
	if err != nil {
		return nil, grpcError(err)
	}
	return &StockCheckReply{Success: true}, nil
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *PlaceOrderRequest) (*OrderReply, error) {
	id, err := h.identity(ctx)
	if err != nil {
		return nil, grpcError(err)
	}

	order, err := h.orders.CreateOrder(ctx, service.CreateOrderRequest{
		UserID:         id.UserID,
		IdempotencyKey: req.IdempotencyKey,
		Customer:       req.Customer,
		Items:          req.Items,
		Total:          req.Total,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return &OrderReply{Order: order}, nil
}

func (h *GRPCHandler) UpdateOrderStatus(ctx context.Context, req *OrderStatusRequest) (*OrderReply, error) {
	if err := h.admin(ctx); err != nil {
		return nil, grpcError(err)
	}
	next, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		return nil, grpcError(err)
	}

	order, err := h.orders.UpdateStatus(ctx, req.OrderID, next)
	if err != nil {
		return nil, grpcError(err)
	}
	return &OrderReply{Order: order}, nil
}

func (h *GRPCHandler) CompleteOrder(ctx context.Context, req *CompleteOrderRequest) (*OrderReply, error) {
	if err := h.admin(ctx); err != nil {
		return nil, grpcError(err)
	}

	order, err := h.orders.CompleteOrder(ctx, req.OrderID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &OrderReply{Order: order}, nil
}

func grpcError(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrInvalidTransition):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, domain.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrDuplicateRequest):
		code = codes.AlreadyExists
	case errors.Is(err, domain.ErrConcurrentUpdate):
		code = codes.Aborted
	default:
		code = codes.Internal
		log.Error().Err(err).Msg("grpc call failed")
	}
	return status.Error(code, errorBody(err).Error)
}
