package server

import (
	"BucketClear/internal/core"
	"BucketClear/internal/event"
	"BucketClear/internal/ledger"
	"BucketClear/internal/venue"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully-qualified gRPC service name
const ServiceName = "bucketclear.venue.v1.VenueService"

// VenueServer is the server API for VenueService.
type VenueServer interface {
	CreditAccount(context.Context, *AmountRequest) (*BalanceResponse, error)
	DebitAccount(context.Context, *AmountRequest) (*BalanceResponse, error)
	GetBalance(context.Context, *AccountRequest) (*BalanceResponse, error)

	PlaceOrder(context.Context, *PlaceOrderRequest) (*core.Result, error)
	UpdateOrder(context.Context, *UpdateOrderRequest) (*core.Result, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*core.Result, error)
	FillOrder(context.Context, *FillOrderRequest) (*core.Result, error)
	Tick(context.Context, *TickRequest) (*core.TickReport, error)

	ListOrderbooks(context.Context, *Empty) (*OrderbooksResponse, error)
	DescribeOrderbook(context.Context, *OrderbookRequest) (*core.OrderbookInfo, error)
	GetSnapshot(context.Context, *OrderbookRequest) (*SnapshotResponse, error)
	ListPositions(context.Context, *PositionsRequest) (*PositionsResponse, error)

	Subscribe(*SubscribeRequest, grpc.ServerStream) error
}

// ServiceDesc is hand-written; messages travel as JSON via the registered codec.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VenueServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreditAccount", VenueServer.CreditAccount),
		unary("DebitAccount", VenueServer.DebitAccount),
		unary("GetBalance", VenueServer.GetBalance),
		unary("PlaceOrder", VenueServer.PlaceOrder),
		unary("UpdateOrder", VenueServer.UpdateOrder),
		unary("CancelOrder", VenueServer.CancelOrder),
		unary("FillOrder", VenueServer.FillOrder),
		unary("Tick", VenueServer.Tick),
		unary("ListOrderbooks", VenueServer.ListOrderbooks),
		unary("DescribeOrderbook", VenueServer.DescribeOrderbook),
		unary("GetSnapshot", VenueServer.GetSnapshot),
		unary("ListPositions", VenueServer.ListPositions),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(SubscribeRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(VenueServer).Subscribe(in, stream)
			},
		},
	},
	Metadata: "bucketclear/venue/v1/venue.json",
}

func unary[Req, Resp any](name string, call func(VenueServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(VenueServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(VenueServer), ctx, req.(*Req))
			})
		},
	}
}

// RegisterVenueServer registers impl on s
func RegisterVenueServer(s grpc.ServiceRegistrar, impl VenueServer) {
	s.RegisterService(&ServiceDesc, impl)
}

// ============================================================================
// VenueService implementation
// ============================================================================

type venueService struct {
	venue        *venue.Venue
	streamBuffer int
	now          func() int64
}

// NewVenueService adapts a Venue to the gRPC surface. Streaming
// subscribers are lossy with the given buffer.
func NewVenueService(v *venue.Venue, streamBuffer int) VenueServer {
	return &venueService{
		venue:        v,
		streamBuffer: streamBuffer,
		now:          func() int64 { return time.Now().UnixMilli() },
	}
}

func (s *venueService) orNow(ts int64) int64 {
	if ts != 0 {
		return ts
	}
	return s.now()
}

func (s *venueService) CreditAccount(_ context.Context, req *AmountRequest) (*BalanceResponse, error) {
	if err := validateAmount(req); err != nil {
		return nil, err
	}
	if _, err := s.venue.Credit(req.AccountID, req.Amount); err != nil {
		if errors.Is(err, ledger.ErrBalanceOverflow) {
			return nil, status.Errorf(codes.FailedPrecondition, "credit: %v", err)
		}
		return nil, status.Errorf(codes.Internal, "credit: %v", err)
	}
	return &BalanceResponse{Balance: s.venue.Balance(req.AccountID)}, nil
}

func (s *venueService) DebitAccount(_ context.Context, req *AmountRequest) (*BalanceResponse, error) {
	if err := validateAmount(req); err != nil {
		return nil, err
	}
	if _, err := s.venue.Debit(req.AccountID, req.Amount); err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "debit: %v", err)
	}
	return &BalanceResponse{Balance: s.venue.Balance(req.AccountID)}, nil
}

func validateAmount(req *AmountRequest) error {
	if req.AccountID == "" {
		return status.Error(codes.InvalidArgument, "account_id is required")
	}
	if req.Amount <= 0 {
		return status.Errorf(codes.InvalidArgument, "amount must be > 0, got %d", req.Amount)
	}
	return nil
}

func (s *venueService) GetBalance(_ context.Context, req *AccountRequest) (*BalanceResponse, error) {
	if req.AccountID == "" {
		return nil, status.Error(codes.InvalidArgument, "account_id is required")
	}
	return &BalanceResponse{Balance: s.venue.Balance(req.AccountID)}, nil
}

func (s *venueService) PlaceOrder(_ context.Context, req *PlaceOrderRequest) (*core.Result, error) {
	res := s.venue.PlaceOrder(req.PlaceOrderPayload, s.orNow(req.Now))
	return &res, nil
}

func (s *venueService) UpdateOrder(_ context.Context, req *UpdateOrderRequest) (*core.Result, error) {
	res := s.venue.UpdateOrder(req.UpdateOrderPayload, s.orNow(req.Now))
	return &res, nil
}

func (s *venueService) CancelOrder(_ context.Context, req *CancelOrderRequest) (*core.Result, error) {
	res := s.venue.CancelOrder(req.OrderID, req.MakerID, s.orNow(req.Now))
	return &res, nil
}

func (s *venueService) FillOrder(_ context.Context, req *FillOrderRequest) (*core.Result, error) {
	p := req.FillOrderPayload
	p.Timestamp = s.orNow(p.Timestamp)
	res := s.venue.FillOrder(p)
	return &res, nil
}

func (s *venueService) Tick(_ context.Context, req *TickRequest) (*core.TickReport, error) {
	report, err := s.venue.Tick(req.OrderbookID, s.orNow(req.Now), req.Price)
	if err != nil {
		return nil, engineError(err)
	}
	return &report, nil
}

func (s *venueService) ListOrderbooks(context.Context, *Empty) (*OrderbooksResponse, error) {
	return &OrderbooksResponse{Orderbooks: s.venue.Orderbooks()}, nil
}

func (s *venueService) DescribeOrderbook(_ context.Context, req *OrderbookRequest) (*core.OrderbookInfo, error) {
	info, err := s.venue.Describe(req.OrderbookID)
	if err != nil {
		return nil, engineError(err)
	}
	return &info, nil
}

func (s *venueService) GetSnapshot(_ context.Context, req *OrderbookRequest) (*SnapshotResponse, error) {
	orders, err := s.venue.Snapshot(req.OrderbookID)
	if err != nil {
		return nil, engineError(err)
	}
	return &SnapshotResponse{OrderbookID: req.OrderbookID, Orders: orders}, nil
}

func (s *venueService) ListPositions(_ context.Context, req *PositionsRequest) (*PositionsResponse, error) {
	if req.OrderbookID == "" {
		if req.UserID == "" {
			return nil, status.Error(codes.InvalidArgument, "orderbook_id or user_id is required")
		}
		return &PositionsResponse{Positions: s.venue.PositionsByUser(req.UserID)}, nil
	}
	ps, err := s.venue.Positions(req.OrderbookID, req.UserID)
	if err != nil {
		return nil, engineError(err)
	}
	return &PositionsResponse{Positions: ps}, nil
}

// Subscribe streams events until the client goes away or the venue closes
func (s *venueService) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	sub := s.venue.Subscribe("rpc:"+uuid.NewString(), s.streamBuffer, event.Lossy, req.filter())
	defer sub.Close()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&env); err != nil {
				return err
			}
		}
	}
}

func engineError(err error) error {
	switch {
	case errors.Is(err, core.ErrUnknownOrderbook):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, core.ErrStaleTick):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
