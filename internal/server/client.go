package server

import (
	"BucketClear/internal/core"
	"BucketClear/internal/event"
	"context"

	"google.golang.org/grpc"
)

// Client calls VenueService over a JSON-coded connection
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, grpc.CallContentSubtype(CodecName))
}

func (c *Client) CreditAccount(ctx context.Context, in *AmountRequest) (*BalanceResponse, error) {
	out := new(BalanceResponse)
	return out, c.invoke(ctx, "CreditAccount", in, out)
}

func (c *Client) DebitAccount(ctx context.Context, in *AmountRequest) (*BalanceResponse, error) {
	out := new(BalanceResponse)
	return out, c.invoke(ctx, "DebitAccount", in, out)
}

func (c *Client) GetBalance(ctx context.Context, in *AccountRequest) (*BalanceResponse, error) {
	out := new(BalanceResponse)
	return out, c.invoke(ctx, "GetBalance", in, out)
}

func (c *Client) PlaceOrder(ctx context.Context, in *PlaceOrderRequest) (*core.Result, error) {
	out := new(core.Result)
	return out, c.invoke(ctx, "PlaceOrder", in, out)
}

func (c *Client) UpdateOrder(ctx context.Context, in *UpdateOrderRequest) (*core.Result, error) {
	out := new(core.Result)
	return out, c.invoke(ctx, "UpdateOrder", in, out)
}

func (c *Client) CancelOrder(ctx context.Context, in *CancelOrderRequest) (*core.Result, error) {
	out := new(core.Result)
	return out, c.invoke(ctx, "CancelOrder", in, out)
}

func (c *Client) FillOrder(ctx context.Context, in *FillOrderRequest) (*core.Result, error) {
	out := new(core.Result)
	return out, c.invoke(ctx, "FillOrder", in, out)
}

func (c *Client) Tick(ctx context.Context, in *TickRequest) (*core.TickReport, error) {
	out := new(core.TickReport)
	return out, c.invoke(ctx, "Tick", in, out)
}

func (c *Client) ListOrderbooks(ctx context.Context) (*OrderbooksResponse, error) {
	out := new(OrderbooksResponse)
	return out, c.invoke(ctx, "ListOrderbooks", &Empty{}, out)
}

func (c *Client) DescribeOrderbook(ctx context.Context, in *OrderbookRequest) (*core.OrderbookInfo, error) {
	out := new(core.OrderbookInfo)
	return out, c.invoke(ctx, "DescribeOrderbook", in, out)
}

func (c *Client) GetSnapshot(ctx context.Context, in *OrderbookRequest) (*SnapshotResponse, error) {
	out := new(SnapshotResponse)
	return out, c.invoke(ctx, "GetSnapshot", in, out)
}

func (c *Client) ListPositions(ctx context.Context, in *PositionsRequest) (*PositionsResponse, error) {
	out := new(PositionsResponse)
	return out, c.invoke(ctx, "ListPositions", in, out)
}

// EventStream receives envelopes from Subscribe. Payloads decode as generic JSON.
type EventStream struct {
	stream grpc.ClientStream
}

func (s *EventStream) Recv() (*event.Envelope, error) {
	env := new(event.Envelope)
	if err := s.stream.RecvMsg(env); err != nil {
		return nil, err
	}
	return env, nil
}

func (c *Client) Subscribe(ctx context.Context, in *SubscribeRequest) (*EventStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/Subscribe", grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}
