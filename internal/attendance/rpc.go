package attendance

import (
	"context"

	"attendancesvc/internal/rpc"
)

// Operation names on the wire.
const (
	OpCheckIn   = "attendance.check-in"
	OpCheckOut  = "attendance.check-out"
	OpGetStatus = "attendance.get-status"
	OpGetMy     = "attendance.get-my"
	OpGetAll    = "attendance.get-all"
)

type CheckInRequest struct {
	UserID   string `json:"userId"`
	PhotoURL string `json:"photoUrl"`
}

type UserRequest struct {
	UserID string `json:"userId"`
}

// ListQuery is the payload of both listing operations. Zero Page and Limit
// take the defaults; dates are YYYY-MM-DD or RFC 3339.
type ListQuery struct {
	UserID    string `json:"userId,omitempty"`
	Page      int    `json:"page,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

// Register exposes svc on srv.
func Register(srv *rpc.Server, svc *Service) {
	srv.Handle(OpCheckIn, rpc.Typed(func(ctx context.Context, in CheckInRequest) (Record, error) {
		return svc.CheckIn(ctx, in.UserID, in.PhotoURL)
	}))
	srv.Handle(OpCheckOut, rpc.Typed(func(ctx context.Context, in UserRequest) (Record, error) {
		return svc.CheckOut(ctx, in.UserID)
	}))
	srv.Handle(OpGetStatus, rpc.Typed(func(ctx context.Context, in UserRequest) (StatusResult, error) {
		return svc.Status(ctx, in.UserID)
	}))
	srv.Handle(OpGetMy, rpc.Typed(func(ctx context.Context, in ListQuery) (Page, error) {
		return svc.ListMine(ctx, in.UserID, in)
	}))
	srv.Handle(OpGetAll, rpc.Typed(svc.ListAll))
}

// Client is the caller-side view of the attendance service.
type Client struct {
	rpc *rpc.Client
}

// NewClient wraps an RPC client targeting the attendance service.
func NewClient(c *rpc.Client) *Client {
	return &Client{rpc: c}
}

func (c *Client) CheckIn(ctx context.Context, userID, photoURL string) (Record, error) {
	return rpc.Send[Record](ctx, c.rpc, OpCheckIn, CheckInRequest{UserID: userID, PhotoURL: photoURL})
}

func (c *Client) CheckOut(ctx context.Context, userID string) (Record, error) {
	return rpc.Send[Record](ctx, c.rpc, OpCheckOut, UserRequest{UserID: userID})
}

func (c *Client) Status(ctx context.Context, userID string) (StatusResult, error) {
	return rpc.Send[StatusResult](ctx, c.rpc, OpGetStatus, UserRequest{UserID: userID})
}

func (c *Client) ListMine(ctx context.Context, userID string, q ListQuery) (Page, error) {
	q.UserID = userID
	return rpc.Send[Page](ctx, c.rpc, OpGetMy, q)
}

func (c *Client) ListAll(ctx context.Context, q ListQuery) (Page, error) {
	return rpc.Send[Page](ctx, c.rpc, OpGetAll, q)
}
