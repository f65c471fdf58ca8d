package control

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the control service of a remote peer.
type Client struct {
	conn   grpc.ClientConnInterface
	closer func() error
}

// Dial creates a client for the control endpoint at target. Extra options are
// appended to the defaults, so they can override the transport.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                DefaultKeepaliveTime,
			Timeout:             DefaultKeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(DefaultMaxMsgSize),
			grpc.MaxCallSendMsgSize(DefaultMaxMsgSize),
		),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create control client for %s: %w", target, err)
	}
	return &Client{conn: conn, closer: conn.Close}, nil
}

// NewClient wraps an existing connection. Close does not close it.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn, closer: func() error { return nil }}
}

// Submit sends a command and returns the resulting status line.
func (c *Client) Submit(ctx context.Context, command string) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, SubmitMethod, wrapperspb.String(command), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Status returns the latest status line of the peer.
func (c *Client) Status(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.conn.Invoke(ctx, StatusMethod, &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Close releases the connection if the client created it.
func (c *Client) Close() error {
	return c.closer()
}
