package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jathurchan/mcastlock/logger"
	"github.com/jathurchan/mcastlock/mutex"
	"github.com/jathurchan/mcastlock/peer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Server serves the control service for one peer.
type Server struct {
	cfg       Config
	submitter peer.Submitter
	board     *peer.Board
	limiter   RateLimiter
	logger    logger.Logger

	grpc *grpc.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
}

var _ ControlServer = (*Server)(nil)

// NewServer validates cfg and returns a server that submits commands through
// submitter and reads status from board.
func NewServer(cfg Config, submitter peer.Submitter, board *peer.Board, log logger.Logger) (*Server, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if board == nil {
		return nil, fmt.Errorf("%w: status board cannot be nil", ErrConfigValidation)
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.WithComponent("control")

	s := &Server{
		cfg:       cfg,
		submitter: submitter,
		board:     board,
		limiter:   NewTokenBucketRateLimiter(cfg.Rate, cfg.Burst, log),
		logger:    log,
	}

	s.grpc = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             max(cfg.KeepaliveTime/2, time.Second),
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(cfg.MaxMsgSize),
		grpc.MaxSendMsgSize(cfg.MaxMsgSize),
		grpc.UnaryInterceptor(s.unaryInterceptor),
	)
	RegisterControlServer(s.grpc, s)
	return s, nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(l)
}

// Serve serves on l in the background. The server owns l from here on.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = l.Close()
		return ErrServerStarted
	}
	s.listener = l
	s.serveErr = make(chan error, 1)

	go func() {
		err := s.grpc.Serve(l)
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Errorw("Control server stopped with error", "error", err)
		}
		s.serveErr <- err
	}()

	s.logger.Infow("Control server listening", "address", l.Addr().String())
	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop drains in-flight requests until ctx is done, then closes every connection.
func (s *Server) Stop(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Infow("Control server stopped")
	case <-ctx.Done():
		s.logger.Warnw("Graceful stop timed out, forcing", "error", ctx.Err())
		s.grpc.Stop()
		<-stopped
	}
}

// Submit implements ControlServer.
func (s *Server) Submit(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	name := req.GetValue()
	if name == "" {
		return nil, toStatus(ErrEmptyCommand)
	}

	result, err := s.submitter.Submit(ctx, name)
	if err != nil {
		return nil, toStatus(err)
	}
	if result.Err != nil {
		s.logger.Infow("Command returned an error", "command", name, "error", result.Err)
		return nil, toStatus(result.Err)
	}
	return wrapperspb.String(result.Snapshot.String()), nil
}

// Status implements ControlServer.
func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	snap, ok := s.board.Latest()
	if !ok {
		return nil, toStatus(ErrNoStatus)
	}
	return wrapperspb.String(snap.String()), nil
}

func (s *Server) unaryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	if !s.limiter.Allow() {
		s.logger.Warnw("Control request rate limited", "method", info.FullMethod)
		return nil, toStatus(ErrRateLimited)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debugw("Control request handled",
		"method", info.FullMethod,
		"duration", time.Since(start),
		"code", status.Code(err).String())
	return resp, err
}

// toStatus maps package errors to gRPC status errors.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, ErrEmptyCommand), errors.Is(err, peer.ErrUnknownCommand):
		code = codes.InvalidArgument
	case errors.Is(err, ErrRateLimited):
		code = codes.ResourceExhausted
	case errors.Is(err, peer.ErrStopped), errors.Is(err, ErrNoStatus):
		code = codes.Unavailable
	case errors.Is(err, mutex.ErrNetworkOpen), errors.Is(err, mutex.ErrSendFailure):
		code = codes.Unavailable
	case errors.Is(err, mutex.ErrAcquireTimeout), errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
