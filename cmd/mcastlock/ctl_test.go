package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jathurchan/mcastlock/control"
	"github.com/jathurchan/mcastlock/mutex"
	"github.com/jathurchan/mcastlock/peer"
	"github.com/jathurchan/mcastlock/testutil"
	"github.com/jathurchan/mcastlock/transport"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// startControlledPeer runs a peer on a hub with a control server on a loopback port
// and returns the server address.
func startControlledPeer(t *testing.T) string {
	t.Helper()

	hub := transport.NewHub(0)
	commands := make(chan peer.Command)
	board := peer.NewBoard()
	p, err := peer.NewBuilder().
		WithConfig(mutex.DefaultConfig("a")).
		WithNetwork(hub.Endpoint("a")).
		WithCommands(commands).
		WithStatusSink(board).
		Build()
	testutil.RequireNoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.Run(ctx) }()

	cfg := control.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Rate = 0
	srv, err := control.NewServer(cfg, p.Submitter(commands), board, nil)
	testutil.RequireNoError(t, err)
	testutil.RequireNoError(t, srv.Start())

	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		srv.Stop(stopCtx)
		cancel()
		<-p.Done()
	})
	return srv.Addr().String()
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.Execute()
	return out.String(), err
}

func TestCtl_SubmitAndStatus(t *testing.T) {
	addr := startControlledPeer(t)

	out, err := execute(t, "ctl", "--addr", addr, "submit", "join")
	testutil.RequireNoError(t, err)
	testutil.AssertEqual(t, "peer=a state=RELEASED members=[] deferred=[]\n", out)

	out, err = execute(t, "ctl", "--addr", addr, "submit", "ACQUIRE")
	testutil.RequireNoError(t, err)
	testutil.AssertContains(t, out, "state=HELD")

	out, err = execute(t, "ctl", "--addr", addr, "status")
	testutil.RequireNoError(t, err)
	testutil.AssertContains(t, out, "state=HELD")
}

func TestCtl_Errors(t *testing.T) {
	addr := startControlledPeer(t)

	_, err := execute(t, "ctl", "--addr", addr, "submit", "bogus")
	testutil.AssertEqual(t, codes.InvalidArgument, status.Code(err))

	_, err = execute(t, "ctl", "--addr", addr, "submit")
	testutil.AssertError(t, err, "a command is required")

	_, err = execute(t, "ctl", "--addr", addr, "status", "extra")
	testutil.AssertError(t, err)
}

func TestCtl_Unreachable(t *testing.T) {
	_, err := execute(t, "ctl", "--addr", "127.0.0.1:1", "--timeout", "200ms", "status")
	testutil.AssertError(t, err)
	code := status.Code(err)
	testutil.AssertTrue(t, code == codes.Unavailable || code == codes.DeadlineExceeded,
		"unexpected code %v", code)
}
