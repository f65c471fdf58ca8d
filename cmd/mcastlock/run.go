package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jathurchan/mcastlock/control"
	"github.com/jathurchan/mcastlock/logger"
	"github.com/jathurchan/mcastlock/metrics"
	"github.com/jathurchan/mcastlock/mutex"
	"github.com/jathurchan/mcastlock/peer"
	"github.com/jathurchan/mcastlock/transport"
	"github.com/jathurchan/mcastlock/types"
	"github.com/rs/xid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 5 * time.Second

// runOptions is the resolved configuration of the run subcommand.
type runOptions struct {
	Mutex         mutex.Config
	Transport     transport.Config
	Control       control.Config
	MetricsListen string
	Stdin         bool
}

func newRunCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a peer: commands are read from stdin, status lines are written to stdout",
		Example: `
  # Two peers on one host
  mcastlock run --id a
  mcastlock run --id b

  # Accept commands over gRPC and expose Prometheus metrics
  MCASTLOCK_CONTROL_LISTEN=127.0.0.1:7946 mcastlock run --metrics-listen :9464
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadRunOptions(v)
			if err != nil {
				return err
			}
			log, err := newLogger(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			log = log.WithPeerID(opts.Mutex.ID)

			network, err := transport.NewMulticastNetwork(opts.Transport, log)
			if err != nil {
				return err
			}
			return runPeer(cmd.Context(), opts, network, cmd.InOrStdin(), cmd.OutOrStdout(), log)
		},
	}

	d := transport.DefaultConfig()
	flags := cmd.Flags()
	flags.String("id", "", "peer id (default: a random xid)")
	flags.String("group", d.Group, "IPv4 multicast group")
	flags.Int("port", d.Port, "UDP port of the multicast group")
	flags.Int("ttl", d.TTL, "multicast time-to-live")
	flags.String("interface", "", "network interface to join the group on")
	flags.Bool("loopback", d.Loopback, "deliver multicast to peers on this host")
	flags.Duration("retry-interval", mutex.DefaultRetryInterval, "rebroadcast an unanswered request after this long")
	flags.Int("max-acquire-retries", mutex.DefaultMaxAcquireRetries, "rebroadcasts before a request is abandoned (negative: never)")
	flags.Bool("freeze-responders", false, "only wait for replies from the members known when the request was made")
	flags.String("control-listen", "", "gRPC control endpoint address (empty disables it)")
	flags.Float64("control-rate", control.DefaultRate, "control requests admitted per second (0 disables limiting)")
	flags.Int("control-burst", control.DefaultBurst, "control requests admitted at once")
	flags.String("metrics-listen", "", "Prometheus /metrics address (empty disables it)")
	flags.Bool("stdin", true, "read commands from stdin; EOF exits the peer")
	bindFlags(v, flags,
		"id", "group", "port", "ttl", "interface", "loopback",
		"retry-interval", "max-acquire-retries", "freeze-responders",
		"control-listen", "control-rate", "control-burst",
		"metrics-listen", "stdin",
	)
	return cmd
}

// loadRunOptions resolves and validates the run configuration.
func loadRunOptions(v *viper.Viper) (runOptions, error) {
	id := strings.TrimSpace(v.GetString("id"))
	if id == "" {
		id = xid.New().String()
	}

	mcfg := mutex.DefaultConfig(types.PeerID(id))
	mcfg.RetryInterval = v.GetDuration("retry-interval")
	mcfg.MaxAcquireRetries = v.GetInt("max-acquire-retries")
	mcfg.FreezeResponders = v.GetBool("freeze-responders")
	mcfg = mcfg.WithDefaults()
	if err := mcfg.Validate(); err != nil {
		return runOptions{}, err
	}

	tcfg := transport.DefaultConfig()
	tcfg.Group = v.GetString("group")
	tcfg.Port = v.GetInt("port")
	tcfg.TTL = v.GetInt("ttl")
	tcfg.Interface = v.GetString("interface")
	tcfg.Loopback = v.GetBool("loopback")
	tcfg = tcfg.WithDefaults()
	if err := tcfg.Validate(); err != nil {
		return runOptions{}, err
	}

	ccfg := control.DefaultConfig()
	ccfg.ListenAddr = strings.TrimSpace(v.GetString("control-listen"))
	ccfg.Rate = v.GetFloat64("control-rate")
	ccfg.Burst = v.GetInt("control-burst")
	if ccfg.ListenAddr != "" {
		if err := ccfg.Validate(); err != nil {
			return runOptions{}, err
		}
	}

	return runOptions{
		Mutex:         mcfg,
		Transport:     tcfg,
		Control:       ccfg,
		MetricsListen: strings.TrimSpace(v.GetString("metrics-listen")),
		Stdin:         v.GetBool("stdin"),
	}, nil
}

// runPeer runs one peer on network until it exits, either through an EXIT command,
// the end of in, or the cancellation of ctx.
func runPeer(
	ctx context.Context,
	opts runOptions,
	network transport.Network,
	in io.Reader,
	out io.Writer,
	log logger.Logger,
) error {
	var m mutex.Metrics = mutex.NewNoOpMetrics()
	if opts.MetricsListen != "" {
		prom := metrics.NewPrometheus(opts.Mutex.ID)
		srv, _, err := metrics.StartServer(opts.MetricsListen, prom.Handler(), log)
		if err != nil {
			return err
		}
		defer shutdown(log, "metrics server", srv.Shutdown)
		m = prom
	}

	commands := make(chan peer.Command)
	board := peer.NewBoard()
	p, err := peer.NewBuilder().
		WithConfig(opts.Mutex).
		WithNetwork(network).
		WithCommands(commands).
		WithStatusSink(peer.MultiSink{peer.WriterSink(out), board}).
		WithLogger(log).
		WithMetrics(m).
		Build()
	if err != nil {
		return err
	}
	submitter := p.Submitter(commands)

	if opts.Control.ListenAddr != "" {
		srv, err := control.NewServer(opts.Control, submitter, board, log)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer shutdown(log, "control server", func(ctx context.Context) error {
			srv.Stop(ctx)
			return nil
		})
	}

	if opts.Stdin {
		go readCommands(ctx, in, submitter, log)
	}

	log.Infow("Peer running",
		"group", opts.Transport.GroupAddr().String(),
		"retry_interval", opts.Mutex.RetryInterval.String(),
		"control", opts.Control.ListenAddr,
		"metrics", opts.MetricsListen,
	)
	return p.Run(ctx)
}

// readCommands submits each non-empty line of in as a command. The end of in is an
// EXIT. Failed commands are logged; their status is already on the sink.
func readCommands(ctx context.Context, in io.Reader, submitter peer.Submitter, log logger.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !submit(ctx, submitter, line, log) {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warnw("Reading commands failed", "error", err)
	}
	submit(ctx, submitter, peer.CommandExit.String(), log)
}

// submit reports whether the peer can still take commands.
func submit(ctx context.Context, submitter peer.Submitter, name string, log logger.Logger) bool {
	res, err := submitter.Submit(ctx, name)
	if err != nil {
		if !errors.Is(err, peer.ErrStopped) && !errors.Is(err, context.Canceled) {
			log.Warnw("Command not delivered", "command", name, "error", err)
		}
		return false
	}
	if res.Err != nil {
		log.Warnw("Command failed", "command", name, "error", res.Err)
	}
	return true
}

func shutdown(log logger.Logger, what string, stop func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		log.Warnw("Shutdown failed", "component", what, "error", err)
	}
}
