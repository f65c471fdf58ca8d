package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jathurchan/mcastlock/control"
	"github.com/spf13/cobra"
)

type ctlOptions struct {
	addr    string
	timeout time.Duration
}

func newCtlCommand() *cobra.Command {
	opts := &ctlOptions{}
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Talk to the control endpoint of a running peer",
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.addr, "addr", control.DefaultListenAddr, "control endpoint address")
	flags.DurationVar(&opts.timeout, "timeout", control.DefaultRequestTimeout, "request timeout")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "submit COMMAND",
			Short: "Submit JOIN, ACQUIRE, RELEASE or EXIT and print the resulting status",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.call(cmd, func(ctx context.Context, c *control.Client) (string, error) {
					return c.Submit(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the latest status of the peer",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return opts.call(cmd, func(ctx context.Context, c *control.Client) (string, error) {
					return c.Status(ctx)
				})
			},
		},
	)
	return cmd
}

func (o *ctlOptions) call(cmd *cobra.Command, fn func(context.Context, *control.Client) (string, error)) error {
	client, err := control.Dial(o.addr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	line, err := fn(ctx, client)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), line)
	return err
}
