package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/fbrt/internal/errs"
	"github.com/and161185/fbrt/internal/listener"
)

const typingPoll = 200 * time.Millisecond

func newTypingCmd(a *app) *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "typing <thread-id>",
		Short: "Send a typing indicator to a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, lg, stop, err := a.start(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()
			go func() {
				for range h.Events() {
				}
			}()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Options().HandshakeTimeout)
			defer cancel()
			if err := sendTyping(ctx, h, args[0], !off); err != nil {
				return err
			}
			a.persist(context.WithoutCancel(cmd.Context()), lg)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "typing=%t sent to %s\n", !off, args[0])
			return err
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "clear the indicator instead of setting it")
	return cmd
}

// typingSender is the part of listener.Handle used by sendTyping.
type typingSender interface {
	SendTyping(ctx context.Context, threadID string, typing bool) error
	Done() <-chan struct{}
	Err() error
}

var _ typingSender = (*listener.Handle)(nil)

// sendTyping retries until the connection is synced, the run ends or ctx expires.
func sendTyping(ctx context.Context, h typingSender, threadID string, typing bool) error {
	t := time.NewTicker(typingPoll)
	defer t.Stop()
	for {
		err := h.SendTyping(ctx, threadID, typing)
		if !errors.Is(err, errs.ErrNotConnected) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("typing: %w", ctx.Err())
		case <-h.Done():
			if err := h.Err(); err != nil {
				return err
			}
			return errs.ErrStopped
		case <-t.C:
		}
	}
}
