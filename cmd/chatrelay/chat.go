package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-go-golems/chatrelay/pkg/events"
	"github.com/go-go-golems/chatrelay/pkg/helpers"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const chatTopic = "chat"

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().Bool("dump-events", false, "Print every streamed event as JSON to stderr")
	_ = viper.BindPFlag("dump-events", cmd.Flags().Lookup("dump-events"))
	return cmd
}

func runChat(ctx context.Context, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			log.Warn().Err(err).Msg("could not close store")
		}
	}()

	if _, err := a.selectDefaultModel(ctx); err != nil {
		return err
	}

	r := &repl{orch: a.orch, out: out, params: a.params()}

	if !viper.GetBool("stream") {
		return runREPL(ctx, r, in)
	}

	router, err := events.NewEventRouter(
		events.WithLogger(helpers.NewWatermill(log.Logger)),
		events.WithVerbose(viper.GetBool("verbose")),
	)
	if err != nil {
		return err
	}
	defer func() { _ = router.Close() }()

	router.AddHandler("printer", chatTopic, events.PrinterFunc("Assistant", out))
	if viper.GetBool("dump-events") {
		router.AddHandler("dump", chatTopic, router.DumpRawEvents(os.Stderr))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		select {
		case <-router.Running():
		case <-ctx.Done():
			return nil
		}
		r.sink = router.Sink(chatTopic)
		return runREPL(ctx, r, in)
	})
	return eg.Wait()
}

// runREPL sends --prompt as a single message when given, otherwise starts
// the interactive loop.
func runREPL(ctx context.Context, r *repl, in io.Reader) error {
	if prompt := strings.TrimSpace(viper.GetString("prompt")); prompt != "" {
		if err := r.newConversation(ctx); err != nil {
			return err
		}
		r.send(ctx, prompt)
		return nil
	}
	return r.Run(ctx, in)
}
