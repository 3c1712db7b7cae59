package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/chatrelay/pkg/web"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
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

	srv := web.NewServer(a.orch,
		web.WithAddress(viper.GetString("host"), viper.GetInt("port")),
		web.WithDefaultParams(a.params()),
	)
	fmt.Fprintf(os.Stderr, "Server running at http://%s\n", srv.Addr())
	return srv.Run(ctx)
}
