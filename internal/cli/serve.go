package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fmueller/whisperd/internal/engine"
	"github.com/fmueller/whisperd/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(app *appState) *cobra.Command {
	defaults := server.Config{Host: server.DefaultHost, Port: server.DefaultPort}

	cmd := &cobra.Command{
		Use:   "serve [port] [default_model]",
		Short: "Load the default model and serve transcription requests",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				port, err := parsePort(args[0])
				if err != nil {
					return err
				}
				app.cfg.Port = port
			}
			if len(args) > 1 {
				app.cfg.Model = args[1]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.serve(ctx)
		},
	}

	cmd.Flags().String("host", defaults.Host, "Address to bind")
	cmd.Flags().Int("port", defaults.Port, "Port to bind")
	cmd.Flags().String("model", "medium", "Model loaded at startup")
	cmd.Flags().String("backend", "server", "Inference backend: server|cli")
	cmd.Flags().Duration("shutdown-timeout", server.DefaultShutdownTimeout, "Grace period for in-flight requests on shutdown")
	return cmd
}

func (a *appState) serve(ctx context.Context) error {
	converter := a.prepareFFmpeg()

	loader, err := a.newLoader(a.cfg.Backend)
	if err != nil {
		return err
	}

	a.log().Info("starting whisperd",
		zap.String("backend", a.cfg.Backend),
		zap.String("model", a.cfg.Model),
		zap.String("device_preference", a.cfg.Device),
	)

	srv := server.New(server.Config{
		Host:            a.cfg.Host,
		Port:            a.cfg.Port,
		DefaultModel:    a.cfg.Model,
		ShutdownTimeout: a.cfg.ShutdownTimeout,
	}, loader, engine.NewService(loader, engine.New(converter, a.log())), a.log())

	return srv.Run(ctx)
}

func parsePort(value string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q: expected a number between 1 and 65535", value)
	}
	return port, nil
}
