package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ownlingo/catalog-translate/server"
)

var serverCmd = &cobra.Command{
	Use:   "server [port]",
	Short: "Serve POST /translate backed by the provider chain",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Server.Port
		if len(args) == 1 {
			p, err := strconv.Atoi(args[0])
			if err != nil || p <= 0 || p > 65535 {
				return fmt.Errorf("invalid port %q", args[0])
			}
			port = p
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		chain, err := buildChain(ctx, nil)
		if err != nil {
			return err
		}
		defer chain.Close()

		srv := server.New(chain, chain.Providers(), logger, server.Options{
			Host:            cfg.Server.Host,
			Port:            port,
			RequestTimeout:  cfg.Server.RequestTimeout,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			BodyLimit:       cfg.Server.BodyLimit,
		})
		return srv.Start(ctx)
	},
}
