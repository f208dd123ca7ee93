package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/afs-fleetpro/comms/internal/config"
	"github.com/afs-fleetpro/comms/internal/gateway"
	"github.com/afs-fleetpro/comms/internal/logging"
	"github.com/afs-fleetpro/comms/internal/relay"
	"github.com/afs-fleetpro/comms/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the comms server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if logLevel == "" {
				log = logging.NewStyled(cfg.Logging.Style, cfg.Logging.Level)
			}

			// Message store (sqlite or in-memory)
			var messages store.MessageStore
			if cfg.Store.Driver == "sqlite" {
				db, err := store.Open(cfg.Store.Path, log)
				if err != nil {
					return fmt.Errorf("opening database: %w", err)
				}
				defer db.Close()
				messages = store.NewSQLiteMessageStore(db)
				log.Info().Str("path", cfg.Store.Path).Msg("using SQLite message store")
			} else {
				messages = store.NewMemoryMessageStore()
				log.Info().Msg("using in-memory message store")
			}

			// Relay backbone (redis for multi-instance, local otherwise)
			var rel relay.Relay
			if cfg.Relay.Mode == "redis" {
				redisRelay, err := relay.NewRedis(cfg.Relay.RedisURI, log)
				if err != nil {
					return fmt.Errorf("configuring redis relay: %w", err)
				}
				defer redisRelay.Close()
				rel = redisRelay
				log.Info().Msg("using redis relay")
			} else {
				rel = relay.NewLocal(cfg.Session.SendBuffer, log)
				log.Info().Msg("using local relay (single instance)")
			}

			srv := gateway.New(cfg, rel, messages, log)

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, auto, custom)")

	return cmd
}
