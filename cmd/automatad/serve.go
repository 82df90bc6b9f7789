package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Comcast/automata/service"
)

func serveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, websocket, and MQTT service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":8080", "listen address")
	flags.String("storage", "mem", "storage driver: mem, bolt, or sqlite")
	flags.String("storage-path", "", "database file for bolt or sqlite")
	flags.String("mqtt-broker", "", "MQTT broker URL (disabled if empty)")
	_ = v.BindPFlag("http.addr", flags.Lookup("addr"))
	_ = v.BindPFlag("storage.driver", flags.Lookup("storage"))
	_ = v.BindPFlag("storage.path", flags.Lookup("storage-path"))
	_ = v.BindPFlag("mqtt.broker", flags.Lookup("mqtt-broker"))

	return cmd
}

func serve(ctx context.Context, cfg *service.Config) error {
	if cfg.Auth.JWTSecret == "" && !cfg.Auth.AccountTokens {
		log.Warn().Msg("neither auth.jwtSecret nor auth.accountTokens: no token will verify")
	}

	st, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("storage close")
		}
	}()

	s, err := service.New(cfg, st)
	if err != nil {
		return err
	}

	log.Info().Str("storage", cfg.Storage.Driver).Msg("starting")

	return s.Serve(ctx)
}
