// Package main is automatad: the automata service and its blueprint
// tools.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Comcast/automata/service"
	"github.com/Comcast/automata/storage"
	"github.com/Comcast/automata/storage/bolt"
	"github.com/Comcast/automata/storage/mem"
	"github.com/Comcast/automata/storage/sqlite"
)

func main() {
	if err := newRootCmd(viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "automatad",
		Short: "Hosted automata",
		Long: `automatad hosts automata: machines defined by verified blueprints whose
state changes only by applying events.

Configuration comes from flags, AUTOMATA_* environment variables
(AUTOMATA_HTTP_ADDR for http.addr), and an optional YAML file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(v.GetString("log.level"), v.GetBool("log.console"))
		},
	}

	initConfig(v)

	flags := root.PersistentFlags()
	flags.String("config", "", "optional config file")
	flags.String("log-level", "info", "debug, info, warn, or error")
	flags.Bool("log-console", false, "human-friendly log output")
	_ = v.BindPFlag("config", flags.Lookup("config"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.console", flags.Lookup("log-console"))

	root.AddCommand(serveCmd(v))
	root.AddCommand(blueprintCmd())
	root.AddCommand(keygenCmd())
	root.AddCommand(tokenCmd(v))

	return root
}

func initConfig(v *viper.Viper) {
	v.SetEnvPrefix("AUTOMATA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so every key
	// gets a default.
	d := service.DefaultConfig()
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.maxConns", d.HTTP.MaxConns)
	v.SetDefault("http.basePath", d.HTTP.BasePath)
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("auth.jwtSecret", d.Auth.JWTSecret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.keyTTL", d.Auth.KeyTTL)
	v.SetDefault("auth.accountTokens", d.Auth.AccountTokens)
	v.SetDefault("engine.timeout", d.Engine.Timeout)
	v.SetDefault("engine.retries", d.Engine.Retries)
	v.SetDefault("broadcast.concurrency", d.Broadcast.Concurrency)
	v.SetDefault("broadcast.deliveryTimeout", d.Broadcast.DeliveryTimeout)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.clientId", d.MQTT.ClientID)
	v.SetDefault("mqtt.prefix", d.MQTT.Prefix)
	v.SetDefault("mqtt.mirror", d.MQTT.Mirror)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.console", d.Log.Console)
}

// loadConfig reads the config file, if any, and returns the
// validated configuration.
func loadConfig(v *viper.Viper) (*service.Config, error) {
	if filename := v.GetString("config"); filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config %s: %w", filename, err)
		}
	}

	cfg := service.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(level string, console bool) error {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(l)
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}

func openStorage(ctx context.Context, cfg service.StorageConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case "mem":
		return mem.NewStorage(), nil
	case "bolt":
		s, err := bolt.NewStorage(cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := s.Open(); err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		return sqlite.Open(ctx, cfg.Path)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
