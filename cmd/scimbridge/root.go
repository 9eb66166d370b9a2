package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dhawalhost/scimbridge/internal/connector"
	"github.com/dhawalhost/scimbridge/internal/connector/scim"
	"github.com/dhawalhost/scimbridge/internal/rest"
	"github.com/dhawalhost/scimbridge/pkg/logger"
	"github.com/dhawalhost/scimbridge/pkg/observability"
)

// app carries the state shared by every command once the config is loaded.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     appConfig
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "scimbridge",
		Short: "Schema-driven provisioning bridge for SCIM services.",
		Long: `scimbridge maps generic provisioning objects onto SCIM 2.0 Users and Groups.
It serves a host API over configured connectors, and its commands drive
the same connectors from a shell.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("debug", false, "development logging")
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.development", flags.Lookup("debug"))

	root.AddCommand(
		newServeCmd(a),
		newTestCmd(a),
		newSearchCmd(a),
		newMockBackendCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := loadConfig(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	l, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	a.logger = l
	if a.cfgFile != "" {
		a.logger.Debug("Using config file", zap.String("file", a.cfgFile))
	}
	return nil
}

// registry opens every configured connector. Outbound metrics are registered
// with reg.
func (a *app) registry(reg prometheus.Registerer) (connector.Registry, error) {
	r := connector.NewRegistry()
	r.Register(scim.Type, scim.NewFactory(scim.Dependencies{
		Logger:  a.logger,
		Metrics: rest.NewMetrics(reg),
		Tracer:  observability.Tracer("github.com/dhawalhost/scimbridge"),
	}))
	for _, cc := range a.cfg.Connectors {
		if _, err := r.Create(cc); err != nil {
			_ = r.Close()
			return nil, err
		}
		a.logger.Info("Connector registered", zap.String("id", cc.ID), zap.String("type", cc.Type))
	}
	return r, nil
}

func execute(ctx context.Context) int {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
