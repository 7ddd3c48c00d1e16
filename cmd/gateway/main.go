package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rohanbalixz/clad-pv/internal/config"
	"github.com/rohanbalixz/clad-pv/internal/gateway"
	"github.com/rohanbalixz/clad-pv/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "gateway",
		Short:        "Grid-edge control-security gateway for a simulated PV inverter",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to YAML config (defaults apply when empty)")
	root.AddCommand(newServeCmd(), newValidateCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	if err := cfg.ResolveSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	var lab bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the publisher, Modbus server, control API and monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if lab {
				cfg.Modbus.Writable = true
			}
			logger, err := logging.New(cfg.Log, os.Stderr, "gateway")
			if err != nil {
				return err
			}

			gw, err := gateway.New(cfg, logger, gateway.Options{})
			if err != nil {
				return err
			}
			defer gw.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("gateway starting",
				"api", cfg.API.Addr,
				"modbus", cfg.Modbus.Addr,
				"monitor", cfg.Monitor.Enabled,
				"writable", cfg.Modbus.Writable,
			)
			if err := gw.Run(ctx); err != nil {
				logger.Error("gateway stopped with error", "error", err)
				return err
			}
			logger.Info("gateway stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&lab, "lab", false, "Let Modbus writes reach the register image (testing only)")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if show {
				out, err := yaml.Marshal(cfg.Redacted())
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), string(out))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config ok")
			return nil
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "Print the effective config with secrets removed")
	return cmd
}
