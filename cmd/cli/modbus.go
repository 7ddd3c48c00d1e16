package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohanbalixz/clad-pv/internal/adversary"
	"github.com/rohanbalixz/clad-pv/internal/logging"
	"github.com/rohanbalixz/clad-pv/internal/transport"
)

type modbusFlags struct {
	addr    string
	unit    uint8
	timeout time.Duration
}

func (f *modbusFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "127.0.0.1:5020", "Modbus/TCP host:port")
	cmd.Flags().Uint8Var(&f.unit, "unit", 1, "Unit id")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 2*time.Second, "Request timeout")
}

func (f *modbusFlags) client() (*transport.Client, error) {
	return transport.NewClient(transport.ClientConfig{Addr: f.addr, UnitID: f.unit, Timeout: f.timeout})
}

func newReadCmd() *cobra.Command {
	var f modbusFlags
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read and decode the register image once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := f.client()
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := cmd.Context()
			r, err := c.ReadReading(ctx)
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			hb, err := c.Heartbeat(ctx)
			if err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "V1_V=%.1f  V1_pu=%.3f  f_Hz=%.2f\n", r.V1V, r.V1PU, r.FHz)
			fmt.Fprintf(out, "P_PV=%.1f kW  Q_PV=%.1f kVAR\n", r.PPVkW, r.QPVkVAR)
			fmt.Fprintf(out, "P_Source=%.1f kW  Q_Source=%.1f kVAR\n", r.PSourcekW, r.QSourcekVAR)
			fmt.Fprintf(out, "pf_src=%.3f  pf_pv=%.3f\n", r.PFSource, r.PFPV)
			fmt.Fprintf(out, "heartbeat=%d\n", hb)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newAttackCmd() *cobra.Command {
	var (
		f     modbusFlags
		pause time.Duration
	)
	cmd := &cobra.Command{
		Use:   "attack",
		Short: "Spoof holding registers in four phases to exercise the monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := f.client()
			if err != nil {
				return err
			}
			defer c.Close()

			logger, err := logging.New(logging.Config{}, cmd.ErrOrStderr(), "attack")
			if err != nil {
				return err
			}
			rep, err := adversary.Attack{Pause: pause, Logger: logger}.Run(cmd.Context(), c)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "attack complete: %d writes, %d failed\n", len(rep.Results), rep.Failed())
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().DurationVar(&pause, "pause", 2*time.Second, "Wait between phases")
	return cmd
}
