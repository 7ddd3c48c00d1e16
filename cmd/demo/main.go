// Command demo runs the publisher, control service and monitor in one
// process on a virtual clock and prints what a protocol client would see.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohanbalixz/clad-pv/internal/adversary"
	"github.com/rohanbalixz/clad-pv/internal/audit"
	"github.com/rohanbalixz/clad-pv/internal/auth"
	"github.com/rohanbalixz/clad-pv/internal/control"
	"github.com/rohanbalixz/clad-pv/internal/logging"
	"github.com/rohanbalixz/clad-pv/internal/model"
	"github.com/rohanbalixz/clad-pv/internal/monitor"
	"github.com/rohanbalixz/clad-pv/internal/publisher"
	"github.com/rohanbalixz/clad-pv/internal/registers"
	"github.com/rohanbalixz/clad-pv/internal/schedule"
	"github.com/rohanbalixz/clad-pv/internal/storage"
	"github.com/rohanbalixz/clad-pv/internal/telemetry"
	"github.com/rohanbalixz/clad-pv/internal/transport"
)

type options struct {
	csv         string
	ticks       int
	curtailment float64
	curtailAt   int
	attackAt    int
	out         string
}

func main() {
	var o options
	cmd := &cobra.Command{
		Use:          "demo",
		Short:        "Simulate the gateway in-process on a virtual clock",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), o, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&o.csv, "csv", "", "Telemetry CSV (synthetic baseline when empty)")
	cmd.Flags().IntVarP(&o.ticks, "n", "n", 12, "Number of ticks to simulate")
	cmd.Flags().Float64Var(&o.curtailment, "curtailment", -1, "Submit a signed curtailment command (0..1); negative disables")
	cmd.Flags().IntVar(&o.curtailAt, "curtail-at", 3, "Tick at which the curtailment command is submitted")
	cmd.Flags().IntVar(&o.attackAt, "attack-at", -1, "Tick at which spoofed writes begin, one phase per tick; negative disables")
	cmd.Flags().StringVar(&o.out, "out", "", "Optional path for a CSV of decoded readings")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, stdout, stderr io.Writer) error {
	logger, err := logging.New(logging.Config{Level: "warn"}, stderr, "demo")
	if err != nil {
		return err
	}

	var src telemetry.Source
	start := telemetry.DefaultBaseline().Start
	if o.csv != "" {
		samples, err := telemetry.LoadCSV(o.csv)
		if err != nil {
			return err
		}
		cyc, err := telemetry.NewCycle(samples)
		if err != nil {
			return err
		}
		src, start = cyc, samples[0].Timestamp
	} else {
		src = telemetry.NewBaseline(telemetry.DefaultBaseline())
	}
	clk := schedule.NewFake(start)

	// Spoofed writes only land in lab mode.
	img := registers.NewImage(registers.Options{Writable: o.attackAt >= 0})

	secret := []byte("demo-control-secret")
	trail, err := audit.NewTrail(storage.NewMemJournal(), []byte("demo-audit-secret"))
	if err != nil {
		return err
	}
	svc, err := control.NewService(
		control.OpenStore(storage.NewMemBlob(), logger),
		trail,
		auth.NewStaticKeyring(secret),
		control.Options{Clock: clk, Logger: logger},
	)
	if err != nil {
		return err
	}

	pub := publisher.New(src, svc, img, publisher.Options{Logger: logger})
	alerts := make(chan model.AlertEvent, 64)
	mopts := monitor.Options{Sinks: []monitor.Sink{monitor.ChanSink(alerts)}, Logger: logger}
	if o.out != "" {
		tap, err := monitor.CreateTapFile(o.out)
		if err != nil {
			return err
		}
		defer tap.Close()
		mopts.Taps = append(mopts.Taps, tap)
	}
	mon := monitor.New(transport.ImageReader{Image: img, Clock: clk}, mopts)
	writer := transport.ImageWriter{Image: img}
	phases := adversary.DefaultPhases()

	fmt.Fprintf(stdout, "%-4s %-5s %8s %7s %8s %9s %9s %6s %6s  %s\n",
		"tick", "hb", "V1_pu", "f_Hz", "P_PV", "P_Source", "Q_Source", "pf_s", "pf_pv", "alerts")
	for i := 0; i < o.ticks; i++ {
		if o.curtailment >= 0 && i == o.curtailAt {
			cmd := model.CurtailmentCommand{
				Curtailment: o.curtailment,
				Nonce:       fmt.Sprintf("demo-%d", i),
				Timestamp:   clk.Now().Unix(),
			}
			cmd.Tag = auth.Sign(secret, cmd.Curtailment, cmd.Nonce, cmd.Timestamp)
			applied, err := svc.Submit(ctx, cmd, "demo")
			if err != nil {
				fmt.Fprintf(stdout, "curtailment rejected: %s\n", control.Kind(err))
			} else {
				fmt.Fprintf(stdout, "curtailment applied: %.2f\n", applied)
			}
		}
		if err := pub.Tick(ctx); err != nil {
			return err
		}
		if k := i - o.attackAt; o.attackAt >= 0 && k >= 0 && k < len(phases) {
			atk := adversary.Attack{Phases: phases[k : k+1], Clock: clk, Logger: logger}
			if _, err := atk.Run(ctx, writer); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "spoofed phase: %s\n", phases[k].Name)
		}
		if err := mon.Tick(ctx); err != nil {
			return err
		}

		var fired []model.AlertEvent
	drain:
		for {
			select {
			case a := <-alerts:
				fired = append(fired, a)
			default:
				break drain
			}
		}
		r, _ := mon.Previous()
		fmt.Fprintf(stdout, "%-4d %-5d %8.3f %7.2f %8.1f %9.1f %9.1f %6.3f %6.3f  %s\n",
			i, img.Snapshot().Input[registers.HeartbeatAddr],
			r.V1PU, r.FHz, r.PPVkW, r.PSourcekW, r.QSourcekVAR, r.PFSource, r.PFPV,
			monitor.RuleNames(fired))

		clk.Advance(time.Second)
	}
	return nil
}
