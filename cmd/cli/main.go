package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cli",
		Short:        "Operator and test tools for the CLAD-PV gateway",
		SilenceUsage: true,
	}
	root.AddCommand(
		newSignCmd(),
		newSubmitCmd(),
		newReadCmd(),
		newAttackCmd(),
		newAuditVerifyCmd(),
	)
	return root
}
