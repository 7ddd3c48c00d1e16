package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rohanbalixz/clad-pv/internal/audit"
	"github.com/rohanbalixz/clad-pv/internal/config"
)

func newAuditVerifyCmd() *cobra.Command {
	var file, secret, secretFile string
	cmd := &cobra.Command{
		Use:   "audit-verify",
		Short: "Check the signature of every record in an audit log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := loadSecret(secret, secretFile, config.EnvAuditSecret)
			if err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := audit.Scan(f, key)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, fd := range res.Findings {
				fmt.Fprintf(out, "line %d: %v\n", fd.Line, fd.Err)
			}
			fmt.Fprintf(out, "%d records, %d valid, %d bad\n", res.Records, res.Valid, len(res.Findings))
			if !res.OK() {
				return errors.New("audit log has invalid records")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "logs/audit.log", "Audit log path")
	cmd.Flags().StringVar(&secret, "secret", "", "Audit secret (or "+config.EnvAuditSecret+")")
	cmd.Flags().StringVar(&secretFile, "secret-file", "", "File holding the audit secret")
	return cmd
}
