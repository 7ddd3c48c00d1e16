package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rohanbalixz/clad-pv/internal/auth"
	"github.com/rohanbalixz/clad-pv/internal/config"
	"github.com/rohanbalixz/clad-pv/internal/model"
)

type signFlags struct {
	curtailment float64
	nonce       string
	ts          int64
	secret      string
	secretFile  string
}

func (f *signFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.curtailment, "curtailment", 0, "Fraction of PV active power to curtail, 0..1")
	cmd.Flags().StringVar(&f.nonce, "nonce", "", "Nonce (random when empty)")
	cmd.Flags().Int64Var(&f.ts, "ts", 0, "Unix timestamp (now when 0)")
	cmd.Flags().StringVar(&f.secret, "secret", "", "Control secret (or "+config.EnvControlSecret+")")
	cmd.Flags().StringVar(&f.secretFile, "secret-file", "", "File holding the control secret")
	_ = cmd.MarkFlagRequired("curtailment")
}

func (f *signFlags) command(now time.Time) (model.CurtailmentCommand, error) {
	secret, err := loadSecret(f.secret, f.secretFile, config.EnvControlSecret)
	if err != nil {
		return model.CurtailmentCommand{}, err
	}
	nonce := f.nonce
	if nonce == "" {
		nonce = uuid.NewString()
	}
	ts := f.ts
	if ts == 0 {
		ts = now.Unix()
	}
	return model.CurtailmentCommand{
		Curtailment: f.curtailment,
		Nonce:       nonce,
		Timestamp:   ts,
		Tag:         auth.Sign(secret, f.curtailment, nonce, ts),
	}, nil
}

// loadSecret prefers the flag, then the file, then the environment.
func loadSecret(value, file, env string) ([]byte, error) {
	if value != "" {
		return []byte(value), nil
	}
	if file != "" {
		return auth.ReadSecretFile(file)
	}
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		return []byte(v), nil
	}
	return nil, fmt.Errorf("no secret: use --secret, --secret-file or %s", env)
}

func newSignCmd() *cobra.Command {
	var f signFlags
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print a signed curtailment command as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := f.command(time.Now())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(c)
		},
	}
	f.register(cmd)
	return cmd
}

func newSubmitCmd() *cobra.Command {
	var (
		f       signFlags
		url     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Sign a curtailment command and send it to the control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := f.command(time.Now())
			if err != nil {
				return err
			}
			body, err := json.Marshal(c)
			if err != nil {
				return err
			}
			client := &http.Client{Timeout: timeout}
			resp, err := client.Post(strings.TrimRight(url, "/")+"/api/v1/curtailment", "application/json", bytes.NewReader(body))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			out, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", resp.StatusCode, bytes.TrimSpace(out))
			if resp.StatusCode != http.StatusOK {
				return errors.New("command rejected")
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:8000", "Control API base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "HTTP timeout")
	return cmd
}
