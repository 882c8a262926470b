package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manthysbr/pharmaflow/internal/config"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Seal config secrets",
		Long: fmt.Sprintf(`Config secrets (llm.api_key, broker.worker_secret, s3.secret_access_key,
workers.market.brave_api_key) may be stored sealed as "enc:..." values. The key
comes from %s or the file named by %s.`, config.SecretKeyEnv, config.SecretKeyFileEnv),
		Annotations: map[string]string{skipConfig: "true"},
	}

	seal := &cobra.Command{
		Use:         "seal [value]",
		Short:       "Print the sealed form of a value (read from stdin when omitted)",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := secretValue(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			key, err := config.LoadSecretKey()
			if err != nil {
				return err
			}
			sealed, err := key.Seal(value)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
	cmd.AddCommand(seal)
	return cmd
}

func secretValue(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read value: %w", err)
	}
	value := strings.TrimRight(line, "\r\n")
	if value == "" {
		return "", errors.New("no value to seal")
	}
	return value, nil
}
