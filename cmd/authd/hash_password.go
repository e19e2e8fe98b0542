package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	auth "github.com/goliatone/go-franchise-auth"
	"github.com/goliatone/go-franchise-auth/config"
)

func newHashPasswordCmd() *cobra.Command {
	var skipStrength bool

	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the stored hash for a password",
		Long: `Hash a password with the configured pepper and argon2id parameters. The
password is read from the first argument or, when omitted, from the first
line of stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			password, err := readPassword(cmd, args)
			if err != nil {
				return err
			}

			if !skipStrength {
				if violations := auth.ValidatePasswordStrength(password); len(violations) > 0 {
					return auth.WeakPasswordError(violations)
				}
			}

			hasher, err := auth.NewPasswordHasherFromConfig(cfg)
			if err != nil {
				return err
			}

			hash, err := hasher.HashPassword(password)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipStrength, "skip-strength", false, "hash passwords that fail the strength rules")
	return cmd
}

func readPassword(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return "", errors.New("empty password")
	}
	return password, nil
}
