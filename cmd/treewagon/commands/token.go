package commands

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/Treewagon/internal/server"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user>",
		Short: "Issue a bearer token for the repository server",
		Long: `Issue a bearer token signed with server.jwt_secret. Clients pass it with
--token or the "token" field of a configured repository.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := opts.cfg.Server
			if sc.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is not configured")
			}
			token, err := server.IssueToken(sc.JWTSecret, sc.JWTIssuer, args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", server.DefaultTokenTTL, "token lifetime")
	return cmd
}

func newHashPasswordCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin for server.users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return fmt.Errorf("password cannot be empty")
			}
			hash, err := server.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
