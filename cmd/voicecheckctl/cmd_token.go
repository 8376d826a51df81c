package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"sipuha/voicecheck/internal/auth"
)

func newTokenCmd(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Session token utilities",
	}
	cmd.AddCommand(newTokenIssueCmd(stdout))
	return cmd
}

func newTokenIssueCmd(stdout io.Writer) *cobra.Command {
	var header bool

	cmd := &cobra.Command{
		Use:   "issue <username>",
		Short: "Mint a session token for an active account",
		Args:  cobra.ExactArgs(1),
		Long: `Mint a session token for an active account without its password, for
scripted clients and smoke tests. The token lives for AUTH_TOKEN_TTL_SEC.

EXAMPLES:
  curl -H "$(voicecheckctl token issue alice --header)" --data-binary @clip.wav localhost:8000/media`,
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, closeFn, err := openAccounts()
			if err != nil {
				return err
			}
			defer closeFn()

			session, err := accounts.IssueFor(args[0])
			switch {
			case err == nil:
			case errors.Is(err, auth.ErrUserNotFound):
				return fmt.Errorf("user %q not found", args[0])
			case errors.Is(err, auth.ErrInactiveIdentity):
				return fmt.Errorf("user %q is inactive", args[0])
			default:
				return err
			}

			if header {
				fmt.Fprintf(stdout, "Authorization: Bearer %s\n", session.Token)
				return nil
			}
			fmt.Fprintln(stdout, session.Token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", session.ExpiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().BoolVar(&header, "header", false, "Print as an Authorization header line")
	return cmd
}
