package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sipuha/voicecheck/internal/auth"
)

func newUserCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Create, inspect and (de)activate accounts",
	}
	cmd.AddCommand(
		newUserAddCmd(stdin, stdout),
		newUserSetActiveCmd(stdout, "activate", true),
		newUserSetActiveCmd(stdout, "deactivate", false),
		newUserShowCmd(stdout),
	)
	return cmd
}

func newUserAddCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	var (
		email         string
		password      string
		passwordStdin bool
		inactive      bool
	)

	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an account or reset an existing one",
		Args:  cobra.ExactArgs(1),
		Long: `Create an account, or replace the password, email and active flag of an
existing one.

EXAMPLES:
  voicecheckctl user add alice --email alice@example.com --password-stdin < pw.txt
  voicecheckctl user add bob --password 'Secret-Passw0rd' --inactive`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if passwordStdin {
				pw, err := readPassword(stdin)
				if err != nil {
					return err
				}
				password = pw
			}
			if password == "" {
				return errors.New("a password is required (--password or --password-stdin)")
			}
			return runUserAdd(stdout, args[0], email, password, !inactive)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password (visible in shell history; prefer --password-stdin)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from the first line of stdin")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Create the account deactivated")
	cmd.MarkFlagsMutuallyExclusive("password", "password-stdin")

	return cmd
}

func runUserAdd(stdout io.Writer, username, email, password string, active bool) error {
	accounts, closeFn, err := openAccounts()
	if err != nil {
		return err
	}
	defer closeFn()

	u, err := accounts.Provision(username, email, password, active)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return errors.New("password must be 10-128 characters with a letter and a digit")
		}
		return err
	}
	fmt.Fprintf(stdout, "saved user %s (active=%t)\n", u.Username, u.IsActive)
	return nil
}

func newUserSetActiveCmd(stdout io.Writer, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <username>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, closeFn, err := openAccounts()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := accounts.SetActive(args[0], active); err != nil {
				if errors.Is(err, auth.ErrUserNotFound) {
					return fmt.Errorf("user %q not found", args[0])
				}
				return err
			}
			fmt.Fprintf(stdout, "user %s %sd\n", args[0], verb)
			return nil
		},
	}
}

func newUserShowCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "show <username>",
		Short: "Print an account record (without its password hash)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, closeFn, err := openAccounts()
			if err != nil {
				return err
			}
			defer closeFn()

			u, err := accounts.Lookup(args[0])
			if err != nil {
				if errors.Is(err, auth.ErrUserNotFound) {
					return fmt.Errorf("user %q not found", args[0])
				}
				return err
			}
			fmt.Fprintf(stdout, "id:         %s\n", u.ID)
			fmt.Fprintf(stdout, "username:   %s\n", u.Username)
			fmt.Fprintf(stdout, "email:      %s\n", u.Email)
			fmt.Fprintf(stdout, "active:     %t\n", u.IsActive)
			fmt.Fprintf(stdout, "created_at: %s\n", u.CreatedAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
