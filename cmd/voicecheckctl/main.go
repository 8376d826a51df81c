// voicecheckctl manages voicecheck accounts and tokens against the configured
// identity store.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// errExit signals a non-zero exit after the command already reported why.
var errExit = errors.New("exit")

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd(stdin, stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errExit) {
			fmt.Fprintf(stderr, "voicecheckctl: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "voicecheckctl",
		Short: "Manage voicecheck accounts and session tokens",
		Long: `voicecheckctl reads the same configuration as the server
(VOICECHECK_CONFIG_FILE, DATABASE_URL, AUTH_*) and operates on its
identity store directly.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			fmt.Fprintf(stderr, "voicecheckctl: unknown command %q\n", args[0])
			return errExit
		},
	}
	root.AddCommand(
		newUserCmd(stdin, stdout),
		newTokenCmd(stdout),
		newDBCmd(stdout),
	)
	return root
}
