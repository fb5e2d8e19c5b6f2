package main

import (
	"errors"
	"os"

	"rdispatch/cmd/rdispatch/commands"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rdispatch",
	Short: "Run scripts on remote hosts over SSH with pinned host keys",
	Long: `rdispatch delivers a script to a remote host over SSH and runs it there, reporting the remote exit code and output.

- The remote host key must already be present in known_hosts. Unknown or changed keys abort the run before any byte of the script is sent.
- Authentication uses a private key only, read from a file or from an environment variable.
- Credential material is kept for the duration of one run. Temporary files are created owner-only and removed on exit.

Exit codes:

0    success
1    the script exited non-zero on the remote host
2    invalid input or usage
10   connection failed
11   authentication failed
12   host verification failed
13   timeout
130  canceled
70   internal error

Pin a host key once, then dispatch:

rdispatch hostkey deploy@10.0.0.11 >> ~/.ssh/known_hosts
rdispatch run deploy@10.0.0.11 --ssh-key-path ~/.ssh/id_ed25519 --script deploy.sh
`,
	Version:       commands.VersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	commands.RegisterCommands(rootCmd)

	err := rootCmd.Execute()

	if err != nil {
		var exitErr *commands.ExitError
		if !errors.As(err, &exitErr) || !exitErr.Silent {
			rootCmd.PrintErrf("❌ Error: %v\n", err)
		}
	}

	os.Exit(commands.ExitCode(err))
}
