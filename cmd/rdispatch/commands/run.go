package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rdispatch/cmd/rdispatch/config"
	"rdispatch/internal/inventory"
	"rdispatch/internal/logger"
	"rdispatch/internal/payload"
	"rdispatch/internal/report"
	"rdispatch/internal/ssh"

	"github.com/spf13/cobra"
)

type runFlags struct {
	script         string
	command        string
	sshKeyPath     string
	askPassphrase  bool
	knownHosts     string
	timeout        time.Duration
	connectTimeout time.Duration
	interpreter    string
	uploads        []string
	vars           []string
	inventoryPath  string
	asJSON         bool
	parallel       int
}

var runOpts runFlags

var RunCmd = &cobra.Command{
	Use:   "run [username@hostname[:port]]",
	Short: "Run a script on a remote host over SSH",
	Long: `Run a script on one remote host, or on every host of an inventory, over SSH.

The host key is checked against known hosts before anything is sent. The script is streamed to the remote interpreter on stdin, never written to the remote disk.

Examples:

rdispatch run deploy@10.0.0.11 --script deploy.sh
rdispatch run deploy@10.0.0.11:2222 --command 'systemctl restart app' --timeout 2m
rdispatch run --inventory hosts.yaml --script migrate.sh --var release=v1.4.2 --parallel 8

The private key may also be passed as content in RDISPATCH_SSH_PRIVATE_KEY, and known hosts as content in RDISPATCH_KNOWN_HOSTS.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkRunFlags(runOpts); err != nil {
			return err
		}

		cfg, err := config.Load()

		if err != nil {
			return err
		}

		log := logger.Setup(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

		entries, err := resolveEntries(args, runOpts.inventoryPath)

		if err != nil {
			return err
		}

		script, err := loadPayload(cmd.InOrStdin(), runOpts)

		if err != nil {
			return err
		}

		creds, err := buildCredentials(cfg, runOpts, cmd.ErrOrStderr())

		if err != nil {
			return err
		}

		defer creds.Wipe()

		uploads := make([]ssh.Upload, 0, len(runOpts.uploads))

		for _, raw := range runOpts.uploads {
			upload, err := parseUpload(raw)

			if err != nil {
				return err
			}

			uploads = append(uploads, upload)
		}

		timeout := cfg.Timeout
		if runOpts.timeout > 0 {
			timeout = runOpts.timeout
		}

		connectTimeout := cfg.ConnectTimeout
		if runOpts.connectTimeout > 0 {
			connectTimeout = runOpts.connectTimeout
		}

		dispatcher := ssh.NewDispatcher(ssh.Options{
			Timeout:        timeout,
			ConnectTimeout: connectTimeout,
			Interpreter:    runOpts.interpreter,
			Uploads:        uploads,
			MaxOutputBytes: cfg.MaxOutputBytes,
			TempDir:        cfg.TempDir,
		}, log)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		timeoutSet := cmd.Flags().Changed("timeout")
		interpreterSet := cmd.Flags().Changed("interpreter")

		outcomes := inventory.RunAll(ctx, entries, runOpts.parallel, func(ctx context.Context, e inventory.Entry) (*ssh.DispatchResult, error) {
			d := dispatcher
			if e.Interpreter != "" && !interpreterSet {
				d = dispatcher.WithInterpreter(e.Interpreter)
			}

			entryTimeout := timeout
			if e.Timeout > 0 && !timeoutSet {
				entryTimeout = e.Timeout
			}

			return d.Dispatch(ctx, e.Target(), creds, script, entryTimeout)
		})

		records := report.Records(outcomes)

		if err := report.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), runOpts.asJSON).Print(records); err != nil {
			log.Warn().Err(err).Msg("failed to print results")
		}

		report.Notify(ctx, log, records, cfg.Sinks()...)

		if failed, ok := inventory.FirstFailure(outcomes); ok {
			failure := failed.Failure()
			return &ExitError{Code: ssh.KindOf(failure).ExitCode(), Err: failure, Silent: true}
		}

		return nil
	},
}

// checkRunFlags rejects flag combinations that cannot work together.
func checkRunFlags(opts runFlags) error {
	if opts.script == payload.StdinPath && opts.askPassphrase {
		return fmt.Errorf("%w: --script - reads stdin, which --ask-passphrase needs for the prompt; use RDISPATCH_SSH_KEY_PASSPHRASE instead", ssh.ErrInvalidInput)
	}
	return nil
}

// resolveEntries returns the single positional target or the inventory targets.
func resolveEntries(args []string, inventoryPath string) ([]inventory.Entry, error) {
	switch {
	case inventoryPath != "" && len(args) > 0:
		return nil, fmt.Errorf("%w: use either a target argument or --inventory, not both", ssh.ErrInvalidInput)
	case inventoryPath != "":
		inv, err := inventory.Load(inventoryPath)

		if err != nil {
			return nil, err
		}

		return inv.Targets, nil
	case len(args) == 1:
		target, err := parseSSHURL(args[0], true)

		if err != nil {
			return nil, err
		}

		return []inventory.Entry{{Name: args[0], Host: target.Host, User: target.User, Port: target.Port}}, nil
	default:
		return nil, fmt.Errorf("%w: a target (username@hostname[:port]) or --inventory is required", ssh.ErrInvalidInput)
	}
}

func loadPayload(stdin io.Reader, opts runFlags) (ssh.Payload, error) {
	var (
		script ssh.Payload
		err    error
	)

	switch {
	case opts.script != "" && opts.command != "":
		return nil, fmt.Errorf("%w: use either --script or --command, not both", ssh.ErrInvalidInput)
	case opts.script != "":
		script, err = payload.FromFile(opts.script, stdin)
	case opts.command != "":
		script, err = payload.FromString(opts.command)
	default:
		return nil, fmt.Errorf("%w: --script or --command is required", ssh.ErrInvalidInput)
	}

	if err != nil {
		return nil, err
	}

	if len(opts.vars) == 0 {
		return script, nil
	}

	vars, err := parseVars(opts.vars)

	if err != nil {
		return nil, err
	}

	return payload.Render(script, vars)
}

// buildCredentials picks key and known hosts material. An explicit flag wins
// over content from the environment, which wins over a configured path.
func buildCredentials(cfg *config.Configuration, opts runFlags, errOut io.Writer) (*ssh.Credentials, error) {
	creds := &ssh.Credentials{Passphrase: cfg.SSHKeyPassphrase}

	switch {
	case opts.sshKeyPath != "":
		creds.PrivateKeyPath = opts.sshKeyPath
	case cfg.SSHPrivateKey != "":
		creds.PrivateKeyData = []byte(cfg.SSHPrivateKey)
	case cfg.SSHKeyPath != "":
		creds.PrivateKeyPath = cfg.SSHKeyPath
	default:
		return nil, fmt.Errorf("%w: %w: use --ssh-key-path or RDISPATCH_SSH_PRIVATE_KEY", ssh.ErrInvalidInput, ssh.ErrNoPrivateKey)
	}

	switch {
	case opts.knownHosts != "":
		creds.KnownHostsPath = opts.knownHosts
	case cfg.KnownHosts != "":
		creds.KnownHostsData = []byte(cfg.KnownHosts + "\n")
	case cfg.KnownHostsPath != "":
		creds.KnownHostsPath = cfg.KnownHostsPath
	default:
		return nil, fmt.Errorf("%w: %w: use --known-hosts or RDISPATCH_KNOWN_HOSTS", ssh.ErrInvalidInput, ssh.ErrNoKnownHosts)
	}

	if opts.askPassphrase {
		passphrase, err := readPasswordSecurely("🔒 Enter SSH key passphrase: ", errOut)

		if err != nil {
			return nil, fmt.Errorf("%w: failed to read passphrase: %v", ssh.ErrInvalidInput, err)
		}

		creds.Passphrase = passphrase
	}

	return creds, nil
}

func init() {
	RunCmd.Flags().StringVar(&runOpts.script, "script", "", "Path to the script to run, - reads it from stdin")
	RunCmd.Flags().StringVar(&runOpts.command, "command", "", "Inline script to run")
	RunCmd.Flags().StringVar(&runOpts.sshKeyPath, "ssh-key-path", "", "Path to SSH private key file")
	RunCmd.Flags().BoolVar(&runOpts.askPassphrase, "ask-passphrase", false, "Prompt for the SSH key passphrase")
	RunCmd.Flags().StringVar(&runOpts.knownHosts, "known-hosts", "", "Path to known_hosts file (default ~/.ssh/known_hosts)")
	RunCmd.Flags().DurationVar(&runOpts.timeout, "timeout", 0, "Maximum execution time per host (default 10m)")
	RunCmd.Flags().DurationVar(&runOpts.connectTimeout, "connect-timeout", 0, "Maximum time to connect and complete the SSH handshake (default 10s)")
	RunCmd.Flags().StringVar(&runOpts.interpreter, "interpreter", "", "Remote command reading the script from stdin, e.g. 'bash -s' (default: login shell)")
	RunCmd.Flags().StringArrayVar(&runOpts.uploads, "upload", nil, "Copy local:remote over SFTP before running the script (repeatable)")
	RunCmd.Flags().StringArrayVar(&runOpts.vars, "var", nil, "Render the script as a template with key=value (repeatable)")
	RunCmd.Flags().StringVar(&runOpts.inventoryPath, "inventory", "", "YAML inventory of target hosts")
	RunCmd.Flags().BoolVar(&runOpts.asJSON, "json", false, "Print one JSON object per host")
	RunCmd.Flags().IntVar(&runOpts.parallel, "parallel", inventory.DefaultParallel, "Maximum number of hosts dispatched at once")
}
