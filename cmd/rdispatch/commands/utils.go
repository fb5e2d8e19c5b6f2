package commands

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"rdispatch/internal/ssh"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// ExitError carries the process exit code of a failed command. Silent errors
// were already reported to the user.
type ExitError struct {
	Code   int
	Err    error
	Silent bool
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ssh.KindOf(err).ExitCode()
}

func usageError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ssh.ErrInvalidInput, err)
}

// usageArgs makes cobra argument errors exit with the usage code.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usageError(validate(cmd, args))
	}
}

func readPasswordSecurely(prompt string, errOut io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())

	if !term.IsTerminal(fd) {
		return "", errors.New("passphrase prompt requires a terminal")
	}

	fmt.Fprintf(errOut, "%s", prompt)

	bytePassword, err := term.ReadPassword(fd)

	fmt.Fprintf(errOut, "\n")

	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

// parseSSHURL parses username@hostname[:port]. IPv6 hosts may be bracketed
// ([::1]:2222) or bare (::1) when no port is given.
func parseSSHURL(sshURL string, requireUser bool) (ssh.Target, error) {
	target := ssh.Target{Port: ssh.DefaultPort}
	hostPart := sshURL

	if at := strings.LastIndex(sshURL, "@"); at >= 0 {
		target.User = sshURL[:at]
		hostPart = sshURL[at+1:]

		if target.User == "" {
			return ssh.Target{}, fmt.Errorf("%w: username cannot be empty", ssh.ErrInvalidInput)
		}
	} else if requireUser {
		return ssh.Target{}, fmt.Errorf("%w: username is required in SSH URL format: username@hostname[:port]", ssh.ErrInvalidInput)
	}

	host, portStr := hostPart, ""

	switch {
	case strings.HasPrefix(hostPart, "[") && strings.HasSuffix(hostPart, "]"):
		host = strings.Trim(hostPart, "[]")
	case strings.HasPrefix(hostPart, "[") || strings.Count(hostPart, ":") == 1:
		h, p, err := net.SplitHostPort(hostPart)
		if err != nil || p == "" {
			return ssh.Target{}, fmt.Errorf("%w: invalid SSH URL format: %s", ssh.ErrInvalidInput, sshURL)
		}
		host, portStr = h, p
	case strings.Count(hostPart, ":") > 1 && net.ParseIP(hostPart) == nil:
		return ssh.Target{}, fmt.Errorf("%w: invalid SSH URL format: %s", ssh.ErrInvalidInput, sshURL)
	}

	if host == "" {
		return ssh.Target{}, fmt.Errorf("%w: hostname cannot be empty", ssh.ErrInvalidInput)
	}
	target.Host = host

	if portStr != "" {
		parsedPort, err := strconv.ParseUint(portStr, 10, 16)

		if err != nil || parsedPort == 0 {
			return ssh.Target{}, fmt.Errorf("%w: invalid port number: %s", ssh.ErrInvalidInput, portStr)
		}

		target.Port = uint(parsedPort)
	}

	return target, nil
}

// parseUpload parses local:remote. The remote file gets the local file's
// permission bits.
func parseUpload(raw string) (ssh.Upload, error) {
	local, remote, ok := strings.Cut(raw, ":")

	if !ok || local == "" || remote == "" {
		return ssh.Upload{}, fmt.Errorf("%w: upload must be local:remote, got %q", ssh.ErrInvalidInput, raw)
	}

	upload := ssh.Upload{LocalPath: local, RemotePath: remote}

	if info, err := os.Stat(local); err == nil {
		upload.Mode = info.Mode().Perm()
	}

	return upload, nil
}

func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)

		if !ok || key == "" {
			return nil, fmt.Errorf("%w: variable must be key=value, got %q", ssh.ErrInvalidInput, pair)
		}

		vars[key] = value
	}

	return vars, nil
}
