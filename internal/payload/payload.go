package payload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"rdispatch/internal/ssh"

	"github.com/aymerick/raymond"
)

// StdinPath makes FromFile read the payload from standard input.
const StdinPath = "-"

var ErrTemplate = errors.New("payload template is invalid")

func init() {
	raymond.RegisterHelper("quote", func(input interface{}) raymond.SafeString {
		return raymond.SafeString(ShellQuote(raymond.Str(input)))
	})

	raymond.RegisterHelper("default", func(input interface{}, fallback interface{}) raymond.SafeString {
		if value := raymond.Str(input); value != "" {
			return raymond.SafeString(value)
		}

		return raymond.SafeString(raymond.Str(fallback))
	})

	raymond.RegisterHelper("replace", func(input interface{}, oldVal string, newVal string) raymond.SafeString {
		return raymond.SafeString(strings.ReplaceAll(raymond.Str(input), oldVal, newVal))
	})
}

// FromFile reads the payload at path. StdinPath reads stdin instead.
func FromFile(path string, stdin io.Reader) (ssh.Payload, error) {
	if path == StdinPath {
		return FromReader(stdin)
	}

	data, err := os.ReadFile(path)

	if err != nil {
		return nil, fmt.Errorf("%w: read script %s: %v", ssh.ErrInvalidInput, path, err)
	}

	return validate(data)
}

func FromString(command string) (ssh.Payload, error) {
	if command != "" && !strings.HasSuffix(command, "\n") {
		command += "\n"
	}

	return validate([]byte(command))
}

func FromReader(r io.Reader) (ssh.Payload, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %w", ssh.ErrInvalidInput, ssh.ErrEmptyPayload)
	}

	data, err := io.ReadAll(r)

	if err != nil {
		return nil, fmt.Errorf("%w: read payload: %v", ssh.ErrInvalidInput, err)
	}

	return validate(data)
}

// Render executes p as a handlebars template over vars. Values are inserted
// verbatim, without HTML escaping. Unknown variables render as empty strings.
func Render(p ssh.Payload, vars map[string]string) (ssh.Payload, error) {
	tpl, err := raymond.Parse(string(p))

	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ssh.ErrInvalidInput, ErrTemplate, err)
	}

	ctx := make(map[string]interface{}, len(vars))

	for k, v := range vars {
		ctx[k] = raymond.SafeString(v)
	}

	rendered, err := tpl.Exec(ctx)

	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ssh.ErrInvalidInput, ErrTemplate, err)
	}

	return validate([]byte(rendered))
}

// ShellQuote wraps s in single quotes for POSIX shells.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func validate(data []byte) (ssh.Payload, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: %w", ssh.ErrInvalidInput, ssh.ErrEmptyPayload)
	}

	return ssh.Payload(data), nil
}
