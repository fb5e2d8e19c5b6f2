package inventory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"rdispatch/internal/ssh"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const DefaultParallel = 4

var (
	ErrNoTargets     = errors.New("inventory has no targets")
	ErrDuplicateName = errors.New("duplicate target name")
	ErrEmptyHost     = errors.New("target host is empty")
	ErrEmptyUser     = errors.New("target user is empty")
)

type Defaults struct {
	User        string        `yaml:"user"`
	Port        uint          `yaml:"port"`
	Timeout     time.Duration `yaml:"timeout"`
	Interpreter string        `yaml:"interpreter"`
}

// Entry is one target of an inventory, with defaults already applied.
type Entry struct {
	Name        string        `yaml:"name"`
	Host        string        `yaml:"host"`
	User        string        `yaml:"user"`
	Port        uint          `yaml:"port"`
	Timeout     time.Duration `yaml:"timeout"`
	Interpreter string        `yaml:"interpreter"`
}

func (e Entry) Target() ssh.Target {
	return ssh.Target{Host: e.Host, Port: e.Port, User: e.User}
}

type Inventory struct {
	Defaults Defaults `yaml:"defaults"`
	Targets  []Entry  `yaml:"targets"`
}

func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read inventory: %v", ssh.ErrInvalidInput, err)
	}

	return Parse(data)
}

// Parse decodes an inventory, applies defaults and validates every entry.
func Parse(data []byte) (*Inventory, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("%w: parse inventory: %v", ssh.ErrInvalidInput, err)
	}

	if len(inv.Targets) == 0 {
		return nil, fmt.Errorf("%w: %w", ssh.ErrInvalidInput, ErrNoTargets)
	}

	seen := make(map[string]struct{}, len(inv.Targets))

	for i := range inv.Targets {
		e := &inv.Targets[i]
		e.Host = strings.TrimSpace(e.Host)

		if e.Host == "" {
			return nil, fmt.Errorf("%w: %w: entry %d", ssh.ErrInvalidInput, ErrEmptyHost, i+1)
		}

		inv.Defaults.apply(e)

		// unnamed entries are named host:port
		if e.Name == "" {
			e.Name = e.Target().Address()
		}
		if _, dup := seen[e.Name]; dup {
			return nil, fmt.Errorf("%w: %w: %s", ssh.ErrInvalidInput, ErrDuplicateName, e.Name)
		}
		seen[e.Name] = struct{}{}

		if e.User == "" {
			return nil, fmt.Errorf("%w: %w: %s", ssh.ErrInvalidInput, ErrEmptyUser, e.Name)
		}
	}

	return &inv, nil
}

func (d Defaults) apply(e *Entry) {
	if e.User == "" {
		e.User = d.User
	}
	if e.Port == 0 {
		e.Port = d.Port
	}
	if e.Timeout == 0 {
		e.Timeout = d.Timeout
	}
	if e.Interpreter == "" {
		e.Interpreter = d.Interpreter
	}
}

// Outcome is the dispatch of one entry. Err holds the transport error, if any.
type Outcome struct {
	Entry  Entry
	Result *ssh.DispatchResult
	Err    error
}

// Failure is the transport error, or the remote non-zero exit when the
// transport succeeded.
func (o Outcome) Failure() error {
	if o.Err != nil {
		return o.Err
	}
	return o.Result.Err()
}

type DispatchFunc func(ctx context.Context, e Entry) (*ssh.DispatchResult, error)

// RunAll dispatches every entry with at most parallel dispatches in flight.
// Outcomes come back in entry order. A failing entry never cancels the others.
func RunAll(ctx context.Context, entries []Entry, parallel int, dispatch DispatchFunc) []Outcome {
	if parallel <= 0 {
		parallel = DefaultParallel
	}

	outcomes := make([]Outcome, len(entries))

	var g errgroup.Group
	g.SetLimit(parallel)

	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			result, err := dispatch(ctx, e)
			outcomes[i] = Outcome{Entry: e, Result: result, Err: err}
			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}

// FirstFailure returns the first failing outcome in entry order.
func FirstFailure(outcomes []Outcome) (Outcome, bool) {
	for _, o := range outcomes {
		if o.Failure() != nil {
			return o, true
		}
	}
	return Outcome{}, false
}
