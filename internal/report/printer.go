package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"rdispatch/internal/ssh"
)

type Printer interface {
	Print(records []Record) error
}

// NewPrinter returns the JSON printer when asJSON is set and the text printer
// otherwise. Status lines of the text printer go to errOut so out carries only
// remote output.
func NewPrinter(out, errOut io.Writer, asJSON bool) Printer {
	if asJSON {
		return &JSONPrinter{out: out}
	}
	return &TextPrinter{out: out, errOut: errOut}
}

type TextPrinter struct {
	out    io.Writer
	errOut io.Writer
}

func (p *TextPrinter) Print(records []Record) error {
	for _, r := range records {
		target := r.Name
		if r.DispatchResult != nil && r.DispatchResult.Target != "" && r.DispatchResult.Target != r.Name {
			target = fmt.Sprintf("%s (%s)", r.Name, r.DispatchResult.Target)
		}

		fmt.Fprintf(p.errOut, "📡 %s\n", target)
		fmt.Fprintf(p.errOut, "   Status:   %s\n", statusLine(r))

		if r.DispatchResult != nil && r.DispatchResult.TransportOK {
			fmt.Fprintf(p.errOut, "   Exit:     %d\n", r.DispatchResult.ExitCode)
		}

		fmt.Fprintf(p.errOut, "   Duration: %s\n", r.duration().Round(time.Millisecond))

		if r.Error != "" && r.Kind != ssh.KindRemoteExecutionNonZero {
			fmt.Fprintf(p.errOut, "   Error:    %s\n", r.Error)
		}

		if r.DispatchResult != nil && r.DispatchResult.Truncated {
			fmt.Fprintf(p.errOut, "   Output:   ⚠️ truncated\n")
		}

		fmt.Fprintln(p.errOut)

		if r.DispatchResult == nil {
			continue
		}

		if _, err := io.WriteString(p.out, r.DispatchResult.Stdout); err != nil {
			return err
		}

		if _, err := io.WriteString(p.errOut, r.DispatchResult.Stderr); err != nil {
			return err
		}
	}

	return nil
}

func statusLine(r Record) string {
	switch r.Kind {
	case ssh.KindOK:
		return "✅ Completed"
	case ssh.KindRemoteExecutionNonZero:
		return fmt.Sprintf("❌ Exited with code %d", r.exitCode())
	case ssh.KindHostVerificationFailed:
		return "❌ Host Verification Failed"
	case ssh.KindAuthenticationFailed:
		return "❌ Authentication Failed"
	case ssh.KindConnectionFailed:
		return "❌ Connection Failed"
	case ssh.KindTimeout:
		return "⏱️ Timed Out"
	case ssh.KindInvalidInput:
		return "❌ Invalid Input"
	case ssh.KindCanceled:
		return "❌ Canceled"
	default:
		return "❌ Failed"
	}
}

// JSONPrinter writes one JSON object per line.
type JSONPrinter struct {
	out io.Writer
}

func (p *JSONPrinter) Print(records []Record) error {
	encoder := json.NewEncoder(p.out)
	encoder.SetEscapeHTML(false)

	for _, r := range records {
		if err := encoder.Encode(r); err != nil {
			return fmt.Errorf("failed to encode %s: %w", r.Name, err)
		}
	}

	return nil
}
