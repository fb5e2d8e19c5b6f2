package ssh

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

const DefaultPort uint = 22

// Target is the remote host and user of one dispatch
type Target struct {
	Host string
	Port uint
	User string
}

func (t Target) port() uint {
	if t.Port == 0 {
		return DefaultPort
	}
	return t.Port
}

// Address returns host:port, bracketing IPv6 literals.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.FormatUint(uint64(t.port()), 10))
}

func (t Target) String() string {
	return fmt.Sprintf("%s@%s", t.User, t.Address())
}

// Credentials carries the private key and the known hosts used for one dispatch.
// Data fields take precedence over paths. The caller owns the material; Wipe
// zeroes the in-memory copies once the caller is done with them.
type Credentials struct {
	// Key-based authentication
	PrivateKeyPath string
	PrivateKeyData []byte
	// Passphrase for private key (if encrypted)
	Passphrase string

	// Host key verification
	KnownHostsPath string
	KnownHostsData []byte
}

func (c *Credentials) Wipe() {
	if c == nil {
		return
	}
	zero(c.PrivateKeyData)
	c.PrivateKeyData = nil
	c.Passphrase = ""
}

// Payload is the script handed to the remote interpreter. It is never parsed.
type Payload []byte

// Upload is a local file copied to the remote host before the payload runs.
type Upload struct {
	LocalPath  string
	RemotePath string
	Mode       os.FileMode
}

type Options struct {
	// Timeout bounds remote execution when Dispatch is called with a zero timeout.
	Timeout time.Duration
	// ConnectTimeout bounds the TCP dial and the SSH handshake.
	ConnectTimeout time.Duration
	// Interpreter is the remote command that reads the payload from stdin.
	// Empty means the login shell of the remote user.
	Interpreter string
	Uploads     []Upload
	// MaxOutputBytes caps each of stdout and stderr. Zero disables the cap.
	MaxOutputBytes int
	// TempDir holds materialized known hosts files. Empty means os.TempDir().
	TempDir string
}

type DispatchResult struct {
	ID            string        `json:"id"`
	Target        string        `json:"target"`
	ExitCode      int           `json:"exit_code"`
	Stdout        string        `json:"stdout"`
	Stderr        string        `json:"stderr"`
	TransportOK   bool          `json:"transport_ok"`
	PayloadSHA256 string        `json:"payload_sha256"`
	BytesSent     int64         `json:"bytes_sent"`
	Duration      time.Duration `json:"duration_ns"`
	Truncated     bool          `json:"truncated,omitempty"`
}

// Err reports a completed execution with a non-zero exit code as
// ErrRemoteExecutionNonZero. It returns nil for a zero exit code.
func (r *DispatchResult) Err() error {
	if r == nil || !r.TransportOK || r.ExitCode == 0 {
		return nil
	}
	return fmt.Errorf("%w: exit code %d", ErrRemoteExecutionNonZero, r.ExitCode)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
