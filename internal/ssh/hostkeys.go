package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/skeema/knownhosts"
	"golang.org/x/crypto/ssh"
)

// hostVerifier checks presented host keys against known hosts files and
// remembers why a key was rejected, so handshake errors can be classified.
type hostVerifier struct {
	db *knownhosts.HostKeyDB

	mu      sync.Mutex
	failure error
}

func newHostVerifier(files []string) (*hostVerifier, error) {
	db, err := knownhosts.NewDB(files...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrInvalidInput, ErrFailedToLoadKnownHost, err)
	}
	return &hostVerifier{db: db}, nil
}

func (v *hostVerifier) callback() ssh.HostKeyCallback {
	check := v.db.HostKeyCallback()
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		if err != nil {
			v.mu.Lock()
			v.failure = err
			v.mu.Unlock()
		}
		return err
	}
}

func (v *hostVerifier) algorithms(address string) []string {
	return v.db.HostKeyAlgorithms(address)
}

func (v *hostVerifier) err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.failure
}

func describeHostKeyError(err error) string {
	switch {
	case knownhosts.IsHostUnknown(err):
		return "host key not present in known hosts"
	case knownhosts.IsHostKeyChanged(err):
		return "host key does not match known hosts entry"
	default:
		return err.Error()
	}
}

var errHostKeyCaptured = errors.New("host key captured")

// ScanHostKey connects to target and returns the host key it presents. The
// handshake is aborted before authentication, so nothing is sent on behalf of
// any user. The key is not trusted by this call; pinning it is up to the operator.
func ScanHostKey(ctx context.Context, target Target, connectTimeout time.Duration) (ssh.PublicKey, error) {
	if target.Host == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyHost)
	}

	user := target.User
	if user == "" {
		user = "rdispatch"
	}

	var captured ssh.PublicKey
	config := &ssh.ClientConfig{
		User: user,
		HostKeyCallback: func(_ string, _ net.Addr, key ssh.PublicKey) error {
			captured = key
			return errHostKeyCaptured
		},
		Timeout: connectTimeout,
	}

	conn, err := dialContext(ctx, target.Address(), connectTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	_, _, _, err = ssh.NewClientConn(conn, target.Address(), config)
	if captured != nil {
		return captured, nil
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, target.Address(), err)
}

// KnownHostsLine formats key as a known_hosts entry for target.
func KnownHostsLine(target Target, key ssh.PublicKey) string {
	return knownhosts.Line([]string{target.Address()}, key)
}

func dialContext(ctx context.Context, address string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectionFailed, address, err)
	}
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	return conn, nil
}
