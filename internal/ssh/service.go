package ssh

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/melbahja/goph"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

const (
	DefaultTimeout        = 10 * time.Minute
	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxOutputBytes = 4 << 20

	// teardownGrace bounds how long a timed out dispatch waits for the
	// session goroutines after the transport was closed.
	teardownGrace = 2 * time.Second
)

// Dispatcher delivers payloads to remote hosts. It holds no per-dispatch
// state, so one Dispatcher can serve concurrent dispatches.
type Dispatcher struct {
	opts Options
	log  zerolog.Logger
}

func NewDispatcher(opts Options, log zerolog.Logger) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.MaxOutputBytes < 0 {
		opts.MaxOutputBytes = 0
	}
	return &Dispatcher{opts: opts, log: log}
}

// WithInterpreter returns a Dispatcher sharing d's options except for the
// remote interpreter.
func (d *Dispatcher) WithInterpreter(interpreter string) *Dispatcher {
	opts := d.opts
	opts.Interpreter = interpreter
	return &Dispatcher{opts: opts, log: d.log}
}

// Dispatch verifies the host, authenticates as target.User, streams payload
// to the remote interpreter and waits up to timeout for it to finish.
//
// A completed execution returns a nil error whatever its exit code. On
// failure the returned result is still non-nil and holds what was observed.
func (d *Dispatcher) Dispatch(ctx context.Context, target Target, creds *Credentials, payload Payload, timeout time.Duration) (*DispatchResult, error) {
	started := time.Now()
	sum := sha256.Sum256(payload)

	result := &DispatchResult{
		ID:            uuid.NewString(),
		Target:        target.String(),
		ExitCode:      -1,
		PayloadSHA256: hex.EncodeToString(sum[:]),
	}
	defer func() { result.Duration = time.Since(started) }()

	log := d.log.With().
		Str("dispatch_id", result.ID).
		Str("host", target.Host).
		Uint("port", target.port()).
		Str("user", target.User).
		Str("payload_sha256", result.PayloadSHA256).
		Logger()

	if err := d.validate(target, payload); err != nil {
		return result, err
	}

	if timeout <= 0 {
		timeout = d.opts.Timeout
	}

	m, err := loadMaterial(creds, d.opts.TempDir)
	if err != nil {
		return result, err
	}
	defer func() {
		if err := m.release(); err != nil {
			log.Warn().Err(err).Msg("failed to remove credential temp files")
		}
	}()

	verifier, err := newHostVerifier(m.knownHostsFiles)
	if err != nil {
		return result, err
	}

	log.Debug().Msg("connecting")

	client, err := d.connect(ctx, target, m.signer, verifier)
	if err != nil {
		log.Warn().Str("kind", string(KindOf(err))).Err(err).Msg("dispatch aborted before payload")
		return result, err
	}

	gc := &goph.Client{Client: client}
	defer gc.Close()

	log.Debug().Msg("host verified and authenticated")

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// closing the transport unblocks every sftp and session call
	stopTeardown := context.AfterFunc(execCtx, func() { gc.Close() })
	defer stopTeardown()

	if err := d.upload(execCtx, gc, log); err != nil {
		return result, err
	}

	err = d.execute(execCtx, gc, payload, result)

	event := log.Info()
	if err != nil {
		event = log.Warn().Str("kind", string(KindOf(err))).Err(err)
	}
	event.
		Int("exit_code", result.ExitCode).
		Int64("bytes_sent", result.BytesSent).
		Dur("duration", time.Since(started)).
		Msg("dispatch finished")

	return result, err
}

func (d *Dispatcher) validate(target Target, payload Payload) error {
	if strings.TrimSpace(target.Host) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyHost)
	}
	if strings.TrimSpace(target.User) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyUser)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyPayload)
	}
	for _, u := range d.opts.Uploads {
		f, err := os.Open(u.LocalPath)
		if err != nil {
			return fmt.Errorf("%w: %w: %v", ErrInvalidInput, ErrUploadSource, err)
		}
		f.Close()
	}
	return nil
}

// connect dials and completes the handshake. Host key verification and
// authentication both happen here, before any session exists.
func (d *Dispatcher) connect(ctx context.Context, target Target, signer ssh.Signer, verifier *hostVerifier) (*ssh.Client, error) {
	address := target.Address()

	config := &ssh.ClientConfig{
		User:              target.User,
		Auth:              []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback:   verifier.callback(),
		HostKeyAlgorithms: verifier.algorithms(address),
		Timeout:           d.opts.ConnectTimeout,
	}

	conn, err := dialContext(ctx, address, d.opts.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, classifyHandshakeError(ctx, address, err, verifier)
	}

	// the deadline only guarded the handshake
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func classifyHandshakeError(ctx context.Context, address string, err error, verifier *hostVerifier) error {
	if hostErr := verifier.err(); hostErr != nil {
		return fmt.Errorf("%w: %s: %s", ErrHostVerificationFailed, address, describeHostKeyError(hostErr))
	}

	if strings.Contains(err.Error(), "unable to authenticate") {
		return fmt.Errorf("%w: %s: %v", ErrAuthenticationFailed, address, err)
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("handshake with %s: %w", address, ctx.Err())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: handshake timed out", ErrConnectionFailed, address)
	}

	return fmt.Errorf("%w: %s: %v", ErrConnectionFailed, address, err)
}

func (d *Dispatcher) upload(ctx context.Context, gc *goph.Client, log zerolog.Logger) error {
	if len(d.opts.Uploads) == 0 {
		return nil
	}

	client, err := gc.NewSftp(sftp.UseConcurrentWrites(true))
	if err != nil {
		if ctxErr := uploadContextError(ctx, "start sftp subsystem"); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: start sftp subsystem: %v", ErrConnectionFailed, err)
	}
	defer client.Close()

	for _, u := range d.opts.Uploads {
		if err := uploadFile(client, u); err != nil {
			if ctxErr := uploadContextError(ctx, "upload "+u.RemotePath); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: upload %s: %v", ErrConnectionFailed, u.RemotePath, err)
		}
		log.Debug().Str("remote_path", u.RemotePath).Msg("uploaded")
	}

	return nil
}

func uploadContextError(ctx context.Context, op string) error {
	switch {
	case ctx.Err() == nil:
		return nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: transport closed after deadline", ErrTimeout, op)
	default:
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

func uploadFile(client *sftp.Client, u Upload) error {
	src, err := os.Open(u.LocalPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := client.Create(u.RemotePath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}

	mode := u.Mode
	if mode == 0 {
		mode = 0o644
	}

	if err := dst.Chmod(mode); err != nil {
		dst.Close()
		return err
	}

	return dst.Close()
}

func (d *Dispatcher) execute(ctx context.Context, gc *goph.Client, payload Payload, result *DispatchResult) error {
	cmd, err := gc.CommandContext(ctx, d.opts.Interpreter)
	if err != nil {
		return fmt.Errorf("%w: open session: %v", ErrConnectionFailed, err)
	}
	session := cmd.Session
	defer session.Close()

	stdin := &countingReader{r: bytes.NewReader(payload)}
	stdout := &cappedBuffer{limit: d.opts.MaxOutputBytes}
	stderr := &cappedBuffer{limit: d.opts.MaxOutputBytes}

	session.Stdin = stdin
	session.Stdout = stdout
	session.Stderr = stderr

	collect := func() {
		result.BytesSent = stdin.count()
		result.Stdout, result.Truncated = stdout.snapshot()
		var errTruncated bool
		result.Stderr, errTruncated = stderr.snapshot()
		result.Truncated = result.Truncated || errTruncated
	}

	if interpreter := strings.TrimSpace(d.opts.Interpreter); interpreter != "" {
		err = session.Start(interpreter)
	} else {
		err = session.Shell()
	}
	if err != nil {
		collect()
		return fmt.Errorf("%w: start remote interpreter: %v", ErrConnectionFailed, err)
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		// close the transport rather than signalling the remote process
		session.Close()
		gc.Close()

		select {
		case <-done:
		case <-time.After(teardownGrace):
		}

		collect()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: session closed after deadline", ErrTimeout)
		}
		return fmt.Errorf("session closed: %w", ctx.Err())
	}

	collect()

	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
	case errors.As(err, &missingErr):
		return fmt.Errorf("%w: session ended without exit status", ErrConnectionFailed)
	default:
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	result.TransportOK = true
	return nil
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *countingReader) count() int64 {
	return c.n.Load()
}

// cappedBuffer keeps at most limit bytes and swallows the rest, so a chatty
// remote process is never blocked on its output.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit <= 0 {
		return b.buf.Write(p)
	}

	remaining := b.limit - b.buf.Len()
	if remaining >= len(p) {
		return b.buf.Write(p)
	}

	if remaining > 0 {
		b.buf.Write(p[:remaining])
	}
	b.truncated = true
	return len(p), nil
}

func (b *cappedBuffer) snapshot() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String(), b.truncated
}
