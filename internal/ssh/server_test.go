package ssh

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/skeema/knownhosts"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// testServer is an in-process SSH server. It accepts one authorized key,
// answers shell and exec requests, and runs the payload through a tiny
// line interpreter:
//
//	echo TEXT   write TEXT to stdout
//	err TEXT    write TEXT to stderr
//	sleep DUR   wait DUR, or until the connection drops
//	exit N      stop with exit status N
//
// The sftp subsystem serves the local filesystem unless stallSFTP is set, in
// which case it accepts the request and never answers.
type testServer struct {
	listener   net.Listener
	hostSigner ssh.Signer
	authorized ssh.PublicKey

	accepted     atomic.Int64
	activeConns  atomic.Int64
	sessions     atomic.Int64
	payloadBytes atomic.Int64

	stallSFTP atomic.Bool

	mu        sync.Mutex
	commands  []string
	onPayload func()
}

func newTestServer(t *testing.T, authorized ssh.PublicKey) *testServer {
	t.Helper()

	_, hostSigner := generateKey(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{
		listener:   listener,
		hostSigner: hostSigner,
		authorized: authorized,
	}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(meta ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if s.authorized != nil && bytes.Equal(key.Marshal(), s.authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key for %s", meta.User())
		},
	}
	config.AddHostKey(hostSigner)

	go s.serve(config)
	t.Cleanup(func() { listener.Close() })

	return s
}

func (s *testServer) target(user string) Target {
	addr := s.listener.Addr().(*net.TCPAddr)
	return Target{Host: "127.0.0.1", Port: uint(addr.Port), User: user}
}

// knownHosts returns a known_hosts line pinning the server's real host key.
func (s *testServer) knownHosts() []byte {
	return []byte(knownhosts.Line([]string{s.listener.Addr().String()}, s.hostSigner.PublicKey()) + "\n")
}

func (s *testServer) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// observePayload registers fn to run when a payload arrives, before it is
// interpreted.
func (s *testServer) observePayload(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPayload = fn
}

func (s *testServer) serve(config *ssh.ServerConfig) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn, config)
	}
}

func (s *testServer) handleConn(nConn net.Conn, config *ssh.ServerConfig) {
	s.accepted.Add(1)
	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)
	defer nConn.Close()

	sconn, chans, reqs, err := ssh.NewServerConn(nConn, config)
	if err != nil {
		return
	}
	defer sconn.Close()

	go ssh.DiscardRequests(reqs)

	closed := make(chan struct{})
	go func() {
		sconn.Wait()
		close(closed)
	}()

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		go s.handleSession(newCh, closed)
	}
}

func (s *testServer) handleSession(newCh ssh.NewChannel, closed <-chan struct{}) {
	ch, requests, err := newCh.Accept()
	if err != nil {
		return
	}
	s.sessions.Add(1)

	for req := range requests {
		switch req.Type {
		case "shell", "exec":
			if req.Type == "exec" {
				var execMsg struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &execMsg); err == nil {
					s.mu.Lock()
					s.commands = append(s.commands, execMsg.Command)
					s.mu.Unlock()
				}
			}
			req.Reply(true, nil)
			go s.run(ch, closed)
		case "subsystem":
			var subsystem struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &subsystem); err != nil || subsystem.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			if !s.stallSFTP.Load() {
				go serveSFTP(ch)
			}
		default:
			req.Reply(false, nil)
		}
	}
}

func (s *testServer) run(ch ssh.Channel, closed <-chan struct{}) {
	defer ch.Close()

	payload, _ := io.ReadAll(ch)
	s.payloadBytes.Add(int64(len(payload)))

	s.mu.Lock()
	onPayload := s.onPayload
	s.mu.Unlock()
	if onPayload != nil && len(payload) > 0 {
		onPayload()
	}

	status := interpret(payload, ch, ch.Stderr(), closed)

	exitMsg := struct{ Status uint32 }{Status: uint32(status)}
	ch.SendRequest("exit-status", false, ssh.Marshal(&exitMsg))
}

func serveSFTP(ch ssh.Channel) {
	defer ch.Close()

	server, err := sftp.NewServer(ch)
	if err != nil {
		return
	}
	defer server.Close()

	_ = server.Serve()
}

func interpret(payload []byte, stdout, stderr io.Writer, closed <-chan struct{}) int {
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	for scanner.Scan() {
		verb, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		switch verb {
		case "echo":
			fmt.Fprintln(stdout, arg)
		case "err":
			fmt.Fprintln(stderr, arg)
		case "sleep":
			d, _ := time.ParseDuration(arg)
			select {
			case <-time.After(d):
			case <-closed:
				return 255
			}
		case "exit":
			code, _ := strconv.Atoi(arg)
			return code
		}
	}
	return 0
}

// generateKey returns an OpenSSH PEM private key and its signer.
func generateKey(t *testing.T) ([]byte, ssh.Signer) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := ssh.MarshalPrivateKey(priv, "test")
	require.NoError(t, err)

	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	return pem.EncodeToMemory(block), signer
}

// encryptedKey re-encodes an unencrypted OpenSSH PEM key under passphrase.
func encryptedKey(t *testing.T, keyPEM []byte, passphrase string) []byte {
	t.Helper()

	raw, err := ssh.ParseRawPrivateKey(keyPEM)
	require.NoError(t, err)
	if ptr, ok := raw.(*ed25519.PrivateKey); ok {
		raw = *ptr
	}

	block, err := ssh.MarshalPrivateKeyWithPassphrase(raw, "test", []byte(passphrase))
	require.NoError(t, err)

	return pem.EncodeToMemory(block)
}
