package commands

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"rdispatch/cmd/rdispatch/config"
	"rdispatch/internal/ssh"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSSHURL(t *testing.T) {
	tests := []struct {
		in   string
		want ssh.Target
	}{
		{"deploy@10.0.0.11", ssh.Target{User: "deploy", Host: "10.0.0.11", Port: 22}},
		{"deploy@web-1:2222", ssh.Target{User: "deploy", Host: "web-1", Port: 2222}},
		{"deploy@[2001:db8::1]:2222", ssh.Target{User: "deploy", Host: "2001:db8::1", Port: 2222}},
		{"deploy@[2001:db8::1]", ssh.Target{User: "deploy", Host: "2001:db8::1", Port: 22}},
		{"deploy@2001:db8::1", ssh.Target{User: "deploy", Host: "2001:db8::1", Port: 22}},
		{"ci@bot@web-1", ssh.Target{User: "ci@bot", Host: "web-1", Port: 22}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSSHURL(tt.in, true)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSSHURL_Errors(t *testing.T) {
	for _, in := range []string{
		"web-1",
		"@web-1",
		"deploy@",
		"deploy@web-1:",
		"deploy@web-1:ssh",
		"deploy@web-1:70000",
		"deploy@web-1:0",
		"deploy@[::1",
		"deploy@web-1:22:33",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := parseSSHURL(in, true)
			require.ErrorIs(t, err, ssh.ErrInvalidInput)
		})
	}
}

func TestParseSSHURL_UserOptional(t *testing.T) {
	target, err := parseSSHURL("web-1:2200", false)
	require.NoError(t, err)
	assert.Equal(t, ssh.Target{Host: "web-1", Port: 2200}, target)
}

func TestParseUpload(t *testing.T) {
	local := filepath.Join(t.TempDir(), "app.env")
	require.NoError(t, os.WriteFile(local, []byte("A=1"), 0o640))

	upload, err := parseUpload(local + ":/etc/app/app.env")
	require.NoError(t, err)
	assert.Equal(t, local, upload.LocalPath)
	assert.Equal(t, "/etc/app/app.env", upload.RemotePath)
	assert.Equal(t, os.FileMode(0o640), upload.Mode)

	for _, bad := range []string{"nocolon", ":/remote", "local:"} {
		_, err := parseUpload(bad)
		assert.ErrorIs(t, err, ssh.ErrInvalidInput, bad)
	}
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"release=v1.4.2", "flags=--a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"release": "v1.4.2", "flags": "--a=b", "empty": ""}, vars)

	_, err = parseVars([]string{"=value"})
	assert.ErrorIs(t, err, ssh.ErrInvalidInput)

	_, err = parseVars([]string{"novalue"})
	assert.ErrorIs(t, err, ssh.ErrInvalidInput)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 12, ExitCode(&ExitError{Code: 12, Err: ssh.ErrHostVerificationFailed}))
	assert.Equal(t, 2, ExitCode(usageError(errors.New("unknown flag: --nope"))))
	assert.Equal(t, 13, ExitCode(fmt.Errorf("%w: session closed", ssh.ErrTimeout)))
	assert.Equal(t, 70, ExitCode(errors.New("unexpected")))
}

func TestUsageArgs(t *testing.T) {
	validate := usageArgs(cobra.ExactArgs(1))

	assert.NoError(t, validate(&cobra.Command{}, []string{"a"}))
	assert.ErrorIs(t, validate(&cobra.Command{}, nil), ssh.ErrInvalidInput)
}

func TestResolveEntries(t *testing.T) {
	entries, err := resolveEntries([]string{"deploy@web-1:2222"}, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ssh.Target{User: "deploy", Host: "web-1", Port: 2222}, entries[0].Target())

	inventoryPath := filepath.Join(t.TempDir(), "hosts.yaml")
	require.NoError(t, os.WriteFile(inventoryPath, []byte("defaults:\n  user: deploy\ntargets:\n  - host: a\n  - host: b\n"), 0o644))

	entries, err = resolveEntries(nil, inventoryPath)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = resolveEntries([]string{"deploy@web-1"}, inventoryPath)
	assert.ErrorIs(t, err, ssh.ErrInvalidInput)

	_, err = resolveEntries(nil, "")
	assert.ErrorIs(t, err, ssh.ErrInvalidInput)
}

func TestLoadPayload(t *testing.T) {
	p, err := loadPayload(nil, runFlags{command: "echo {{who}}", vars: []string{"who=ops"}})
	require.NoError(t, err)
	assert.Equal(t, "echo ops\n", string(p))

	p, err = loadPayload(strings.NewReader("uptime\n"), runFlags{script: "-"})
	require.NoError(t, err)
	assert.Equal(t, "uptime\n", string(p))

	_, err = loadPayload(nil, runFlags{script: "a.sh", command: "b"})
	assert.ErrorIs(t, err, ssh.ErrInvalidInput)

	_, err = loadPayload(nil, runFlags{})
	assert.ErrorIs(t, err, ssh.ErrInvalidInput)

	_, err = loadPayload(nil, runFlags{command: "   "})
	assert.ErrorIs(t, err, ssh.ErrEmptyPayload)
}

func TestBuildCredentials(t *testing.T) {
	var errOut bytes.Buffer

	t.Run("flag path wins over env content", func(t *testing.T) {
		cfg := &config.Configuration{SSHPrivateKey: "key-content", KnownHosts: "host ssh-ed25519 AAAA", SSHKeyPassphrase: "pw"}

		creds, err := buildCredentials(cfg, runFlags{sshKeyPath: "/keys/id", knownHosts: "/kh"}, &errOut)
		require.NoError(t, err)
		assert.Equal(t, "/keys/id", creds.PrivateKeyPath)
		assert.Empty(t, creds.PrivateKeyData)
		assert.Equal(t, "/kh", creds.KnownHostsPath)
		assert.Empty(t, creds.KnownHostsData)
		assert.Equal(t, "pw", creds.Passphrase)
	})

	t.Run("env content wins over configured path", func(t *testing.T) {
		cfg := &config.Configuration{SSHPrivateKey: "key-content", SSHKeyPath: "/keys/id", KnownHosts: "host ssh-ed25519 AAAA", KnownHostsPath: "/kh"}

		creds, err := buildCredentials(cfg, runFlags{}, &errOut)
		require.NoError(t, err)
		assert.Equal(t, []byte("key-content"), creds.PrivateKeyData)
		assert.Empty(t, creds.PrivateKeyPath)
		assert.Equal(t, "host ssh-ed25519 AAAA\n", string(creds.KnownHostsData))
		assert.Empty(t, creds.KnownHostsPath)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := buildCredentials(&config.Configuration{KnownHostsPath: "/kh"}, runFlags{}, &errOut)
		assert.ErrorIs(t, err, ssh.ErrNoPrivateKey)
		assert.ErrorIs(t, err, ssh.ErrInvalidInput)
	})

	t.Run("missing known hosts", func(t *testing.T) {
		_, err := buildCredentials(&config.Configuration{SSHKeyPath: "/keys/id"}, runFlags{}, &errOut)
		assert.ErrorIs(t, err, ssh.ErrNoKnownHosts)
	})
}

func TestCheckRunFlags(t *testing.T) {
	assert.NoError(t, checkRunFlags(runFlags{script: "-"}))
	assert.NoError(t, checkRunFlags(runFlags{script: "deploy.sh", askPassphrase: true}))

	err := checkRunFlags(runFlags{script: "-", askPassphrase: true})
	require.ErrorIs(t, err, ssh.ErrInvalidInput)
	assert.Equal(t, 2, ExitCode(err))
}

func TestVersionString(t *testing.T) {
	assert.Contains(t, VersionString(), "commit: ")
}
