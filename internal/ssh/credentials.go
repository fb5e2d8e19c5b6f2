package ssh

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// material is the credential state of one dispatch. release must run on
// every exit path once loadMaterial succeeded.
type material struct {
	signer          ssh.Signer
	knownHostsFiles []string
	tempFiles       []string
}

func loadMaterial(creds *Credentials, tempDir string) (*material, error) {
	if creds == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, ErrNoPrivateKey)
	}

	signer, err := loadSigner(creds)
	if err != nil {
		return nil, err
	}

	m := &material{signer: signer}

	switch {
	case len(creds.KnownHostsData) > 0:
		path, err := writeTempFile(tempDir, "rdispatch-known_hosts-*", creds.KnownHostsData)
		if err != nil {
			return nil, fmt.Errorf("%w: %w: %v", ErrInvalidInput, ErrFailedToLoadKnownHost, err)
		}
		m.tempFiles = append(m.tempFiles, path)
		m.knownHostsFiles = append(m.knownHostsFiles, path)
	case creds.KnownHostsPath != "":
		if _, err := os.Stat(creds.KnownHostsPath); err != nil {
			return nil, fmt.Errorf("%w: %w: %v", ErrInvalidInput, ErrFailedToLoadKnownHost, err)
		}
		m.knownHostsFiles = append(m.knownHostsFiles, creds.KnownHostsPath)
	default:
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, ErrNoKnownHosts)
	}

	return m, nil
}

func loadSigner(creds *Credentials) (ssh.Signer, error) {
	keyBytes := creds.PrivateKeyData

	if len(keyBytes) == 0 && creds.PrivateKeyPath != "" {
		data, err := os.ReadFile(creds.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w: %v", ErrInvalidInput, ErrFailedToParseKey, err)
		}
		// read here, so owned here
		defer zero(data)
		keyBytes = data
	}

	if len(keyBytes) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, ErrNoPrivateKey)
	}

	var signer ssh.Signer
	var err error
	if creds.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(creds.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyBytes)
	}

	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, ErrPassphraseRequired)
		}
		// the parser error never echoes key bytes
		return nil, fmt.Errorf("%w: %w: %v", ErrInvalidInput, ErrFailedToParseKey, err)
	}

	return signer, nil
}

// writeTempFile restricts the file to its owner before any byte is written.
func writeTempFile(dir, pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	path := f.Name()

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}

	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}

	return path, nil
}

func (m *material) release() error {
	var errs []error
	for _, path := range m.tempFiles {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	m.tempFiles = nil
	m.signer = nil
	return errors.Join(errs...)
}
