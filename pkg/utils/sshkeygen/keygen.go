package sshkeygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

var ErrKeyNotFound = errors.New("sshkeygen: private key not found")

// GenerateEd25519KeyPair writes an OpenSSH private key and its authorized_keys
// line. An existing private key is left untouched and reported as created=false.
func GenerateEd25519KeyPair(privateKeyPath, publicKeyPath string) (bool, error) {
	if _, err := os.Stat(privateKeyPath); err == nil {
		return false, nil
	}

	sshDir := filepath.Dir(privateKeyPath)
	if err := os.MkdirAll(sshDir, 0700); err != nil {
		return false, fmt.Errorf("failed to create ssh directory: %w", err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return false, fmt.Errorf("failed to generate key pair: %w", err)
	}

	privKeyPEM, err := ssh.MarshalPrivateKey(privKey, "sentinel")
	if err != nil {
		return false, fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(privateKeyPath, pem.EncodeToMemory(privKeyPEM), 0600); err != nil {
		return false, fmt.Errorf("failed to write private key: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return false, fmt.Errorf("failed to create public key: %w", err)
	}
	if err := os.WriteFile(publicKeyPath, ssh.MarshalAuthorizedKey(sshPubKey), 0644); err != nil {
		return false, fmt.Errorf("failed to write public key: %w", err)
	}

	return true, nil
}

// DefaultKeyPaths returns ~/.ssh/id_ed25519 and its .pub sibling.
func DefaultKeyPaths() (string, string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("failed to get home directory: %w", err)
	}
	priv := filepath.Join(homeDir, ".ssh", "id_ed25519")
	return priv, priv + ".pub", nil
}

// LoadSigner reads an unencrypted private key for the connection pool.
func LoadSigner(privateKeyPath string) (ssh.Signer, error) {
	raw, err := os.ReadFile(privateKeyPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, privateKeyPath)
		}
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", privateKeyPath, err)
	}
	return signer, nil
}
