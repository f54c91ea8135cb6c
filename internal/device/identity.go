// ABOUTME: Stable device identity derived from an SSH keypair on disk
// ABOUTME: Generates ed25519 keys on first run; fingerprint identifies this machine

package device

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Identity is this machine's stable identity: an SSH keypair whose
// public key fingerprint registers the device with the backend.
type Identity struct {
	signer ssh.Signer
	path   string
}

// LoadOrCreateIdentity loads the device key from path, generating a new
// ed25519 keypair on first run. The private key file is created 0600.
func LoadOrCreateIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parsing device key %s: %w", path, err)
		}
		return &Identity{signer: signer, path: path}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading device key: %w", err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating device key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, "familiar-agent device key")
	if err != nil {
		return nil, fmt.Errorf("encoding device key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("writing device key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}
	return &Identity{signer: signer, path: path}, nil
}

// Fingerprint returns the SHA256 fingerprint of the public key as
// lowercase hex without colons. This is the device's stable id.
func (i *Identity) Fingerprint() string {
	hash := sha256.Sum256(i.signer.PublicKey().Marshal())
	return hex.EncodeToString(hash[:])
}

// PublicKeyLine returns the public key in authorized_keys format.
func (i *Identity) PublicKeyLine() string {
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(i.signer.PublicKey())))
}
