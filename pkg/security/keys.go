package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
)

const (
	// userKeySize is the RSA key size of generated user key pairs
	userKeySize = 2048

	usernamePrefix = "burrow-"
)

// KeyPair is an SSH key pair. The private key is PEM encoded, the public key
// is in authorized_keys format.
type KeyPair struct {
	PrivateKeyPEM []byte
	PublicKey     string
}

// GenerateKeyPair generates a fresh RSA key pair from crypto/rand
func GenerateKeyPair() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, userKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	pub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	return &KeyPair{
		PrivateKeyPEM: privPEM,
		PublicKey:     strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub))),
	}, nil
}

// ParsePublicKey validates an authorized_keys line and returns it normalized
func ParsePublicKey(authorizedKey string) (string, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(authorizedKey))
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub))), nil
}

// GenerateUsername returns a random username that is a valid POSIX login
func GenerateUsername() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return usernamePrefix + id[:12]
}

// GeneratePassword returns a random password of 24 URL-safe characters
func GeneratePassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
