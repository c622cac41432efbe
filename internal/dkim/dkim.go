// Package dkim signs outbound engagement mail and manages DKIM keys.
package dkim

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/emersion/go-msgauth/dkim"
)

// DefaultKeyBits is the RSA key size used by GenerateKeyPair
const DefaultKeyBits = 2048

// signedHeaders covers the fields replies are threaded on
var signedHeaders = []string{
	"From", "To", "Subject", "Date", "Message-Id", "In-Reply-To", "References", "Content-Type",
}

// Signer signs messages for one domain and selector
type Signer struct {
	key      *rsa.PrivateKey
	domain   string
	selector string
}

// NewSigner creates a signer
func NewSigner(key *rsa.PrivateKey, domain, selector string) *Signer {
	return &Signer{key: key, domain: domain, selector: selector}
}

// LoadSigner creates a signer from a PEM key file
func LoadSigner(keyFile, domain, selector string) (*Signer, error) {
	key, err := LoadPrivateKey(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load DKIM key: %w", err)
	}
	return NewSigner(key, domain, selector), nil
}

// Sign returns message with a DKIM-Signature header prepended
func (s *Signer) Sign(message []byte) ([]byte, error) {
	options := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.key,
		Hash:                   crypto.SHA256,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
		HeaderKeys:             signedHeaders,
	}

	var out bytes.Buffer
	if err := dkim.Sign(&out, bytes.NewReader(message), options); err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return out.Bytes(), nil
}

// Domain returns the signing domain
func (s *Signer) Domain() string {
	return s.domain
}

// Selector returns the DKIM selector
func (s *Signer) Selector() string {
	return s.selector
}

// KeyPair is a generated key with its DNS publication data
type KeyPair struct {
	Key      *rsa.PrivateKey
	Domain   string
	Selector string
}

// GenerateKeyPair creates an RSA key. bits of 0 uses DefaultKeyBits.
func GenerateKeyPair(domain, selector string, bits int) (*KeyPair, error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &KeyPair{Key: key, Domain: domain, Selector: selector}, nil
}

// WriteKey stores the private key as PKCS#8 PEM with 0600 permissions
func (kp *KeyPair) WriteKey(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(kp.Key)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// RecordName returns the DNS name the TXT record is published at
func (kp *KeyPair) RecordName() string {
	return fmt.Sprintf("%s._domainkey.%s", kp.Selector, kp.Domain)
}

// RecordValue returns the TXT record content
func (kp *KeyPair) RecordValue() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&kp.Key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return "v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(der), nil
}

// LoadPrivateKey reads a PKCS#1 or PKCS#8 RSA key from a PEM file
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("key in %s is not RSA", path)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}
