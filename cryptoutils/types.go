package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"
)

// PolicyCert is the policy authority's root certificate in PEM format. It is
// the sole trust anchor for admission certificates and channel peers.
type PolicyCert []byte

// NewPolicyCert creates a policy certificate object from PEM-encoded data
// with validation.
func NewPolicyCert(data []byte) (PolicyCert, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("invalid policy certificate: not in PEM format or not a certificate")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("invalid policy certificate structure: %w", err)
	}

	if !cert.IsCA {
		return nil, errors.New("policy certificate is not a CA certificate (IsCA flag not set)")
	}

	return PolicyCert(data), nil
}

// Validate checks if the policy certificate is properly formed.
func (pc PolicyCert) Validate() error {
	_, err := NewPolicyCert(pc)
	return err
}

// GetX509Cert returns the parsed X.509 certificate.
func (pc PolicyCert) GetX509Cert() (*x509.Certificate, error) {
	block, _ := pem.Decode(pc)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	return x509.ParseCertificate(block.Bytes)
}

// Pool returns a certificate pool containing only this policy certificate.
func (pc PolicyCert) Pool() (*x509.CertPool, error) {
	cert, err := pc.GetX509Cert()
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return pool, nil
}

// VerifyCertificate checks that a leaf certificate chains to this policy
// certificate.
func (pc PolicyCert) VerifyCertificate(cert AdmissionCert) error {
	pool, err := pc.Pool()
	if err != nil {
		return err
	}

	leaf, err := cert.GetX509Cert()
	if err != nil {
		return err
	}

	_, err = leaf.Verify(x509.VerifyOptions{Roots: pool})
	return err
}

// AdmissionCert is an authority-issued certificate in PEM format, proving a
// process's right to participate in authenticated sessions.
type AdmissionCert []byte

// NewAdmissionCert creates an admission certificate object from PEM-encoded
// data with validation.
func NewAdmissionCert(data []byte) (AdmissionCert, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("invalid admission certificate: not in PEM format or not a certificate")
	}

	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return nil, fmt.Errorf("invalid admission certificate structure: %w", err)
	}

	return AdmissionCert(data), nil
}

// Validate checks if the admission certificate is properly formed.
func (ac AdmissionCert) Validate() error {
	_, err := NewAdmissionCert(ac)
	return err
}

// GetX509Cert returns the parsed X.509 certificate.
func (ac AdmissionCert) GetX509Cert() (*x509.Certificate, error) {
	block, _ := pem.Decode(ac)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	return x509.ParseCertificate(block.Bytes)
}

// IsExpired checks if the certificate has expired.
func (ac AdmissionCert) IsExpired() (bool, error) {
	cert, err := ac.GetX509Cert()
	if err != nil {
		return false, err
	}
	return cert.NotAfter.Before(time.Now()), nil
}

// AuthPrivkey is a private authentication key in PEM format.
type AuthPrivkey []byte

// NewAuthPrivkey creates a private key object from PEM-encoded data with
// validation.
func NewAuthPrivkey(data []byte) (AuthPrivkey, error) {
	block, _ := pem.Decode(data)
	if block == nil || (block.Type != "PRIVATE KEY" && block.Type != "EC PRIVATE KEY") {
		return nil, errors.New("invalid private key: not in PEM format or not a private key")
	}

	if _, err := x509.ParsePKCS8PrivateKey(block.Bytes); err != nil {
		if _, err := x509.ParseECPrivateKey(block.Bytes); err != nil {
			return nil, fmt.Errorf("invalid private key structure: %w", err)
		}
	}

	return AuthPrivkey(data), nil
}

// Validate checks if the private key is properly formed.
func (priv AuthPrivkey) Validate() error {
	_, err := NewAuthPrivkey(priv)
	return err
}

// GetPrivateKey returns the parsed private key.
func (priv AuthPrivkey) GetPrivateKey() (interface{}, error) {
	block, _ := pem.Decode(priv)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, errors.New("failed to parse private key")
}

// GetPublicKey returns the public half of the private key.
func (priv AuthPrivkey) GetPublicKey() (interface{}, error) {
	parsed, err := priv.GetPrivateKey()
	if err != nil {
		return nil, err
	}

	switch key := parsed.(type) {
	case *ecdsa.PrivateKey:
		return &key.PublicKey, nil
	default:
		return nil, fmt.Errorf("unsupported private key type: %T", parsed)
	}
}

// PublicPEM returns the PEM encoding of the key's public half.
func (priv AuthPrivkey) PublicPEM() (AuthPubkey, error) {
	pub, err := priv.GetPublicKey()
	if err != nil {
		return nil, err
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	return AuthPubkey(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})), nil
}

// AuthPubkey is a public authentication key in PEM format.
type AuthPubkey []byte

// NewAuthPubkey creates a public key object from PEM-encoded data with
// validation.
func NewAuthPubkey(data []byte) (AuthPubkey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("invalid public key: not in PEM format or not a public key")
	}

	if _, err := x509.ParsePKIXPublicKey(block.Bytes); err != nil {
		return nil, fmt.Errorf("invalid public key structure: %w", err)
	}

	return AuthPubkey(data), nil
}

// Validate checks if the public key is properly formed.
func (pub AuthPubkey) Validate() error {
	_, err := NewAuthPubkey(pub)
	return err
}

// GetPublicKey returns the parsed public key.
func (pub AuthPubkey) GetPublicKey() (interface{}, error) {
	block, _ := pem.Decode(pub)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	return x509.ParsePKIXPublicKey(block.Bytes)
}

// RandomP256Keypair generates a fresh ECDSA P-256 keypair in PEM format.
func RandomP256Keypair() (AuthPubkey, AuthPrivkey, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	privBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, nil, err
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes})

	pubBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	return AuthPubkey(pubPEM), AuthPrivkey(privPEM), nil
}
