package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"
)

func pemEncodeCert(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// Supported algorithm identifiers for cold initialization.
const (
	PublicKeyAlgECCP256 = "ecc-p256"
	SymKeyAlgAES256GCM  = "aes-256-gcm"
)

// ValidateAlgorithms checks the requested key algorithms against the
// supported set.
func ValidateAlgorithms(publicKeyAlg, symKeyAlg string) error {
	if publicKeyAlg != PublicKeyAlgECCP256 {
		return fmt.Errorf("unsupported public key algorithm: %q", publicKeyAlg)
	}
	if symKeyAlg != SymKeyAlgAES256GCM {
		return fmt.Errorf("unsupported symmetric key algorithm: %q", symKeyAlg)
	}
	return nil
}

// CreatePolicyCA creates a self-signed policy CA certificate for the given
// key and common name. Used by the policy authority; applications only ever
// consume the resulting certificate.
func CreatePolicyCA(caKey *ecdsa.PrivateKey, commonName string) (PolicyCert, error) {
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"TrustAgent Policy"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	return NewPolicyCert(pemEncodeCert(certDER))
}

// IssueAdmissionCert signs an admission certificate for the given public
// authentication key under the policy CA. The certificate carries the
// application's domain as CommonName and is valid for one year with both
// client and server auth usages, so one credential serves either session
// role.
func IssueAdmissionCert(caKey *ecdsa.PrivateKey, caCert PolicyCert, pubkey AuthPubkey, commonName string) (AdmissionCert, error) {
	parsedCA, err := caCert.GetX509Cert()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	parsedPub, err := pubkey.GetPublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to parse subject public key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"CertifiedApps"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, parsedCA, parsedPub, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	return NewAdmissionCert(pemEncodeCert(certDER))
}

// VerifyAdmissionCert validates that an admission certificate chains to the
// policy certificate and names the public half of the given private key.
// Both checks must pass before the certificate is usable for sessions.
func VerifyAdmissionCert(policyCert PolicyCert, admissionCert AdmissionCert, key AuthPrivkey) error {
	if err := policyCert.VerifyCertificate(admissionCert); err != nil {
		return fmt.Errorf("admission certificate does not chain to policy certificate: %w", err)
	}

	cert, err := admissionCert.GetX509Cert()
	if err != nil {
		return err
	}

	pub, err := key.GetPublicKey()
	if err != nil {
		return err
	}

	certKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return errors.New("unsupported key type in admission certificate")
	}
	ownKey, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return errors.New("unsupported private key type")
	}

	if !certKey.Equal(ownKey) {
		return errors.New("admission certificate does not name our authentication key")
	}
	return nil
}
