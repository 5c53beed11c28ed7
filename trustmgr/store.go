package trustmgr

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/trustplane/trustagent/cryptoutils"
)

// persistedState is the on-disk form of the trust state. It is serialized as
// JSON and sealed before it reaches the storage backend.
type persistedState struct {
	Domain          string `json:"domain"`
	PublicKeyAlg    string `json:"public_key_alg"`
	SymmetricKeyAlg string `json:"symmetric_key_alg"`

	PolicyHost string `json:"policy_host"`
	PolicyPort int    `json:"policy_port"`
	AppHost    string `json:"app_host"`
	AppPort    int    `json:"app_port"`

	PolicyCert    []byte `json:"policy_cert"`
	PrivateKey    []byte `json:"private_key"`
	AdmissionCert []byte `json:"admission_cert,omitempty"`

	AdmissionCertValid bool `json:"admission_cert_valid"`
}

// saveStore seals the current state and writes it to the storage backend.
func (m *Manager) saveStore(ctx context.Context) error {
	state := persistedState{
		Domain:             m.domain.String(),
		PublicKeyAlg:       m.publicKeyAlg,
		SymmetricKeyAlg:    m.symmetricKeyAlg,
		PolicyHost:         m.policyHost,
		PolicyPort:         m.policyPort,
		AppHost:            m.appHost,
		AppPort:            m.appPort,
		PolicyCert:         m.policyCert,
		PrivateKey:         m.privateKey,
		AdmissionCert:      m.admissionCert,
		AdmissionCertValid: m.admissionCertValid,
	}

	plaintext, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to serialize trust state: %w", err)
	}
	defer cryptoutils.Zeroize(plaintext)

	key, err := m.sealingKey(m.storeName)
	if err != nil {
		return err
	}
	defer cryptoutils.Zeroize(key)

	sealed, err := cryptoutils.Seal(key, plaintext)
	if err != nil {
		return fmt.Errorf("failed to seal trust state: %w", err)
	}

	if err := m.store.Store(ctx, m.storeName, sealed); err != nil {
		return fmt.Errorf("failed to persist trust state: %w", err)
	}

	m.log.Debug("Persisted policy store",
		"backend", m.store.Name(),
		"store", m.storeName)
	return nil
}

// loadStore fetches, unseals and deserializes the persisted trust state.
func (m *Manager) loadStore(ctx context.Context) (*persistedState, error) {
	sealed, err := m.store.Fetch(ctx, m.storeName)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy store: %w", err)
	}

	key, err := m.sealingKey(m.storeName)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zeroize(key)

	plaintext, err := cryptoutils.Unseal(key, sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal policy store: %w", err)
	}
	defer cryptoutils.Zeroize(plaintext)

	var state persistedState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return nil, fmt.Errorf("failed to parse trust state: %w", err)
	}

	return &state, nil
}

// sealingKey derives the store encryption key from the enclave sealing
// secret and a scope string.
func (m *Manager) sealingKey(scope string) ([]byte, error) {
	if m.provider == nil {
		return nil, fmt.Errorf("enclave not initialized")
	}

	secret, err := m.provider.SealingSecret(scope)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain sealing secret: %w", err)
	}
	defer cryptoutils.Zeroize(secret)

	return cryptoutils.DeriveSealingKey(secret, []byte(m.storeName)), nil
}
