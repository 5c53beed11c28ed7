package trustmgr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trustplane/trustagent/api"
	"github.com/trustplane/trustagent/cryptoutils"
	"github.com/trustplane/trustagent/interfaces"
)

const storeTimeout = 10 * time.Second

// Manager implements interfaces.TrustManager. It holds the in-memory trust
// state and mirrors it into a sealed policy store on every mutation, so a
// warm restart can pick up exactly where the previous run left off.
type Manager struct {
	log       *slog.Logger
	store     interfaces.StorageBackend
	storeName string

	// measurement of the running application, submitted with certification
	// requests for the authority's policy check.
	measurement interfaces.Measurement

	provider  cryptoutils.AttestationProvider
	certifier CertificationProvider

	domain          interfaces.DomainName
	publicKeyAlg    string
	symmetricKeyAlg string

	policyHost string
	policyPort int
	appHost    string
	appPort    int

	policyCert    interfaces.PolicyCert
	privateKey    interfaces.AuthPrivkey
	admissionCert interfaces.AdmissionCert

	keysInitialized    bool
	policyInitialized  bool
	admissionCertValid bool
}

// NewManager creates a trust manager persisting its state under storeName in
// the given storage backend.
func NewManager(store interfaces.StorageBackend, storeName string, measurement interfaces.Measurement, log *slog.Logger) *Manager {
	return &Manager{
		log:         log,
		store:       store,
		storeName:   storeName,
		measurement: measurement,
	}
}

// InitPolicyKey pins the policy authority's root certificate. The certificate
// is validated before it is accepted as the trust anchor.
func (m *Manager) InitPolicyKey(initialCert []byte) error {
	cert, err := cryptoutils.NewPolicyCert(initialCert)
	if err != nil {
		return fmt.Errorf("rejecting policy certificate: %w", err)
	}

	m.policyCert = cert
	m.policyInitialized = true
	return nil
}

// InitializeEnclave selects the attestation and sealing services for the
// given enclave type. The first parameter is the enclave type identifier; a
// second parameter, if present, is the address of a remote quote provider.
func (m *Manager) InitializeEnclave(params ...string) error {
	if len(params) == 0 {
		return fmt.Errorf("missing enclave type")
	}

	if params[0] == cryptoutils.TDXEnclave && len(params) > 1 && params[1] != "" {
		m.provider = &cryptoutils.RemoteAttestationProvider{Address: params[1]}
		m.log.Info("Enclave initialized", "type", params[0], "quoteProvider", params[1])
		return nil
	}

	provider, err := cryptoutils.ProviderForEnclaveType(params[0])
	if err != nil {
		return err
	}

	m.provider = provider
	m.log.Info("Enclave initialized", "type", params[0])
	return nil
}

// ColdInit performs the one-time creation of key material and trust state,
// then persists the sealed policy store. It requires InitializeEnclave and
// InitPolicyKey to have run first.
func (m *Manager) ColdInit(params interfaces.ColdInitParams) error {
	if m.provider == nil {
		return fmt.Errorf("cold init requires an initialized enclave")
	}
	if !m.policyInitialized {
		return fmt.Errorf("cold init requires a pinned policy certificate: %w", interfaces.ErrTrustNotInitialized)
	}

	if err := cryptoutils.ValidateAlgorithms(params.PublicKeyAlg, params.SymmetricKeyAlg); err != nil {
		return err
	}
	if err := params.Domain.Validate(); err != nil {
		return fmt.Errorf("invalid domain %q: %w", params.Domain, err)
	}

	_, privkey, err := cryptoutils.RandomP256Keypair()
	if err != nil {
		return fmt.Errorf("failed to generate authentication key: %w", err)
	}

	m.domain = params.Domain
	m.publicKeyAlg = params.PublicKeyAlg
	m.symmetricKeyAlg = params.SymmetricKeyAlg
	m.policyHost = params.PolicyHost
	m.policyPort = params.PolicyPort
	m.appHost = params.AppHost
	m.appPort = params.AppPort
	m.privateKey = privkey
	m.keysInitialized = true
	m.admissionCert = nil
	m.admissionCertValid = false

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.saveStore(ctx); err != nil {
		return err
	}

	m.log.Info("Cold init complete", "domain", m.domain.String())
	return nil
}

// WarmRestart reloads the persisted trust state. A previously valid admission
// certificate is re-verified against the policy certificate and the held key;
// if it no longer checks out the process simply comes up uncertified.
func (m *Manager) WarmRestart() error {
	if m.provider == nil {
		return fmt.Errorf("warm restart requires an initialized enclave")
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	state, err := m.loadStore(ctx)
	if err != nil {
		return err
	}

	domain, err := interfaces.NewDomainName(state.Domain)
	if err != nil {
		return fmt.Errorf("corrupt trust state: %w", err)
	}

	m.domain = domain
	m.publicKeyAlg = state.PublicKeyAlg
	m.symmetricKeyAlg = state.SymmetricKeyAlg
	m.policyHost = state.PolicyHost
	m.policyPort = state.PolicyPort
	m.appHost = state.AppHost
	m.appPort = state.AppPort
	m.policyCert = state.PolicyCert
	m.privateKey = state.PrivateKey
	m.admissionCert = state.AdmissionCert

	m.keysInitialized = len(m.privateKey) > 0
	m.policyInitialized = len(m.policyCert) > 0

	m.admissionCertValid = false
	if state.AdmissionCertValid && len(m.admissionCert) > 0 {
		if err := m.checkAdmissionCert(); err != nil {
			m.log.Warn("Persisted admission certificate no longer valid", "err", err)
		} else {
			m.admissionCertValid = true
		}
	}

	m.log.Info("Warm restart complete",
		"domain", m.domain.String(),
		"certified", m.admissionCertValid)
	return nil
}

// CertifyMe obtains an admission certificate from the policy authority. The
// attestation evidence binds the submitted public key to the platform via the
// report data.
func (m *Manager) CertifyMe() error {
	if m.provider == nil {
		return fmt.Errorf("certification requires an initialized enclave")
	}
	if !m.keysInitialized || !m.policyInitialized {
		return interfaces.ErrTrustNotInitialized
	}

	pubkey, err := m.privateKey.PublicPEM()
	if err != nil {
		return fmt.Errorf("failed to derive public key: %w", err)
	}

	var reportData [64]byte
	keyHash := cryptoutils.PubkeyHash(pubkey)
	copy(reportData[:32], keyHash[:])

	evidence, err := m.provider.Attest(reportData)
	if err != nil {
		return fmt.Errorf("failed to produce attestation evidence: %w", err)
	}

	certifier := m.certifier
	if certifier == nil {
		certifier = &AuthorityClient{ServerAddr: fmt.Sprintf("http://%s:%d", m.policyHost, m.policyPort)}
	}

	admissionCert, err := certifier.Certify(m.domain, m.provider.AttestationType().StringID, api.CertifyRequest{
		PublicKey:   pubkey,
		Measurement: m.measurement.String(),
		Evidence:    evidence,
	})
	if err != nil {
		return fmt.Errorf("certification failed: %w", err)
	}

	if err := cryptoutils.VerifyAdmissionCert(m.policyCert, admissionCert, m.privateKey); err != nil {
		return fmt.Errorf("authority returned unusable admission certificate: %w", err)
	}

	m.admissionCert = admissionCert
	m.admissionCertValid = true

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.saveStore(ctx); err != nil {
		return err
	}

	m.log.Info("Certified by policy authority", "domain", m.domain.String())
	return nil
}

// checkAdmissionCert re-validates the held admission certificate: chain to
// the policy certificate, key match, and expiry.
func (m *Manager) checkAdmissionCert() error {
	if err := cryptoutils.VerifyAdmissionCert(m.policyCert, m.admissionCert, m.privateKey); err != nil {
		return err
	}

	expired, err := m.admissionCert.IsExpired()
	if err != nil {
		return err
	}
	if expired {
		return interfaces.ErrAdmissionCertInvalid
	}
	return nil
}

// State returns the current trust state flags.
func (m *Manager) State() interfaces.TrustState {
	return interfaces.TrustState{
		KeysInitialized:    m.keysInitialized,
		PolicyInitialized:  m.policyInitialized,
		AdmissionCertValid: m.admissionCertValid,
	}
}

// Credentials returns the channel credentials held in the trust state.
func (m *Manager) Credentials() interfaces.ChannelCredentials {
	return interfaces.ChannelCredentials{
		PolicyCert:    m.policyCert,
		PrivateKey:    m.privateKey,
		AdmissionCert: m.admissionCert,
	}
}

// AppEndpoint returns the application's own host and port from the persisted
// trust state.
func (m *Manager) AppEndpoint() (string, int) {
	return m.appHost, m.appPort
}

// ClearSensitiveData zeroes the private authentication key. Safe to call
// multiple times; the manager is unusable for sessions afterwards.
func (m *Manager) ClearSensitiveData() {
	cryptoutils.Zeroize(m.privateKey)
	m.privateKey = nil
	m.keysInitialized = false
	m.admissionCertValid = false
}
