package interfaces

import "errors"

// TrustState reports how far the process has progressed toward being
// certified by the policy authority. AdmissionCertValid can only become true
// after KeysInitialized and PolicyInitialized are both true, as the result of
// a successful certification.
type TrustState struct {
	KeysInitialized    bool
	PolicyInitialized  bool
	AdmissionCertValid bool
}

// ChannelCredentials bundles the material needed to open a mutually
// authenticated channel: the policy (root) certificate, the private
// authentication key, and the authority-issued admission certificate.
type ChannelCredentials struct {
	PolicyCert    PolicyCert
	PrivateKey    AuthPrivkey
	AdmissionCert AdmissionCert
}

// ColdInitParams carries the one-time initialization inputs for key and
// trust-state creation.
type ColdInitParams struct {
	// PublicKeyAlg and SymmetricKeyAlg are algorithm identifiers, validated
	// against the supported set (see cryptoutils).
	PublicKeyAlg    string
	SymmetricKeyAlg string

	// Domain is the security domain the application certifies into.
	Domain DomainName

	// PolicyHost/PolicyPort locate the policy authority.
	PolicyHost string
	PolicyPort int

	// AppHost/AppPort locate this application's own service endpoint.
	AppHost string
	AppPort int
}

// Lifecycle errors surfaced by trust manager implementations.
var (
	// ErrTrustNotInitialized indicates keys or policy info are missing from
	// the trust state, before any certification was possible.
	ErrTrustNotInitialized = errors.New("trust data not initialized")

	// ErrAdmissionCertInvalid indicates no valid admission certificate is
	// held, distinguishing "not yet certified" from I/O failures.
	ErrAdmissionCertInvalid = errors.New("admission certificate not valid")
)

// TrustManager drives the trust lifecycle of a single process: one-time key
// and state creation, state reload, and certification against the policy
// authority. Implementations own the persisted policy store.
//
// The manager is handed to the dispatcher explicitly; there is no package
// global. ClearSensitiveData must be invoked on every exit path.
type TrustManager interface {
	// InitPolicyKey pins the policy authority's root certificate.
	InitPolicyKey(initialCert []byte) error

	// InitializeEnclave prepares the platform-specific enclave services
	// (attestation, sealing) for the configured enclave type.
	InitializeEnclave(params ...string) error

	// ColdInit performs one-time creation of key material and trust state,
	// then persists the policy store. Partial failures are not recoverable
	// automatically.
	ColdInit(params ColdInitParams) error

	// WarmRestart reloads previously persisted trust state into memory.
	WarmRestart() error

	// CertifyMe obtains an admission certificate from the policy authority,
	// naming this process's public authentication key.
	CertifyMe() error

	// State returns the current trust state flags.
	State() TrustState

	// Credentials returns the channel credentials held in the trust state.
	// Only meaningful once State().AdmissionCertValid is true.
	Credentials() ChannelCredentials

	// ClearSensitiveData zeroes private key material. Safe to call multiple
	// times and on any path.
	ClearSensitiveData()
}
