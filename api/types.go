package api

// AttestationTypeHeader names the TEE attestation mechanism that produced
// the evidence in a certification request. Supported values: "simulated",
// "qemu-tdx".
const AttestationTypeHeader = "X-Trustagent-Attestation-Type"

// CertifyRequest asks the policy authority to issue an admission certificate
// naming the submitted public authentication key.
type CertifyRequest struct {
	// PublicKey is the PEM-encoded public authentication key to certify.
	PublicKey []byte `json:"public_key"`

	// Measurement is the hex-encoded SHA-256 measurement of the requesting
	// application, checked against the authority's policy.
	Measurement string `json:"measurement"`

	// Evidence is attestation evidence binding PublicKey to the platform;
	// its format depends on the attestation type header.
	Evidence []byte `json:"evidence"`
}

// CertifyResponse carries the issued admission certificate.
type CertifyResponse struct {
	// AdmissionCert is the PEM-encoded admission certificate, signed by the
	// policy CA and naming the requested public key.
	AdmissionCert []byte `json:"admission_cert"`
}

// PolicyCertResponse carries the authority's root certificate.
type PolicyCertResponse struct {
	// PolicyCert is the PEM-encoded policy CA certificate.
	PolicyCert []byte `json:"policy_cert"`
}
