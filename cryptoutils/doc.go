// Package cryptoutils provides the cryptographic building blocks for the
// trust agent: typed PEM credential wrappers, policy CA and admission
// certificate handling, policy-store sealing, and TEE attestation providers.
//
// Key types:
//   - PolicyCert, AdmissionCert, AuthPrivkey, AuthPubkey: validated PEM blobs
//   - AttestationProvider: pluggable evidence generation (simulated, remote, TDX)
//   - Seal/Unseal: AES-256-GCM with argon2id-derived keys
package cryptoutils
