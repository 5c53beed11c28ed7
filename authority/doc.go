// Package authority implements the policy authority service. It holds the
// policy CA key, enforces the measurement admission policy, verifies
// attestation evidence, and issues admission certificates to applications
// that pass both checks. Applications fetch the policy (root) certificate
// from the public endpoint and request certification on the attested one.
package authority
