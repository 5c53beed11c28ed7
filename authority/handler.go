package authority

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/trustplane/trustagent/api"
	"github.com/trustplane/trustagent/cryptoutils"
	"github.com/trustplane/trustagent/interfaces"
)

const maxRequestBody = 1 << 20

// Handler processes HTTP requests for the policy authority. It verifies
// measurement policy and attestation evidence, then signs admission
// certificates with the policy CA key.
type Handler struct {
	caKey      *ecdsa.PrivateKey
	policyCert interfaces.PolicyCert
	policy     *Policy
	log        *slog.Logger
}

// NewHandler creates a request handler around an existing policy CA.
func NewHandler(caKey *ecdsa.PrivateKey, policyCert interfaces.PolicyCert, policy *Policy, log *slog.Logger) *Handler {
	return &Handler{caKey: caKey, policyCert: policyCert, policy: policy, log: log}
}

// NewSelfSignedHandler generates a fresh policy CA and wraps it in a handler.
// Used by the standalone authority binary and tests.
func NewSelfSignedHandler(commonName string, policy *Policy, log *slog.Logger) (*Handler, error) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate policy CA key: %w", err)
	}

	policyCert, err := cryptoutils.CreatePolicyCA(caKey, commonName)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy CA certificate: %w", err)
	}

	return NewHandler(caKey, policyCert, policy, log), nil
}

// PolicyCert returns the authority's root certificate.
func (h *Handler) PolicyCert() interfaces.PolicyCert {
	return h.policyCert
}

// RegisterRoutes configures the router with the authority endpoints:
//   - POST /api/attested/certify/{domain}
//   - GET /api/public/policy_cert/{domain}
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/attested/certify/{domain}", h.HandleCertify)
	r.Get("/api/public/policy_cert/{domain}", h.HandlePolicyCert)
}

// HandleCertify processes an admission certificate request. The measurement
// must be admitted by policy and the attestation evidence must bind the
// submitted public key to the platform.
//
// Status codes:
//   - 200 OK: admission certificate issued
//   - 400 Bad Request: malformed domain, body, measurement or public key
//   - 403 Forbidden: measurement not admitted or evidence rejected
//   - 500 Internal Server Error: certificate signing failed
func (h *Handler) HandleCertify(w http.ResponseWriter, r *http.Request) {
	domain, err := interfaces.NewDomainName(r.PathValue("domain"))
	if err != nil {
		h.log.Error("Invalid domain", "err", err, "domain", r.PathValue("domain"))
		http.Error(w, "Invalid domain format", http.StatusBadRequest)
		return
	}

	var req api.CertifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.log.Error("Invalid certification request", "err", err, "domain", domain.String())
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	measurement, err := interfaces.NewMeasurementFromHex(req.Measurement)
	if err != nil {
		http.Error(w, "Invalid measurement format", http.StatusBadRequest)
		return
	}

	pubkey, err := cryptoutils.NewAuthPubkey(req.PublicKey)
	if err != nil {
		http.Error(w, "Invalid public key", http.StatusBadRequest)
		return
	}

	if !h.policy.MeasurementAllowed(domain, measurement) {
		h.log.Warn("Measurement not admitted",
			"domain", domain.String(),
			"measurement", measurement.String())
		http.Error(w, "Measurement not admitted by policy", http.StatusForbidden)
		return
	}

	if err := h.verifyEvidence(r.Header.Get(api.AttestationTypeHeader), pubkey, req.Evidence); err != nil {
		h.log.Warn("Attestation evidence rejected", "err", err, "domain", domain.String())
		http.Error(w, "Attestation evidence rejected", http.StatusForbidden)
		return
	}

	admissionCert, err := cryptoutils.IssueAdmissionCert(h.caKey, h.policyCert, pubkey, domain.String())
	if err != nil {
		h.log.Error("Failed to issue admission certificate", "err", err, "domain", domain.String())
		http.Error(w, "Failed to issue certificate", http.StatusInternalServerError)
		return
	}

	h.log.Info("Issued admission certificate", "domain", domain.String(), "measurement", measurement.String())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(api.CertifyResponse{AdmissionCert: admissionCert}); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// verifyEvidence checks the attestation evidence against the report data
// derived from the submitted public key.
func (h *Handler) verifyEvidence(attestationType string, pubkey interfaces.AuthPubkey, evidence []byte) error {
	at, err := cryptoutils.AttestationTypeFromString(attestationType)
	if err != nil {
		return fmt.Errorf("unsupported attestation type %q: %w", attestationType, err)
	}

	var reportData [64]byte
	keyHash := cryptoutils.PubkeyHash(pubkey)
	copy(reportData[:32], keyHash[:])

	switch at {
	case cryptoutils.SimulatedAttestation:
		return cryptoutils.VerifySimulatedAttestation(reportData, evidence)
	case cryptoutils.DCAPAttestation:
		_, err := cryptoutils.VerifyDCAPAttestation(reportData, evidence)
		return err
	default:
		return fmt.Errorf("no verifier for attestation type %q", attestationType)
	}
}

// HandlePolicyCert returns the policy (root) certificate for a domain.
//
// Status codes:
//   - 200 OK: certificate returned
//   - 400 Bad Request: malformed domain
//   - 404 Not Found: domain not covered by the policy
func (h *Handler) HandlePolicyCert(w http.ResponseWriter, r *http.Request) {
	domain, err := interfaces.NewDomainName(r.PathValue("domain"))
	if err != nil {
		http.Error(w, "Invalid domain format", http.StatusBadRequest)
		return
	}

	if !h.policy.KnowsDomain(domain) {
		http.Error(w, "Unknown domain", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(api.PolicyCertResponse{PolicyCert: h.policyCert}); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
