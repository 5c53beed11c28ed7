package trustmgr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stretchr/testify/mock"
	"github.com/trustplane/trustagent/api"
	"github.com/trustplane/trustagent/cryptoutils"
	"github.com/trustplane/trustagent/interfaces"
)

// CertificationProvider abstracts the policy authority's certification
// endpoint so the trust manager can be tested without a live service.
type CertificationProvider interface {
	// Certify submits a certification request for a domain and returns the
	// issued admission certificate.
	Certify(domain interfaces.DomainName, attestationType string, req api.CertifyRequest) (interfaces.AdmissionCert, error)

	// PolicyCert fetches the authority's root certificate for a domain.
	PolicyCert(domain interfaces.DomainName) (interfaces.PolicyCert, error)
}

// AuthorityClient implements CertificationProvider for HTTP-based
// communication with the policy authority service.
type AuthorityClient struct {
	// ServerAddr is the base URL of the policy authority.
	ServerAddr string
}

// Certify posts the certification request to the authority's attested
// endpoint. The attestation type header tells the authority which verifier to
// apply to the evidence.
func (c *AuthorityClient) Certify(domain interfaces.DomainName, attestationType string, req api.CertifyRequest) (interfaces.AdmissionCert, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("could not serialize certification request: %w", err)
	}

	url := fmt.Sprintf("%s/api/attested/certify/%s", c.ServerAddr, domain.String())
	certifyReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}

	certifyReq.Header.Set("Content-Type", "application/json")
	certifyReq.Header.Set(api.AttestationTypeHeader, attestationType)

	resp, err := http.DefaultClient.Do(certifyReq)
	if err != nil {
		return nil, fmt.Errorf("could not request certification endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("certification endpoint returned non-200 response: %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("certification endpoint returned error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var parsedResponse api.CertifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsedResponse); err != nil {
		return nil, fmt.Errorf("could not parse certification response: %w", err)
	}

	return cryptoutils.NewAdmissionCert(parsedResponse.AdmissionCert)
}

// PolicyCert fetches the authority's root certificate over the public
// endpoint. Used during provisioning when no pinned policy certificate was
// supplied out of band.
func (c *AuthorityClient) PolicyCert(domain interfaces.DomainName) (interfaces.PolicyCert, error) {
	url := fmt.Sprintf("%s/api/public/policy_cert/%s", c.ServerAddr, domain.String())
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("could not initialize request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request policy certificate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("policy certificate endpoint returned error %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var parsedResponse api.PolicyCertResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsedResponse); err != nil {
		return nil, fmt.Errorf("could not parse policy certificate response: %w", err)
	}

	return cryptoutils.NewPolicyCert(parsedResponse.PolicyCert)
}

// MockCertificationProvider implements a mock CertificationProvider for
// testing. The behavior is determined by how the mock is configured in tests.
type MockCertificationProvider struct {
	mock.Mock
}

func (m *MockCertificationProvider) Certify(domain interfaces.DomainName, attestationType string, req api.CertifyRequest) (interfaces.AdmissionCert, error) {
	args := m.Called(domain, attestationType, req)
	cert, _ := args.Get(0).(interfaces.AdmissionCert)
	return cert, args.Error(1)
}

func (m *MockCertificationProvider) PolicyCert(domain interfaces.DomainName) (interfaces.PolicyCert, error) {
	args := m.Called(domain)
	cert, _ := args.Get(0).(interfaces.PolicyCert)
	return cert, args.Error(1)
}
