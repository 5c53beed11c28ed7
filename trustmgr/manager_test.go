package trustmgr

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/trustplane/trustagent/authority"
	"github.com/trustplane/trustagent/cryptoutils"
	"github.com/trustplane/trustagent/interfaces"
	"github.com/trustplane/trustagent/storage"
)

const testDomain = "app.trustplane.dev"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMeasurement() interfaces.Measurement {
	m, _ := interfaces.NewMeasurementFromBytes(bytes.Repeat([]byte{0x42}, 32))
	return m
}

func testColdInitParams() interfaces.ColdInitParams {
	domain, _ := interfaces.NewDomainName(testDomain)
	return interfaces.ColdInitParams{
		PublicKeyAlg:    cryptoutils.PublicKeyAlgECCP256,
		SymmetricKeyAlg: cryptoutils.SymKeyAlgAES256GCM,
		Domain:          domain,
		PolicyHost:      "localhost",
		PolicyPort:      8123,
		AppHost:         "localhost",
		AppPort:         8124,
	}
}

// newTestAuthority starts an httptest policy authority admitting the test
// measurement into the test domain.
func newTestAuthority(t *testing.T) (*httptest.Server, *authority.Handler) {
	t.Helper()

	policy := &authority.Policy{Domains: map[string]authority.DomainPolicy{
		testDomain: {AllowedMeasurements: []string{testMeasurement().String()}},
	}}
	handler, err := authority.NewSelfSignedHandler("test policy authority", policy, testLogger())
	require.NoError(t, err)

	mux := chi.NewRouter()
	handler.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, handler
}

func newTestManager(t *testing.T, dir string) *Manager {
	t.Helper()

	backend, err := storage.NewFileBackend(dir, testLogger())
	require.NoError(t, err)

	m := NewManager(backend, "store.bin.policy_store", testMeasurement(), testLogger())
	require.NoError(t, m.InitializeEnclave(cryptoutils.SimulatedEnclave))
	return m
}

func TestColdInitWarmRestartRoundTrip(t *testing.T) {
	dir := t.TempDir()
	_, handler := newTestAuthority(t)

	m := newTestManager(t, dir)
	require.NoError(t, m.InitPolicyKey(handler.PolicyCert()))
	require.NoError(t, m.ColdInit(testColdInitParams()))

	state := m.State()
	assert.True(t, state.KeysInitialized)
	assert.True(t, state.PolicyInitialized)
	assert.False(t, state.AdmissionCertValid)

	creds := m.Credentials()
	require.NotEmpty(t, creds.PrivateKey)

	// A fresh manager over the same store must restore the full state.
	restarted := newTestManager(t, dir)
	require.NoError(t, restarted.WarmRestart())

	state = restarted.State()
	assert.True(t, state.KeysInitialized)
	assert.True(t, state.PolicyInitialized)
	assert.False(t, state.AdmissionCertValid)

	restored := restarted.Credentials()
	assert.Equal(t, creds.PrivateKey, restored.PrivateKey)
	assert.Equal(t, creds.PolicyCert, restored.PolicyCert)
}

func TestWarmRestartWithoutStore(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	err := m.WarmRestart()
	require.ErrorIs(t, err, interfaces.ErrBlobNotFound)
}

func TestWarmRestartRejectsTamperedStore(t *testing.T) {
	dir := t.TempDir()
	_, handler := newTestAuthority(t)

	m := newTestManager(t, dir)
	require.NoError(t, m.InitPolicyKey(handler.PolicyCert()))
	require.NoError(t, m.ColdInit(testColdInitParams()))

	backend, err := storage.NewFileBackend(dir, testLogger())
	require.NoError(t, err)
	sealed, err := backend.Fetch(context.Background(), "store.bin.policy_store")
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff
	require.NoError(t, backend.Store(context.Background(), "store.bin.policy_store", sealed))

	restarted := newTestManager(t, dir)
	require.ErrorContains(t, restarted.WarmRestart(), "unseal")
}

func TestCertifyMe(t *testing.T) {
	dir := t.TempDir()
	srv, handler := newTestAuthority(t)

	m := newTestManager(t, dir)
	m.certifier = &AuthorityClient{ServerAddr: srv.URL}
	require.NoError(t, m.InitPolicyKey(handler.PolicyCert()))
	require.NoError(t, m.ColdInit(testColdInitParams()))

	require.NoError(t, m.CertifyMe())
	assert.True(t, m.State().AdmissionCertValid)

	creds := m.Credentials()
	require.NotEmpty(t, creds.AdmissionCert)
	require.NoError(t, cryptoutils.VerifyAdmissionCert(creds.PolicyCert, creds.AdmissionCert, creds.PrivateKey))

	// Certification is idempotent at the protocol level.
	require.NoError(t, m.CertifyMe())
	assert.True(t, m.State().AdmissionCertValid)

	// A warm restart keeps the certified state, re-validating the cert.
	restarted := newTestManager(t, dir)
	require.NoError(t, restarted.WarmRestart())
	assert.True(t, restarted.State().AdmissionCertValid)
}

func TestCertifyMeRequiresInitializedTrust(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	require.ErrorIs(t, m.CertifyMe(), interfaces.ErrTrustNotInitialized)
}

func TestCertifyMeRejectedMeasurement(t *testing.T) {
	dir := t.TempDir()
	srv, handler := newTestAuthority(t)

	backend, err := storage.NewFileBackend(dir, testLogger())
	require.NoError(t, err)

	other, _ := interfaces.NewMeasurementFromBytes(bytes.Repeat([]byte{0x99}, 32))
	m := NewManager(backend, "store.bin.policy_store", other, testLogger())
	require.NoError(t, m.InitializeEnclave(cryptoutils.SimulatedEnclave))
	m.certifier = &AuthorityClient{ServerAddr: srv.URL}
	require.NoError(t, m.InitPolicyKey(handler.PolicyCert()))
	require.NoError(t, m.ColdInit(testColdInitParams()))

	require.Error(t, m.CertifyMe())
	assert.False(t, m.State().AdmissionCertValid)
}

func TestCertifyMeSurfacesAuthorityFailure(t *testing.T) {
	dir := t.TempDir()
	_, handler := newTestAuthority(t)

	m := newTestManager(t, dir)
	certifier := new(MockCertificationProvider)
	certifier.On("Certify", mock.Anything, cryptoutils.SimulatedAttestation.StringID, mock.AnythingOfType("api.CertifyRequest")).
		Return(nil, errors.New("authority unavailable")).Once()
	m.certifier = certifier

	require.NoError(t, m.InitPolicyKey(handler.PolicyCert()))
	require.NoError(t, m.ColdInit(testColdInitParams()))

	require.ErrorContains(t, m.CertifyMe(), "authority unavailable")
	assert.False(t, m.State().AdmissionCertValid)
	certifier.AssertExpectations(t)
}

func TestColdInitValidatesAlgorithms(t *testing.T) {
	_, handler := newTestAuthority(t)
	m := newTestManager(t, t.TempDir())
	require.NoError(t, m.InitPolicyKey(handler.PolicyCert()))

	params := testColdInitParams()
	params.PublicKeyAlg = "rsa-2048"
	require.Error(t, m.ColdInit(params))
}

func TestClearSensitiveData(t *testing.T) {
	_, handler := newTestAuthority(t)
	m := newTestManager(t, t.TempDir())
	require.NoError(t, m.InitPolicyKey(handler.PolicyCert()))
	require.NoError(t, m.ColdInit(testColdInitParams()))

	key := m.Credentials().PrivateKey
	require.NotEmpty(t, key)

	m.ClearSensitiveData()
	m.ClearSensitiveData()

	assert.False(t, m.State().KeysInitialized)
	assert.Empty(t, m.Credentials().PrivateKey)
	// The old buffer was wiped, not just dereferenced.
	assert.Equal(t, bytes.Repeat([]byte{0}, len(key)), []byte(key))
}
