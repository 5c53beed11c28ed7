package dispatcher

import (
	"crypto/x509"

	"github.com/stretchr/testify/mock"
	"github.com/trustplane/trustagent/interfaces"
)

// MockTrustManager implements a mock interfaces.TrustManager for testing.
// The behavior is determined by how the mock is configured in tests.
type MockTrustManager struct {
	mock.Mock
}

func (m *MockTrustManager) InitPolicyKey(initialCert []byte) error {
	args := m.Called(initialCert)
	return args.Error(0)
}

func (m *MockTrustManager) InitializeEnclave(params ...string) error {
	args := m.Called(params)
	return args.Error(0)
}

func (m *MockTrustManager) ColdInit(params interfaces.ColdInitParams) error {
	args := m.Called(params)
	return args.Error(0)
}

func (m *MockTrustManager) WarmRestart() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTrustManager) CertifyMe() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTrustManager) State() interfaces.TrustState {
	args := m.Called()
	return args.Get(0).(interfaces.TrustState)
}

func (m *MockTrustManager) Credentials() interfaces.ChannelCredentials {
	args := m.Called()
	return args.Get(0).(interfaces.ChannelCredentials)
}

func (m *MockTrustManager) ClearSensitiveData() {
	m.Called()
}

// MockChannelProvider implements a mock interfaces.ChannelProvider for
// testing.
type MockChannelProvider struct {
	mock.Mock
}

func (m *MockChannelProvider) Dial(host string, port int, creds interfaces.ChannelCredentials) (interfaces.SecureChannel, error) {
	args := m.Called(host, port, creds)
	ch, _ := args.Get(0).(interfaces.SecureChannel)
	return ch, args.Error(1)
}

func (m *MockChannelProvider) Listen(host string, port int, creds interfaces.ChannelCredentials, handler interfaces.SessionFunc) error {
	args := m.Called(host, port, creds, handler)
	return args.Error(0)
}

// MockSecureChannel implements a mock interfaces.SecureChannel for testing.
type MockSecureChannel struct {
	mock.Mock
}

func (m *MockSecureChannel) Read() ([]byte, error) {
	args := m.Called()
	msg, _ := args.Get(0).([]byte)
	return msg, args.Error(1)
}

func (m *MockSecureChannel) Write(msg []byte) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockSecureChannel) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockSecureChannel) PeerID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockSecureChannel) PeerCertificate() *x509.Certificate {
	args := m.Called()
	cert, _ := args.Get(0).(*x509.Certificate)
	return cert
}
