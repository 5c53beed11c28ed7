package securechannel

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustplane/trustagent/cryptoutils"
	"github.com/trustplane/trustagent/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testAuthority struct {
	caKey      *ecdsa.PrivateKey
	policyCert interfaces.PolicyCert
}

func newTestAuthority(t *testing.T) *testAuthority {
	t.Helper()
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	policyCert, err := cryptoutils.CreatePolicyCA(caKey, "test policy authority")
	require.NoError(t, err)
	return &testAuthority{caKey: caKey, policyCert: policyCert}
}

func (a *testAuthority) credentials(t *testing.T, commonName string) interfaces.ChannelCredentials {
	t.Helper()
	pubkey, privkey, err := cryptoutils.RandomP256Keypair()
	require.NoError(t, err)
	admissionCert, err := cryptoutils.IssueAdmissionCert(a.caKey, a.policyCert, pubkey, commonName)
	require.NoError(t, err)
	return interfaces.ChannelCredentials{
		PolicyCert:    a.policyCert,
		PrivateKey:    privkey,
		AdmissionCert: admissionCert,
	}
}

// freePort reserves an ephemeral port for the listener.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// dialWithRetry dials until the listener goroutine is up.
func dialWithRetry(p *Provider, port int, creds interfaces.ChannelCredentials) (interfaces.SecureChannel, error) {
	var ch interfaces.SecureChannel
	var err error
	for i := 0; i < 50; i++ {
		ch, err = p.Dial("127.0.0.1", port, creds)
		if err == nil {
			return ch, nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil, err
}

func TestChannelRoundTrip(t *testing.T) {
	authority := newTestAuthority(t)
	serverCreds := authority.credentials(t, "server.trustplane.dev")
	clientCreds := authority.credentials(t, "client.trustplane.dev")

	provider := NewProvider(testLogger())
	port := freePort(t)

	serverSeen := make(chan string, 1)
	go func() {
		_ = provider.Listen("127.0.0.1", port, serverCreds, func(ch interfaces.SecureChannel) {
			serverSeen <- ch.PeerID()
			msg, err := ch.Read()
			if err != nil {
				return
			}
			_ = ch.Write(append([]byte("echo: "), msg...))
		})
	}()

	ch, err := dialWithRetry(provider, port, clientCreds)
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, "server.trustplane.dev", ch.PeerID())
	require.NotNil(t, ch.PeerCertificate())

	require.NoError(t, ch.Write([]byte("Hi from your secret client\n")))
	reply, err := ch.Read()
	require.NoError(t, err)
	assert.Equal(t, "echo: Hi from your secret client\n", string(reply))

	select {
	case peer := <-serverSeen:
		assert.Equal(t, "client.trustplane.dev", peer)
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the session")
	}

	// Close is idempotent.
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
}

func TestChannelRejectsForeignAuthority(t *testing.T) {
	authority := newTestAuthority(t)
	rogue := newTestAuthority(t)

	serverCreds := authority.credentials(t, "server.trustplane.dev")

	// The rogue client trusts the right policy certificate but presents an
	// admission certificate from a different CA.
	rogueCreds := rogue.credentials(t, "client.trustplane.dev")
	rogueCreds.PolicyCert = authority.policyCert

	provider := NewProvider(testLogger())
	port := freePort(t)

	go func() {
		_ = provider.Listen("127.0.0.1", port, serverCreds, func(ch interfaces.SecureChannel) {
			t.Error("session handler must not run for an unadmitted client")
		})
	}()

	// The server's rejection surfaces during the handshake or on first use.
	ch, err := dialWithRetry(provider, port, rogueCreds)
	if err == nil {
		err = ch.Write([]byte("hello"))
		if err == nil {
			_, err = ch.Read()
		}
		ch.Close()
	}
	require.Error(t, err)
}

func TestClientVerifiesServerAuthority(t *testing.T) {
	authority := newTestAuthority(t)
	rogue := newTestAuthority(t)

	// Server certified by a CA the client does not trust.
	serverCreds := rogue.credentials(t, "server.trustplane.dev")
	clientCreds := authority.credentials(t, "client.trustplane.dev")

	provider := NewProvider(testLogger())
	port := freePort(t)

	go func() {
		_ = provider.Listen("127.0.0.1", port, serverCreds, func(ch interfaces.SecureChannel) {})
	}()

	// Give the listener a moment, then expect every dial to fail.
	time.Sleep(100 * time.Millisecond)
	_, err := provider.Dial("127.0.0.1", port, clientCreds)
	require.Error(t, err)
}

func TestWriteRejectsOversizedMessage(t *testing.T) {
	authority := newTestAuthority(t)
	serverCreds := authority.credentials(t, "server.trustplane.dev")
	clientCreds := authority.credentials(t, "client.trustplane.dev")

	provider := NewProvider(testLogger())
	port := freePort(t)

	go func() {
		_ = provider.Listen("127.0.0.1", port, serverCreds, func(ch interfaces.SecureChannel) {
			_, _ = ch.Read()
		})
	}()

	ch, err := dialWithRetry(provider, port, clientCreds)
	require.NoError(t, err)
	defer ch.Close()

	require.ErrorContains(t, ch.Write(make([]byte, MaxMessageSize+1)), "exceeds limit")
}

func TestDialRequiresCredentials(t *testing.T) {
	provider := NewProvider(testLogger())
	_, err := provider.Dial("127.0.0.1", 1, interfaces.ChannelCredentials{})
	require.ErrorContains(t, err, "credentials incomplete")
}
