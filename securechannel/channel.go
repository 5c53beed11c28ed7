package securechannel

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/trustplane/trustagent/interfaces"
)

// MaxMessageSize caps a single framed message. Oversized frames indicate a
// corrupt or hostile peer and abort the channel.
const MaxMessageSize = 16 << 20

// Provider implements interfaces.ChannelProvider over TLS with mutual
// certificate verification.
type Provider struct {
	log *slog.Logger
}

// NewProvider creates a channel provider.
func NewProvider(log *slog.Logger) *Provider {
	return &Provider{log: log}
}

// Dial connects to host:port, presents the admission certificate, and
// verifies the server against the policy certificate. Hostname verification
// is replaced by chain verification: any peer admitted into the domain is
// acceptable regardless of the address it is reached at.
func (p *Provider) Dial(host string, port int, creds interfaces.ChannelCredentials) (interfaces.SecureChannel, error) {
	cfg, err := p.tlsConfig(creds)
	if err != nil {
		return nil, err
	}

	pool, err := creds.PolicyCert.Pool()
	if err != nil {
		return nil, fmt.Errorf("failed to build policy certificate pool: %w", err)
	}

	// Chain-only verification: the policy certificate decides who is in the
	// domain, not DNS names.
	cfg.InsecureSkipVerify = true
	cfg.VerifyPeerCertificate = chainVerifier(pool)

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := tls.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	ch, err := newChannel(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	p.log.Debug("Channel established", "addr", addr, "peer", ch.PeerID())
	return ch, nil
}

// Listen accepts connections on host:port and invokes handler once per
// successfully handshaken channel. Accept and handshake failures abort only
// that connection.
func (p *Provider) Listen(host string, port int, creds interfaces.ChannelCredentials, handler interfaces.SessionFunc) error {
	cfg, err := p.tlsConfig(creds)
	if err != nil {
		return err
	}

	pool, err := creds.PolicyCert.Pool()
	if err != nil {
		return fmt.Errorf("failed to build policy certificate pool: %w", err)
	}
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	cfg.ClientCAs = pool

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	listener, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	defer listener.Close()

	p.log.Info("Accepting authenticated connections", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			p.log.Warn("Accept failed", "err", err)
			continue
		}

		// One session at a time. A handshake or session failure aborts only
		// this connection.
		ch, err := newChannel(conn.(*tls.Conn))
		if err != nil {
			p.log.Warn("Handshake failed", "remote", conn.RemoteAddr().String(), "err", err)
			conn.Close()
			continue
		}
		handler(ch)
		ch.Close()
	}
}

// tlsConfig builds the shared half of the TLS configuration: our certificate
// and key, TLS 1.3 minimum.
func (p *Provider) tlsConfig(creds interfaces.ChannelCredentials) (*tls.Config, error) {
	if len(creds.AdmissionCert) == 0 || len(creds.PrivateKey) == 0 {
		return nil, errors.New("channel credentials incomplete")
	}

	cert, err := tls.X509KeyPair(creds.AdmissionCert, creds.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load channel credentials: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// chainVerifier verifies the raw peer chain against the policy certificate
// pool, ignoring hostnames.
func chainVerifier(pool *x509.CertPool) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("peer presented no certificate")
		}

		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("failed to parse peer certificate: %w", err)
		}

		intermediates := x509.NewCertPool()
		for _, raw := range rawCerts[1:] {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("failed to parse peer chain certificate: %w", err)
			}
			intermediates.AddCert(cert)
		}

		_, err = leaf.Verify(x509.VerifyOptions{
			Roots:         pool,
			Intermediates: intermediates,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		})
		if err != nil {
			return fmt.Errorf("peer certificate does not chain to policy certificate: %w", err)
		}
		return nil
	}
}

// channel frames messages over an established TLS connection with a 4-byte
// big-endian length prefix.
type channel struct {
	conn *tls.Conn
	peer *x509.Certificate

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// newChannel completes the handshake and captures the peer's leaf
// certificate.
func newChannel(conn *tls.Conn) (*channel, error) {
	if err := conn.Handshake(); err != nil {
		return nil, fmt.Errorf("tls handshake failed: %w", err)
	}

	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil, errors.New("peer presented no certificate")
	}

	return &channel{conn: conn, peer: state.PeerCertificates[0]}, nil
}

// Read returns the next complete message.
func (c *channel) Read() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.conn, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read message header: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxMessageSize {
		return nil, fmt.Errorf("message of %d bytes exceeds limit", size)
	}

	msg := make([]byte, size)
	if _, err := io.ReadFull(c.conn, msg); err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	return msg, nil
}

// Write sends one complete message.
func (c *channel) Write(msg []byte) error {
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", len(msg))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(msg)))
	if _, err := c.conn.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write message header: %w", err)
	}
	if _, err := c.conn.Write(msg); err != nil {
		return fmt.Errorf("failed to write message body: %w", err)
	}
	return nil
}

// Close tears the connection down. Idempotent.
func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// PeerID returns the CommonName of the peer's verified certificate.
func (c *channel) PeerID() string {
	return c.peer.Subject.CommonName
}

// PeerCertificate returns the peer's leaf certificate.
func (c *channel) PeerCertificate() *x509.Certificate {
	return c.peer
}
