package interfaces

import "crypto/x509"

// SecureChannel is an already-authenticated, already-encrypted bidirectional
// message stream between two certified peers. Identity and certificate
// exchange happened during channel establishment; users of the channel
// perform no cryptographic work.
type SecureChannel interface {
	// Read blocks until one complete message is available and returns it as
	// an owned buffer.
	Read() ([]byte, error)

	// Write sends one complete message.
	Write(msg []byte) error

	// Close tears the channel down. Idempotent.
	Close() error

	// PeerID returns the verified identity (certificate CommonName) of the
	// peer, available after the handshake.
	PeerID() string

	// PeerCertificate returns the peer's leaf certificate.
	PeerCertificate() *x509.Certificate
}

// SessionFunc handles one accepted connection on an open secure channel.
type SessionFunc func(ch SecureChannel)

// ChannelProvider establishes secure channels in either role.
type ChannelProvider interface {
	// Dial opens a channel to host:port as a client, authenticating with the
	// given credentials and trusting only the policy certificate.
	Dial(host string, port int, creds ChannelCredentials) (SecureChannel, error)

	// Listen accepts connections on host:port indefinitely, invoking handler
	// once per accepted channel. A failed accept or handshake aborts only
	// that iteration. Listen returns only if the listener itself fails.
	Listen(host string, port int, creds ChannelCredentials, handler SessionFunc) error
}
