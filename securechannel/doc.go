// Package securechannel establishes mutually authenticated TLS channels
// between certified processes. Both sides present their admission certificate
// and verify the peer's against the policy certificate, the single trust
// anchor of the security domain. Messages travel as length-prefixed frames so
// application code deals in complete messages, not byte streams.
package securechannel
