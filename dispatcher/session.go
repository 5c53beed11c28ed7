package dispatcher

import (
	"bytes"
	"fmt"

	"github.com/trustplane/trustagent/interfaces"
)

// ClientSession performs the client half of the exchange on an open channel:
// one write, one read, response validation. The channel is closed on every
// path.
func (d *Dispatcher) ClientSession(ch interfaces.SecureChannel) error {
	defer ch.Close()

	if err := ch.Write(d.cfg.ClientMessage); err != nil {
		return fmt.Errorf("client session write: %w", err)
	}

	response, err := ch.Read()
	if err != nil {
		return fmt.Errorf("client session read: %w", err)
	}

	if len(d.cfg.ExpectedResponse) > 0 && !bytes.Equal(response, d.cfg.ExpectedResponse) {
		return fmt.Errorf("unexpected response from %s: %q", ch.PeerID(), response)
	}

	d.log.Info("Client session complete", "peer", ch.PeerID(), "response", string(response))
	return nil
}

// ServerSession performs the server half of the exchange: one read, one
// reply. Failures are surfaced so the caller can account for them; the
// channel is closed on every path.
func (d *Dispatcher) ServerSession(ch interfaces.SecureChannel) error {
	defer ch.Close()

	msg, err := ch.Read()
	if err != nil {
		return fmt.Errorf("server session read: %w", err)
	}

	d.log.Info("Server session received message", "peer", ch.PeerID(), "message", string(msg))

	if err := ch.Write(d.cfg.ServerResponse); err != nil {
		return fmt.Errorf("server session write: %w", err)
	}
	return nil
}

// handleSession adapts ServerSession to the channel provider's accept
// callback. A failed session is logged; the accept loop continues.
func (d *Dispatcher) handleSession(ch interfaces.SecureChannel) {
	if err := d.ServerSession(ch); err != nil {
		d.log.Warn("Server session failed", "peer", ch.PeerID(), "err", err)
	}
}
