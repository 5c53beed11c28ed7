package dispatcher

import (
	"fmt"
	"log/slog"

	"github.com/trustplane/trustagent/interfaces"
)

// Config carries the per-run inputs of the dispatcher: the peer endpoint for
// sessions, the cold-init parameters, and the session payloads.
type Config struct {
	// AppHost and AppPort locate the server application. The client dials
	// them; the server listens on them.
	AppHost string
	AppPort int

	// ColdInit holds the one-time initialization parameters, used only by the
	// cold-init operation.
	ColdInit interfaces.ColdInitParams

	// ClientMessage is sent by the client role; ExpectedResponse, if set, is
	// compared against the server's reply. ServerResponse is sent by the
	// server role.
	ClientMessage    []byte
	ExpectedResponse []byte
	ServerResponse   []byte
}

// Dispatcher executes exactly one operation per run against its
// collaborators.
type Dispatcher struct {
	trust    interfaces.TrustManager
	channels interfaces.ChannelProvider
	cfg      Config
	log      *slog.Logger
}

// New creates a dispatcher. The trust manager is passed explicitly and is the
// only holder of key material.
func New(trust interfaces.TrustManager, channels interfaces.ChannelProvider, cfg Config, log *slog.Logger) *Dispatcher {
	return &Dispatcher{trust: trust, channels: channels, cfg: cfg, log: log}
}

// Execute runs the selected operation to completion. Failures are terminal
// for the run; there are no automatic retries.
func (d *Dispatcher) Execute(op interfaces.Operation) error {
	switch op {
	case interfaces.OperationColdInit:
		if err := d.trust.ColdInit(d.cfg.ColdInit); err != nil {
			return fmt.Errorf("cold-init: %w", err)
		}
		return nil

	case interfaces.OperationGetCertified:
		if err := d.trust.WarmRestart(); err != nil {
			return fmt.Errorf("get-certified: warm restart: %w", err)
		}
		if err := d.trust.CertifyMe(); err != nil {
			return fmt.Errorf("get-certified: %w", err)
		}
		return nil

	case interfaces.OperationRunAsClient:
		if err := d.trust.WarmRestart(); err != nil {
			return fmt.Errorf("run-as-client: warm restart: %w", err)
		}
		if err := d.checkClientPreconditions(); err != nil {
			return fmt.Errorf("run-as-client: %w", err)
		}

		ch, err := d.channels.Dial(d.cfg.AppHost, d.cfg.AppPort, d.trust.Credentials())
		if err != nil {
			return fmt.Errorf("run-as-client: %w", err)
		}
		if err := d.ClientSession(ch); err != nil {
			return fmt.Errorf("run-as-client: %w", err)
		}
		return nil

	case interfaces.OperationRunAsServer:
		if err := d.trust.WarmRestart(); err != nil {
			return fmt.Errorf("run-as-server: warm restart: %w", err)
		}
		if !d.trust.State().AdmissionCertValid {
			return fmt.Errorf("run-as-server: %w", interfaces.ErrAdmissionCertInvalid)
		}

		if err := d.channels.Listen(d.cfg.AppHost, d.cfg.AppPort, d.trust.Credentials(), d.handleSession); err != nil {
			return fmt.Errorf("run-as-server: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", interfaces.ErrUnknownOperation, op)
	}
}

// checkClientPreconditions requires the full trust state before the client
// opens a connection.
func (d *Dispatcher) checkClientPreconditions() error {
	state := d.trust.State()
	if !state.KeysInitialized || !state.PolicyInitialized {
		return interfaces.ErrTrustNotInitialized
	}
	if !state.AdmissionCertValid {
		return interfaces.ErrAdmissionCertInvalid
	}
	return nil
}
