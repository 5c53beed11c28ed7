package dispatcher

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/trustplane/trustagent/interfaces"
)

const (
	testClientMessage = "Hi from your secret client\n"
	testServerMessage = "Hi from your secret server\n"
)

func newTestDispatcher(trust *MockTrustManager, channels *MockChannelProvider) *Dispatcher {
	cfg := Config{
		AppHost:          "127.0.0.1",
		AppPort:          8124,
		ClientMessage:    []byte(testClientMessage),
		ExpectedResponse: []byte(testServerMessage),
		ServerResponse:   []byte(testServerMessage),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(trust, channels, cfg, log)
}

func TestUnknownOperation(t *testing.T) {
	trust := new(MockTrustManager)
	channels := new(MockChannelProvider)
	d := newTestDispatcher(trust, channels)

	_, err := interfaces.ParseOperation("run-as-sidecar")
	require.ErrorIs(t, err, interfaces.ErrUnknownOperation)

	err = d.Execute(interfaces.Operation("run-as-sidecar"))
	require.ErrorIs(t, err, interfaces.ErrUnknownOperation)

	trust.AssertNotCalled(t, "ColdInit", mock.Anything)
	trust.AssertNotCalled(t, "WarmRestart")
	trust.AssertNotCalled(t, "CertifyMe")
	channels.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything, mock.Anything)
	channels.AssertNotCalled(t, "Listen", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestColdInit(t *testing.T) {
	trust := new(MockTrustManager)
	channels := new(MockChannelProvider)
	d := newTestDispatcher(trust, channels)

	trust.On("ColdInit", d.cfg.ColdInit).Return(nil).Once()
	require.NoError(t, d.Execute(interfaces.OperationColdInit))
	trust.AssertExpectations(t)

	trust.AssertNotCalled(t, "WarmRestart")
	channels.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything, mock.Anything)
}

func TestColdInitFailureIsFatal(t *testing.T) {
	trust := new(MockTrustManager)
	channels := new(MockChannelProvider)
	d := newTestDispatcher(trust, channels)

	trust.On("ColdInit", mock.Anything).Return(errors.New("store unavailable")).Once()
	err := d.Execute(interfaces.OperationColdInit)
	require.ErrorContains(t, err, "cold-init")

	trust.AssertNumberOfCalls(t, "ColdInit", 1)
}

func TestGetCertifiedRequiresWarmRestart(t *testing.T) {
	trust := new(MockTrustManager)
	channels := new(MockChannelProvider)
	d := newTestDispatcher(trust, channels)

	trust.On("WarmRestart").Return(errors.New("no policy store")).Once()
	err := d.Execute(interfaces.OperationGetCertified)
	require.Error(t, err)

	trust.AssertNotCalled(t, "CertifyMe")
}

func TestGetCertified(t *testing.T) {
	trust := new(MockTrustManager)
	channels := new(MockChannelProvider)
	d := newTestDispatcher(trust, channels)

	trust.On("WarmRestart").Return(nil)
	trust.On("CertifyMe").Return(nil)

	require.NoError(t, d.Execute(interfaces.OperationGetCertified))
	trust.AssertNumberOfCalls(t, "CertifyMe", 1)
}

func TestGetCertifiedIsIdempotent(t *testing.T) {
	trust := new(MockTrustManager)
	channels := new(MockChannelProvider)
	d := newTestDispatcher(trust, channels)

	trust.On("WarmRestart").Return(nil)
	trust.On("CertifyMe").Return(nil)
	trust.On("State").Return(interfaces.TrustState{KeysInitialized: true, PolicyInitialized: true, AdmissionCertValid: true})

	require.NoError(t, d.Execute(interfaces.OperationGetCertified))
	require.True(t, trust.State().AdmissionCertValid)
	require.NoError(t, d.Execute(interfaces.OperationGetCertified))
	require.True(t, trust.State().AdmissionCertValid)

	trust.AssertNumberOfCalls(t, "CertifyMe", 2)
}

func TestWarmRestartFailureBlocksChannels(t *testing.T) {
	for _, op := range []interfaces.Operation{interfaces.OperationRunAsClient, interfaces.OperationRunAsServer} {
		t.Run(op.String(), func(t *testing.T) {
			trust := new(MockTrustManager)
			channels := new(MockChannelProvider)
			d := newTestDispatcher(trust, channels)

			trust.On("WarmRestart").Return(errors.New("unsealing failed")).Once()
			err := d.Execute(op)
			require.Error(t, err)

			trust.AssertNotCalled(t, "State")
			channels.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything, mock.Anything)
			channels.AssertNotCalled(t, "Listen", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestClientPreconditions(t *testing.T) {
	// Every flag combination except all-true must fail before any dial.
	for i := 0; i < 7; i++ {
		state := interfaces.TrustState{
			KeysInitialized:    i&1 != 0,
			PolicyInitialized:  i&2 != 0,
			AdmissionCertValid: i&4 != 0,
		}
		t.Run(fmt.Sprintf("keys=%v_policy=%v_cert=%v", state.KeysInitialized, state.PolicyInitialized, state.AdmissionCertValid), func(t *testing.T) {
			trust := new(MockTrustManager)
			channels := new(MockChannelProvider)
			d := newTestDispatcher(trust, channels)

			trust.On("WarmRestart").Return(nil)
			trust.On("State").Return(state)

			err := d.Execute(interfaces.OperationRunAsClient)
			if !state.KeysInitialized || !state.PolicyInitialized {
				require.ErrorIs(t, err, interfaces.ErrTrustNotInitialized)
			} else {
				require.ErrorIs(t, err, interfaces.ErrAdmissionCertInvalid)
			}

			trust.AssertNotCalled(t, "Credentials")
			channels.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestServerPrecondition(t *testing.T) {
	trust := new(MockTrustManager)
	channels := new(MockChannelProvider)
	d := newTestDispatcher(trust, channels)

	trust.On("WarmRestart").Return(nil)
	trust.On("State").Return(interfaces.TrustState{KeysInitialized: true, PolicyInitialized: true, AdmissionCertValid: false})

	err := d.Execute(interfaces.OperationRunAsServer)
	require.ErrorIs(t, err, interfaces.ErrAdmissionCertInvalid)

	channels.AssertNotCalled(t, "Listen", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestClientSessionSuccess(t *testing.T) {
	trust := new(MockTrustManager)
	channels := new(MockChannelProvider)
	d := newTestDispatcher(trust, channels)

	creds := interfaces.ChannelCredentials{}
	trust.On("WarmRestart").Return(nil)
	trust.On("State").Return(interfaces.TrustState{KeysInitialized: true, PolicyInitialized: true, AdmissionCertValid: true})
	trust.On("Credentials").Return(creds)

	ch := new(MockSecureChannel)
	ch.On("Write", []byte(testClientMessage)).Return(nil)
	ch.On("Read").Return([]byte(testServerMessage), nil)
	ch.On("Close").Return(nil)
	ch.On("PeerID").Return("server.trustplane.dev")

	channels.On("Dial", "127.0.0.1", 8124, creds).Return(ch, nil).Once()

	require.NoError(t, d.Execute(interfaces.OperationRunAsClient))

	ch.AssertNumberOfCalls(t, "Write", 1)
	ch.AssertNumberOfCalls(t, "Read", 1)
	ch.AssertNumberOfCalls(t, "Close", 1)
}

func TestClientSessionMismatch(t *testing.T) {
	trust := new(MockTrustManager)
	channels := new(MockChannelProvider)
	d := newTestDispatcher(trust, channels)

	trust.On("WarmRestart").Return(nil)
	trust.On("State").Return(interfaces.TrustState{KeysInitialized: true, PolicyInitialized: true, AdmissionCertValid: true})
	trust.On("Credentials").Return(interfaces.ChannelCredentials{})

	ch := new(MockSecureChannel)
	ch.On("Write", mock.Anything).Return(nil)
	ch.On("Read").Return([]byte("wrong message\n"), nil)
	ch.On("Close").Return(nil)
	ch.On("PeerID").Return("server.trustplane.dev")

	channels.On("Dial", mock.Anything, mock.Anything, mock.Anything).Return(ch, nil).Once()

	err := d.Execute(interfaces.OperationRunAsClient)
	require.ErrorContains(t, err, "unexpected response")

	ch.AssertNumberOfCalls(t, "Close", 1)
}

func TestClientSessionReadFailure(t *testing.T) {
	trust := new(MockTrustManager)
	channels := new(MockChannelProvider)
	d := newTestDispatcher(trust, channels)

	ch := new(MockSecureChannel)
	ch.On("Write", mock.Anything).Return(nil)
	ch.On("Read").Return([]byte(nil), io.ErrUnexpectedEOF)
	ch.On("Close").Return(nil)

	err := d.ClientSession(ch)
	require.ErrorContains(t, err, "client session read")

	ch.AssertNumberOfCalls(t, "Close", 1)
}

func TestServerSessionExchange(t *testing.T) {
	trust := new(MockTrustManager)
	channels := new(MockChannelProvider)
	d := newTestDispatcher(trust, channels)

	ch := new(MockSecureChannel)
	ch.On("Read").Return([]byte("whatever the client sent\n"), nil)
	ch.On("Write", []byte(testServerMessage)).Return(nil)
	ch.On("Close").Return(nil)
	ch.On("PeerID").Return("client.trustplane.dev")

	require.NoError(t, d.ServerSession(ch))

	ch.AssertNumberOfCalls(t, "Read", 1)
	ch.AssertNumberOfCalls(t, "Write", 1)
	ch.AssertNumberOfCalls(t, "Close", 1)
}

func TestServerSessionSurfacesReadFailure(t *testing.T) {
	trust := new(MockTrustManager)
	channels := new(MockChannelProvider)
	d := newTestDispatcher(trust, channels)

	ch := new(MockSecureChannel)
	ch.On("Read").Return([]byte(nil), io.ErrUnexpectedEOF)
	ch.On("Close").Return(nil)

	err := d.ServerSession(ch)
	require.ErrorContains(t, err, "server session read")

	ch.AssertNotCalled(t, "Write", mock.Anything)
	ch.AssertNumberOfCalls(t, "Close", 1)
}

func TestRunAsServerListens(t *testing.T) {
	trust := new(MockTrustManager)
	channels := new(MockChannelProvider)
	d := newTestDispatcher(trust, channels)

	creds := interfaces.ChannelCredentials{}
	trust.On("WarmRestart").Return(nil)
	trust.On("State").Return(interfaces.TrustState{AdmissionCertValid: true})
	trust.On("Credentials").Return(creds)

	channels.On("Listen", "127.0.0.1", 8124, creds, mock.Anything).Return(nil).Once()

	require.NoError(t, d.Execute(interfaces.OperationRunAsServer))
	channels.AssertExpectations(t)
}
