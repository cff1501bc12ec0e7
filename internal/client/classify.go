package client

import (
	"github.com/agenthands/loom/internal/event"
	"github.com/agenthands/loom/internal/response"
)

// syntheticErrorMessage is the message carried by the value delivered to
// manager_error subscribers when no usable reply exists.
const syntheticErrorMessage = "deep manager error"

// classify routes one transport outcome onto the event bus and produces the
// value the dispatch Pending resolves with.
//
// Failure entry point: no reply, a failed call, or a reply carrying neither
// message type nor message. The outcome is normalized to a synthetic error
// value, manager_error fires with it, postrun does not fire, and the caller
// gets a TransportError.
//
// Completion entry point: discriminate on message type, then on signal for
// successes. error and warning fire their channels; merge, rebuild, and meta
// fire the channel named by the signal. Any vocabulary outside that fires no
// structured channel: it is logged as an operator alert and surfaced as a
// ProtocolMismatchError. Every completion branch ends with exactly one
// postrun.
func (m *Manager) classify(resp *response.Response, err error) (*response.Response, error) {
	if err != nil || resp == nil || resp.Malformed() {
		synth := response.New(response.Envelope{
			MessageType: response.MessageTypeError,
			Message:     syntheticErrorMessage,
		})
		m.bus.Publish(event.ManagerError, synth)
		return nil, &TransportError{Cause: err}
	}

	var mismatch *ProtocolMismatchError

	switch resp.MessageType() {
	case response.MessageTypeError:
		m.bus.Publish(event.Error, resp)
	case response.MessageTypeWarning:
		m.bus.Publish(event.Warning, resp)
	case response.MessageTypeSuccess:
		switch resp.Signal() {
		case response.SignalMerge:
			m.bus.Publish(event.Merge, resp)
		case response.SignalRebuild:
			m.bus.Publish(event.Rebuild, resp)
		case response.SignalMeta:
			m.bus.Publish(event.Meta, resp)
		default:
			mismatch = &ProtocolMismatchError{MessageType: resp.MessageType(), Signal: resp.Signal()}
		}
	default:
		mismatch = &ProtocolMismatchError{MessageType: resp.MessageType(), Signal: resp.Signal()}
	}

	if mismatch != nil {
		m.log.Error().
			Bool("alert", true).
			Str("packet_id", resp.PacketID()).
			Str("message_type", string(mismatch.MessageType)).
			Str("signal", string(mismatch.Signal)).
			Msg("reply outside the known protocol; client and service have likely drifted apart")
	}

	m.bus.Publish(event.Postrun, resp)

	if mismatch != nil {
		return resp, mismatch
	}
	return resp, nil
}
