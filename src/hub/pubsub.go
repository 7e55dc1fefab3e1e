package hub

import (
	"encoding/json"
	"errors"

	"github.com/orchestra-mcp/relay/src/metrics"
	"github.com/orchestra-mcp/relay/src/types"
)

func (h *Hub) handleMessage(msg broadcastMsg) {
	e, ok := h.sessions[msg.id]
	if !ok {
		h.metrics.DropRequest(metrics.ReasonUnknownSender)
		h.logger.Debug().Err(types.ErrUnknownSender).Uint64("session_id", msg.id).Msg("dropping message")
		return
	}

	payload, err := enrich(msg.raw, e.clientID)
	if err != nil {
		h.metrics.DropRequest(metrics.ReasonMalformed)
		h.logger.Debug().Err(err).Uint64("session_id", msg.id).Str("client_id", e.clientID).Msg("dropping message")
		return
	}
	h.fanOut(payload, msg.id, true)
}

// enrich parses raw as a JSON object and stamps it with the sender's identity,
// replacing any client_id the sender supplied.
func enrich(raw, clientID string) ([]byte, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, errors.Join(types.ErrMalformedEnvelope, err)
	}
	// "null" decodes into a nil map without error.
	if obj == nil {
		return nil, types.ErrMalformedEnvelope
	}
	id, err := json.Marshal(clientID)
	if err != nil {
		return nil, err
	}
	obj["client_id"] = id
	return json.Marshal(obj)
}

func (h *Hub) presence(kind, clientID string) []byte {
	// Marshalling a struct of strings and an int cannot fail.
	payload, _ := json.Marshal(types.Event{
		Type:     kind,
		ClientID: clientID,
		Time:     h.clock.Now().Unix(),
	})
	return payload
}

// fanOut hands payload to every session except skipID. Delivery failures are
// logged and never stop the iteration.
func (h *Hub) fanOut(payload []byte, skipID uint64, publish bool) {
	if publish {
		h.publishToBridge(payload)
	}

	delivered, dropped := 0, 0
	for id, e := range h.sessions {
		if id == skipID {
			continue
		}
		if err := e.handle.Deliver(payload); err != nil {
			dropped++
			h.logger.Warn().Err(err).Uint64("session_id", id).Msg("delivery dropped")
			continue
		}
		delivered++
	}
	h.metrics.ObserveBroadcast(delivered, dropped)
}

// publishToBridge forwards an envelope to the bridge if one is attached.
func (h *Hub) publishToBridge(payload []byte) {
	if h.bridge == nil || !h.bridge.Available() {
		return
	}
	if err := h.bridge.Publish(payload); err != nil {
		h.logger.Error().Err(err).Msg("bridge publish failed")
	}
}

// Publish sends a server-originated envelope to every session.
func (h *Hub) Publish(payload []byte) {
	h.post(publishMsg{payload: payload})
}
