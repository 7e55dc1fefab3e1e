package service

import (
	"encoding/json"
	"fmt"

	"github.com/orchestra-mcp/relay/src/hub"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
)

// Service provides the server-side API over the hub.
type Service struct {
	hub      *hub.Hub
	systemID string
	logger   zerolog.Logger
}

// New creates a new relay service backed by the given hub. Envelopes
// published through the service carry systemID as their client_id.
func New(h *hub.Hub, systemID string, logger zerolog.Logger) *Service {
	return &Service{hub: h, systemID: systemID, logger: logger.With().Str("component", "service").Logger()}
}

// Publish sends a server-originated object to every connected session.
func (s *Service) Publish(data map[string]any) error {
	if data == nil {
		return fmt.Errorf("publish: %w", types.ErrMalformedEnvelope)
	}
	envelope := make(map[string]any, len(data)+1)
	for k, v := range data {
		envelope[k] = v
	}
	envelope["client_id"] = s.systemID

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	s.hub.Publish(payload)
	s.logger.Debug().Int("bytes", len(payload)).Msg("published")
	return nil
}

// GetConnectedClients returns all registered sessions.
func (s *Service) GetConnectedClients() []types.ClientInfo {
	return s.hub.Clients()
}

// GetClientInfo returns info for a registered session, or error.
func (s *Service) GetClientInfo(id uint64) (*types.ClientInfo, error) {
	info := s.hub.ClientInfo(id)
	if info == nil {
		return nil, fmt.Errorf("session %d: %w", id, types.ErrUnknownSender)
	}
	return info, nil
}

// Stats returns hub statistics.
func (s *Service) Stats() types.Stats {
	return s.hub.Stats()
}
