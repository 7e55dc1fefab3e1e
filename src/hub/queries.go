package hub

import (
	"sort"

	"github.com/orchestra-mcp/relay/src/types"
)

// exec runs fn inside the Run loop and waits for it to finish.
// It reports false if the hub stopped first; callers must then ignore
// anything fn writes.
func (h *Hub) exec(fn func()) bool {
	finished := make(chan struct{})
	if !h.post(queryMsg{fn: func() { fn(); close(finished) }}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-h.done:
		return false
	}
}

// ClientCount returns the number of registered sessions.
func (h *Hub) ClientCount() int {
	var n int
	if !h.exec(func() { n = len(h.sessions) }) {
		return 0
	}
	return n
}

// Clients returns a snapshot of registered sessions ordered by id.
func (h *Hub) Clients() []types.ClientInfo {
	var infos []types.ClientInfo
	ok := h.exec(func() {
		infos = make([]types.ClientInfo, 0, len(h.sessions))
		for id, e := range h.sessions {
			infos = append(infos, h.info(id, e))
		}
	})
	if !ok {
		return nil
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// ClientInfo returns info for a registered session, or nil.
func (h *Hub) ClientInfo(id uint64) *types.ClientInfo {
	var info *types.ClientInfo
	ok := h.exec(func() {
		if e, found := h.sessions[id]; found {
			i := h.info(id, e)
			info = &i
		}
	})
	if !ok {
		return nil
	}
	return info
}

// Stats returns a point-in-time view of the hub.
func (h *Hub) Stats() types.Stats {
	var s types.Stats
	if !h.exec(func() {
		s = types.Stats{
			Sessions: len(h.sessions),
			LastID:   h.nextID,
			Bridged:  h.bridge != nil && h.bridge.Available(),
		}
	}) {
		return types.Stats{}
	}
	return s
}

func (h *Hub) info(id uint64, e *entry) types.ClientInfo {
	return types.ClientInfo{
		ID:          id,
		ClientID:    e.clientID,
		ConnectedAt: e.connectedAt.UTC(),
	}
}
