package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/nerrad567/gray-audio-core/internal/command"
	"github.com/nerrad567/gray-audio-core/internal/topology"
)

// handleListClients returns all clients ordered by index, each with the
// zone it is assigned to (0 = unassigned).
//
// GET /clients
// Response: {"clients": [...], "count": N}
func (s *Server) handleListClients(w http.ResponseWriter, _ *http.Request) {
	all := s.store.AllClients()

	type clientWithZone struct {
		*topology.Client
		Zone int `json:"zone"`
	}

	clients := make([]clientWithZone, 0, len(all))
	for index, client := range all {
		clients = append(clients, clientWithZone{
			Client: client,
			Zone:   s.store.ZoneOfClient(index),
		})
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].Index < clients[j].Index })

	writeJSON(w, http.StatusOK, map[string]any{"clients": clients, "count": len(clients)})
}

// handleGetClient returns a single client by index.
//
// GET /clients/{index}
func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}

	client, err := s.store.GetClient(index)
	if err != nil {
		if errors.Is(err, topology.ErrClientNotFound) {
			writeNotFound(w, "client not found")
			return
		}
		s.logger.Error("failed to get client", "error", err, "index", index)
		writeInternalError(w, "failed to get client")
		return
	}

	writeJSON(w, http.StatusOK, client)
}

// handleClientCommand dispatches a command against a client.
//
// POST /clients/{index}/commands/{operation}
// Body: operation payload JSON, e.g. {"muted": true}
func (s *Server) handleClientCommand(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, command.TargetClient)
}
