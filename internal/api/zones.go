package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-audio-core/internal/command"
	"github.com/nerrad567/gray-audio-core/internal/reconcile"
	"github.com/nerrad567/gray-audio-core/internal/topology"
)

// handleListZones returns all zones ordered by index.
//
// GET /zones
// Response: {"zones": [...], "count": N}
func (s *Server) handleListZones(w http.ResponseWriter, _ *http.Request) {
	all := s.store.AllZones()

	zones := make([]*topology.Zone, 0, len(all))
	for _, zone := range all {
		zones = append(zones, zone)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].Index < zones[j].Index })

	writeJSON(w, http.StatusOK, map[string]any{"zones": zones, "count": len(zones)})
}

// handleGetZone returns a single zone by index.
//
// GET /zones/{index}
func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}

	zone, err := s.store.GetZone(index)
	if err != nil {
		if errors.Is(err, topology.ErrZoneNotFound) {
			writeNotFound(w, "zone not found")
			return
		}
		s.logger.Error("failed to get zone", "error", err, "index", index)
		writeInternalError(w, "failed to get zone")
		return
	}

	writeJSON(w, http.StatusOK, zone)
}

// handleZoneCommand dispatches a command against a zone.
//
// POST /zones/{index}/commands/{operation}
// Body: operation payload JSON, e.g. {"volume": 55}
// Response: {"result": ..., "correlation_id": "..."}
func (s *Server) handleZoneCommand(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, command.TargetZone)
}

// handleCommand is the shared command dispatch path for both kinds.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, kind command.TargetKind) {
	operation := chi.URLParam(r, "operation")
	if operation == "" {
		writeBadRequest(w, "operation is required")
		return
	}
	s.dispatchOperation(w, r, kind, operation, nil)
}

// zoneOp returns a handler that dispatches a fixed zone operation,
// backing the named PUT routes.
func (s *Server) zoneOp(operation string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.dispatchOperation(w, r, command.TargetZone, operation, nil)
	}
}

// clientOp returns a handler that dispatches a fixed client operation.
func (s *Server) clientOp(operation string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.dispatchOperation(w, r, command.TargetClient, operation, nil)
	}
}

// handleAssignClient moves a client into the target zone.
//
// POST /zones/{index}/clients/{client}
func (s *Server) handleAssignClient(w http.ResponseWriter, r *http.Request) {
	clientIndex, err := strconv.Atoi(chi.URLParam(r, "client"))
	if err != nil || clientIndex < 1 {
		writeBadRequest(w, "client must be a positive integer")
		return
	}
	s.dispatchOperation(w, r, command.TargetZone, command.OpAssignClient,
		map[string]any{"client": clientIndex})
}

// handleZoneSync runs a single-zone grouping synchronization.
//
// POST /zones/{index}/sync
func (s *Server) handleZoneSync(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeUnavailable(w, "grouping reconciler not configured")
		return
	}

	index, ok := parseIndex(w, r)
	if !ok {
		return
	}
	if _, err := s.store.GetZone(index); err != nil {
		writeNotFound(w, "zone not found")
		return
	}

	repair, err := s.reconciler.SynchronizeZone(r.Context(), index)
	if err != nil {
		if errors.Is(err, reconcile.ErrSnapshotUnavailable) {
			writeUnavailable(w, "audio server snapshot unavailable")
			return
		}
		s.logger.Error("zone sync failed", "error", err, "zone", index)
		writeInternalError(w, "zone sync failed")
		return
	}

	writeJSON(w, http.StatusOK, repair)
}

// dispatchOperation builds a command from the request and dispatches it.
// URL parameters override body fields via the extra map.
func (s *Server) dispatchOperation(w http.ResponseWriter, r *http.Request, kind command.TargetKind, operation string, extra map[string]any) {
	index, ok := parseIndex(w, r)
	if !ok {
		return
	}

	payload, ok := decodePayload(w, r)
	if !ok {
		return
	}
	for k, v := range extra {
		payload[k] = v
	}

	cmd := command.New(kind, index, operation, payload, command.SourceAPI)
	result := s.dispatcher.Dispatch(r.Context(), cmd)

	if !result.OK {
		writeCommandFailure(w, result)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"result":         result.Value,
		"correlation_id": cmd.CorrelationID,
	})
}

// parseIndex reads the {index} URL parameter. Writes a 400 and returns
// false when it is not a positive integer.
func parseIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil || index < 1 {
		writeBadRequest(w, "index must be a positive integer")
		return 0, false
	}
	return index, true
}

// decodePayload reads the request body as a JSON object. An empty body
// yields an empty payload; malformed JSON writes a 400.
func decodePayload(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	payload := map[string]any{}

	err := json.NewDecoder(r.Body).Decode(&payload)
	if err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return nil, false
	}

	return payload, true
}

// writeCommandFailure maps a command failure kind to an HTTP status.
func writeCommandFailure(w http.ResponseWriter, result command.Result) {
	switch result.Kind {
	case command.FailureValidation:
		writeBadRequest(w, result.Message)
	case command.FailureTransient:
		writeError(w, http.StatusBadGateway, ErrCodeUnavailable, result.Message)
	case command.FailureCancelled:
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, result.Message)
	default:
		writeInternalError(w, result.Message)
	}
}
