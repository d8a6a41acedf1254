package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/SalonBot/internal/models"
)

// healthStatus is returned by GET /healthz.
type healthStatus struct {
	Uptime  string `json:"uptime"`
	Pending *int   `json:"pending,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	h := healthStatus{Uptime: time.Since(s.startedAt).Round(time.Second).String()}
	if s.pending != nil {
		n := s.pending()
		h.Pending = &n
	}
	writeJSONResponse(w, http.StatusOK, models.Success(h))
}

// listClientsHandler handles GET /clients
func (s *Server) listClientsHandler(w http.ResponseWriter, r *http.Request) {
	clients, err := s.st.ListClients(r.Context())
	if err != nil {
		slog.Error("Server.listClientsHandler: failed to list clients", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list clients")
		return
	}
	if clients == nil {
		clients = []models.ClientRecord{}
	}
	slog.Debug("Server.listClientsHandler: clients listed", "count", len(clients))
	writeJSONResponse(w, http.StatusOK, models.Success(clients))
}

// getClientHandler handles GET /clients/{contactID}
func (s *Server) getClientHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := contactParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid contact id")
		return
	}
	rec, err := s.st.GetClient(r.Context(), id)
	if err != nil {
		slog.Error("Server.getClientHandler: failed to get client", "error", err, "contactID", id)
		writeError(w, http.StatusInternalServerError, "Failed to get client")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Client not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

// listConversationsHandler handles GET /conversations
func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := s.st.ListConversations(r.Context())
	if err != nil {
		slog.Error("Server.listConversationsHandler: failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list conversations")
		return
	}
	if entries == nil {
		entries = []models.ConversationEntry{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}

// getConversationHandler handles GET /conversations/{contactID}. A state that cannot be
// decoded is reported as 409 so the operator knows to reset it.
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := contactParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid contact id")
		return
	}
	state, err := s.st.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrMalformedState) {
			slog.Warn("Server.getConversationHandler: malformed state", "error", err, "contactID", id)
			writeError(w, http.StatusConflict, "Conversation state is malformed")
			return
		}
		slog.Error("Server.getConversationHandler: failed to get conversation", "error", err, "contactID", id)
		writeError(w, http.StatusInternalServerError, "Failed to get conversation")
		return
	}
	if state == nil {
		writeError(w, http.StatusNotFound, "No active conversation")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.ConversationEntry{ContactID: id, State: *state}))
}

// deleteConversationHandler handles DELETE /conversations/{contactID}. The contact's next
// message goes through the activation gate again.
func (s *Server) deleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := contactParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid contact id")
		return
	}
	if err := s.st.DeleteConversation(r.Context(), id); err != nil {
		slog.Error("Server.deleteConversationHandler: failed to delete conversation", "error", err, "contactID", id)
		writeError(w, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}
	slog.Info("Server.deleteConversationHandler: conversation reset", "contactID", id)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"contact_id": id}))
}

// deleteActivationHandler handles DELETE /activations/{contactID}, clearing the cooldown.
func (s *Server) deleteActivationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := contactParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid contact id")
		return
	}
	if err := s.st.DeleteActivation(r.Context(), id); err != nil {
		slog.Error("Server.deleteActivationHandler: failed to delete activation", "error", err, "contactID", id)
		writeError(w, http.StatusInternalServerError, "Failed to delete activation")
		return
	}
	slog.Info("Server.deleteActivationHandler: cooldown cleared", "contactID", id)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"contact_id": id}))
}
