package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/foyerhq/foyer/internal/gateway"
	"github.com/foyerhq/foyer/internal/otel"
	"github.com/foyerhq/foyer/internal/store"
	"github.com/foyerhq/foyer/internal/upstream"
)

// historyLimit bounds the conversation tail sent upstream per
// generation.
const historyLimit = 20

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	}
	if r.URL.Query().Get("detail") == "true" {
		components := map[string]string{
			"store":   "ok",
			"gateway": "ok",
		}
		if s.provider == nil {
			components["upstream"] = "disabled"
		} else {
			components["upstream"] = s.provider.Name()
		}
		resp["components"] = components
		resp["gateway"] = map[string]int{
			"tracked_identities": s.gw.TrackedIdentities(),
			"cache_entries":      s.gw.CacheLen(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConversationsList(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())

	convs, err := s.gw.Conversations(r.Context(), identity)
	if err != nil {
		log.Error().Err(err).Str("identity", identity).Msg("conversations_list_error")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if convs == nil {
		convs = []gateway.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"count":         len(convs),
	})
}

type conversationCreateRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleConversationCreate(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())

	var req conversationCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}

	conv, err := s.store.CreateConversation(r.Context(), identity, req.Title)
	if err != nil {
		log.Error().Err(err).Str("identity", identity).Msg("conversation_create_error")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.gw.Invalidate(gateway.EntityConversations, identity)

	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleMessagesList(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	conversationID := chi.URLParam(r, "id")
	if !s.authorizeConversation(w, r, conversationID, identity) {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	page := gateway.Page{Limit: limit, Offset: offset}.Normalize()

	msgs, err := s.gw.Messages(r.Context(), identity, conversationID, page)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("messages_list_error")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if msgs == nil {
		msgs = []gateway.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

func (s *Server) handleMessageCount(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	conversationID := chi.URLParam(r, "id")
	if !s.authorizeConversation(w, r, conversationID, identity) {
		return
	}

	count, err := s.gw.MessageCount(r.Context(), identity, conversationID)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("message_count_error")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": conversationID,
		"count":           count,
	})
}

type messageCreateRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleMessageCreate(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())
	conversationID := chi.URLParam(r, "id")
	if !s.authorizeConversation(w, r, conversationID, identity) {
		return
	}

	var req messageCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}
	if s.provider == nil {
		writeError(w, http.StatusServiceUnavailable, "upstream_disabled", "no upstream provider is configured")
		return
	}

	if _, err := s.store.AppendMessage(r.Context(), conversationID, gateway.RoleUser, req.Content); err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("message_append_error")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	// The user turn is already persisted, so cached pages are stale even
	// if generation fails below.
	s.gw.Invalidate(gateway.EntityMessages, conversationID)
	s.gw.Invalidate(gateway.EntityConversations, identity)

	history, err := s.store.RecentMessages(r.Context(), conversationID, historyLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	messages := make([]upstream.Message, len(history))
	for i, m := range history {
		messages[i] = upstream.Message{Role: m.Role, Content: m.Content}
	}

	reply, err := s.provider.Generate(r.Context(), &upstream.Request{
		Model:     s.cfg.Upstream.Model,
		Messages:  messages,
		MaxTokens: s.cfg.Upstream.MaxTokens,
	})
	if err != nil {
		log.Error().Err(err).
			Str("identity", identity).
			Str("conversation_id", conversationID).
			Func(otel.LogTraceFields(r.Context())).
			Msg("generation_failed")
		writeError(w, http.StatusBadGateway, "upstream_error", "generation failed, try again later")
		return
	}

	assistant, err := s.store.AppendMessage(r.Context(), conversationID, gateway.RoleAssistant, reply.Content)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", conversationID).Msg("message_append_error")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.gw.Invalidate(gateway.EntityMessages, conversationID)
	s.gw.Invalidate(gateway.EntityConversations, identity)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": assistant,
		"model":   reply.Model,
		"usage": map[string]int{
			"input_tokens":  reply.InputTokens,
			"output_tokens": reply.OutputTokens,
		},
	})
}

func (s *Server) handleLimits(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFromContext(r.Context())

	st := s.gw.Status(identity)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"identity":                identity,
		"identity_tokens":         st.IdentityTokens,
		"identity_refill_per_sec": st.IdentityRefillRate,
		"global_tokens":           st.GlobalTokens,
		"global_refill_per_sec":   st.GlobalRefillRate,
	})
}

// authorizeConversation writes a 404 unless conversationID exists and
// belongs to identity. Missing and foreign conversations are
// indistinguishable to the caller.
func (s *Server) authorizeConversation(w http.ResponseWriter, r *http.Request, conversationID, identity string) bool {
	conv, err := s.store.Conversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		} else {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return false
	}
	if conv.Identity != identity {
		writeError(w, http.StatusNotFound, "not_found", "conversation not found")
		return false
	}
	return true
}
