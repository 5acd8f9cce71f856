// Package api exposes the service facade over JSON-over-HTTP plus an SSE
// event stream, the control surface a GUI shell or the pairctl CLI talks
// to.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/meshdrop/transfer/internal/config"
	"github.com/meshdrop/transfer/internal/model"
	"github.com/meshdrop/transfer/internal/service"
	"github.com/meshdrop/transfer/internal/session"
)

// Server wires the facade to HTTP routes.
type Server struct {
	svc *service.Service
}

// NewServer constructs an api.Server over the given facade.
func NewServer(svc *service.Service) *Server {
	return &Server{svc: svc}
}

// RegisterRoutes registers every route on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/settings", s.handleSettings)
	mux.HandleFunc("/api/v1/pairing/generate", s.handleGeneratePairingCode)
	mux.HandleFunc("/api/v1/peers", s.handleListPeers)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.HandleFunc("/api/v1/history/clear", s.handleClearHistory)
	mux.HandleFunc("/api/v1/transfer/send", s.handleSendFiles)
	mux.HandleFunc("/api/v1/transfer/retry", s.handleRetrySession)
	mux.HandleFunc("/api/v1/transfer/", s.handleTransferControl)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.svc.GetSettings())
	case http.MethodPatch, http.MethodPost:
		var patch config.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_argument", "invalid JSON body")
			return
		}
		updated, err := s.svc.UpdateSettings(patch)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGeneratePairingCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	code, err := s.svc.GeneratePairingCode()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, code)
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := s.svc.ListPeers()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, peers)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cursor, _ := strconv.ParseInt(q.Get("cursor"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	page, err := s.svc.ListHistory(cursor, limit, model.SessionStatus(q.Get("status")), q.Get("peer_device_id"))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		All           bool `json:"all"`
		OlderThanDays int  `json:"older_than_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_argument", "invalid JSON body")
		return
	}
	n, err := s.svc.ClearHistory(req.All, req.OlderThanDays)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Deleted int64 `json:"deleted"`
	}{Deleted: n})
}

func (s *Server) handleSendFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		PeerDeviceID string `json:"peer_device_id"`
		PairCode     string `json:"pair_code"`
		Files        []struct {
			Path           string `json:"path"`
			RelativePath   string `json:"relative_path"`
			CompressFolder bool   `json:"compress_folder"`
		} `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_argument", "invalid JSON body")
		return
	}
	req := service.SendFilesRequest{PeerDeviceID: body.PeerDeviceID, PairCode: body.PairCode}
	for _, f := range body.Files {
		req.Files = append(req.Files, service.SendFileSpec{Path: f.Path, RelativePath: f.RelativePath, CompressFolder: f.CompressFolder})
	}
	sess, err := s.svc.SendFiles(req)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "transfer_send_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRetrySession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_argument", "invalid JSON body")
		return
	}
	sess, err := s.svc.RetrySession(req.SessionID)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "transfer_retry_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleTransferControl handles /api/v1/transfer/{session_id}/{pause,resume,cancel}.
func (s *Server) handleTransferControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/transfer/"), "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	sessionID, action := parts[0], parts[1]

	var ok bool
	switch action {
	case "pause":
		ok = s.svc.Pause(sessionID)
	case "resume":
		ok = s.svc.Resume(sessionID)
	case "cancel":
		ok = s.svc.Cancel(sessionID)
	default:
		http.NotFound(w, r)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "transfer_session_not_found", "no active session with that id")
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: true})
}

// handleEvents streams progress-snapshot/history-sync events as
// server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.svc.Subscribe()
	defer sub.Unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Channel:
			if !ok {
				return
			}
			payload, err := json.Marshal(struct {
				SessionID string            `json:"session_id,omitempty"`
				Snapshot  *session.Snapshot `json:"snapshot,omitempty"`
			}{SessionID: ev.SessionID, Snapshot: ev.Snapshot})
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: "))
			_, _ = w.Write([]byte(ev.Type.String()))
			_, _ = w.Write([]byte("\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Code: code, Message: msg})
}
