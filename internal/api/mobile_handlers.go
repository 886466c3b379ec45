package api

import (
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/aegishub/aegishub-go/internal/dispatch"
	"github.com/aegishub/aegishub-go/internal/mobile"
	"github.com/aegishub/aegishub-go/internal/models"
	"github.com/aegishub/aegishub-go/internal/store"
)

// MobileHandlers serves the field-app ingestion surface.
type MobileHandlers struct {
	store    *store.Store
	pipeline *mobile.Pipeline
	worker   *dispatch.Worker
}

// NewMobileHandlers creates mobile handlers.
func NewMobileHandlers(s *store.Store, p *mobile.Pipeline, w *dispatch.Worker) *MobileHandlers {
	return &MobileHandlers{store: s, pipeline: p, worker: w}
}

type ingestRequest struct {
	SubmissionKey string  `json:"submission_key"`
	Text          string  `json:"text"`
	AudioB64      string  `json:"audio_b64,omitempty"`
	AudioMIME     string  `json:"audio_mime,omitempty"`
	HasImage      bool    `json:"has_image,omitempty"`
	HasVideo      bool    `json:"has_video,omitempty"`
	SOS           bool    `json:"sos,omitempty"`
	DeviceID      string  `json:"device_id"`
	Latitude      float64 `json:"latitude,omitempty"`
	Longitude     float64 `json:"longitude,omitempty"`
}

func (req ingestRequest) submission(clientIP string) (mobile.Submission, error) {
	sub := mobile.Submission{
		SubmissionKey: req.SubmissionKey,
		Text:          req.Text,
		AudioMIME:     req.AudioMIME,
		HasImage:      req.HasImage,
		HasVideo:      req.HasVideo,
		SOS:           req.SOS,
		DeviceID:      req.DeviceID,
		ClientIP:      clientIP,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
	}
	if req.AudioB64 != "" {
		audio, err := base64.StdEncoding.DecodeString(req.AudioB64)
		if err != nil {
			return sub, err
		}
		sub.Audio = audio
	}
	return sub, nil
}

// HandleIngest runs a raw submission through the full pipeline.
func (h *MobileHandlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "Invalid request body")
		return
	}
	h.ingest(w, r, req)
}

// HandleChat accepts a plain chat message as a text submission.
func (h *MobileHandlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		SubmissionKey string  `json:"submission_key"`
		Message       string  `json:"message"`
		DeviceID      string  `json:"device_id"`
		Latitude      float64 `json:"latitude,omitempty"`
		Longitude     float64 `json:"longitude,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "Invalid request body")
		return
	}
	h.ingest(w, r, ingestRequest{
		SubmissionKey: req.SubmissionKey,
		Text:          req.Message,
		DeviceID:      req.DeviceID,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
	})
}

// HandleVoice accepts a recorded clip as a voice submission.
func (h *MobileHandlers) HandleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "Invalid request body")
		return
	}
	if req.AudioB64 == "" {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "audio_b64 is required")
		return
	}
	h.ingest(w, r, req)
}

func (h *MobileHandlers) ingest(w http.ResponseWriter, r *http.Request, req ingestRequest) {
	sub, err := req.submission(clientIP(r))
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "audio_b64 is not valid base64")
		return
	}
	result, err := h.pipeline.Ingest(r.Context(), sub)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// HandleListTickets lists processed tickets, newest first.
func (h *MobileHandlers) HandleListTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tickets, err := h.store.ListTickets(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	if tickets == nil {
		tickets = []*models.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

// HandleGetTicket returns one ticket with its delivery history.
func (h *MobileHandlers) HandleGetTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := pathID(r.URL.Path, "/api/mobile/tickets/")
	if id == "" {
		writeErrorResponse(w, http.StatusBadRequest, "validation", "ticket id is required")
		return
	}
	ticket, err := h.store.GetTicket(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// HandleIncidents lists incidents that originated from mobile submissions.
func (h *MobileHandlers) HandleIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	incidents, err := h.store.ListIncidents(r.Context(), "", queryInt(r, "limit", 200))
	if err != nil {
		writeError(w, err)
		return
	}
	fromMobile := []*models.Incident{}
	for _, inc := range incidents {
		if strings.HasPrefix(inc.ReporterID, "mobile:") {
			fromMobile = append(fromMobile, inc)
		}
	}
	writeJSON(w, http.StatusOK, fromMobile)
}

// HandleRetryPending requeues terminally failed dispatch jobs.
func (h *MobileHandlers) HandleRetryPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := h.worker.RetryPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

// clientIP extracts the caller address, preferring the proxy header.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
