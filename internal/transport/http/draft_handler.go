package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"lms-attempt-service/internal/app"
	"lms-attempt-service/internal/domain"
)

// maxAttachmentBytes caps a single uploaded attachment.
const maxAttachmentBytes = 32 << 20

// DraftHandler exposes assignment-draft sessions over plain JSON
// endpoints: load, edit, attach, save, submit, detach.
type DraftHandler struct {
	drafts *app.DraftService
}

func NewDraftHandler(drafts *app.DraftService) *DraftHandler {
	return &DraftHandler{drafts: drafts}
}

// Register mounts the draft routes on the mux.
func (h *DraftHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /assignments/{id}", h.getDraft)
	mux.HandleFunc("PUT /assignments/{id}/draft", h.putText)
	mux.HandleFunc("POST /assignments/{id}/attachments", h.addAttachment)
	mux.HandleFunc("DELETE /assignments/{id}/attachments/{name}", h.removeAttachment)
	mux.HandleFunc("POST /assignments/{id}/save", h.saveDraft)
	mux.HandleFunc("POST /assignments/{id}/submit", h.submit)
	mux.HandleFunc("POST /assignments/{id}/close", h.closeSession)
}

type draftView struct {
	AssignmentID string             `json:"assignmentId"`
	TextContent  string             `json:"textContent"`
	Files        []draftFileView    `json:"uploadedFiles"`
	Status       domain.DraftStatus `json:"status"`
}

type draftFileView struct {
	Name      string `json:"name"`
	URL       string `json:"url,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Persisted bool   `json:"persisted"`
}

type textRequest struct {
	Content string `json:"content"`
}

func (h *DraftHandler) getDraft(w http.ResponseWriter, r *http.Request) {
	session, ok := h.openSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.view(session))
}

func (h *DraftHandler) putText(w http.ResponseWriter, r *http.Request) {
	session, ok := h.openSession(w, r)
	if !ok {
		return
	}
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := session.SetText(req.Content); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(session))
}

func (h *DraftHandler) addAttachment(w http.ResponseWriter, r *http.Request) {
	session, ok := h.openSession(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxAttachmentBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAttachmentBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable file")
		return
	}
	if err := session.AddAttachment(header.Filename, data); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(session))
}

func (h *DraftHandler) removeAttachment(w http.ResponseWriter, r *http.Request) {
	session, ok := h.openSession(w, r)
	if !ok {
		return
	}
	if err := session.RemoveAttachment(r.PathValue("name")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(session))
}

func (h *DraftHandler) saveDraft(w http.ResponseWriter, r *http.Request) {
	session, ok := h.openSession(w, r)
	if !ok {
		return
	}
	if err := session.SaveDraft(r.Context()); err != nil {
		// The cache write already preserved the work; report the
		// upstream failure as retryable.
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.view(session))
}

func (h *DraftHandler) submit(w http.ResponseWriter, r *http.Request) {
	session, ok := h.openSession(w, r)
	if !ok {
		return
	}
	if err := session.Submit(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.view(session))
}

func (h *DraftHandler) closeSession(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return
	}
	h.drafts.Close(r.PathValue("id"), userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *DraftHandler) openSession(w http.ResponseWriter, r *http.Request) (*app.DraftSession, bool) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing userId")
		return nil, false
	}
	session, err := h.drafts.Open(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return session, true
}

func (h *DraftHandler) view(session *app.DraftSession) draftView {
	state := session.State()
	files := make([]draftFileView, 0, len(state.Files))
	for _, f := range state.Files {
		files = append(files, draftFileView{
			Name:      f.Name,
			URL:       f.URL,
			Size:      f.Size,
			Persisted: f.Persisted(),
		})
	}
	return draftView{
		AssignmentID: session.AssignmentID,
		TextContent:  state.Text,
		Files:        files,
		Status:       state.Status,
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAssignmentNotFound), errors.Is(err, domain.ErrAttachmentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDraftSubmitted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}
