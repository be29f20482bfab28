package http

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"finboard/internal/extract"
	"finboard/internal/log"
)

// maxImageUpload is one byte above what the extractor accepts, so oversize
// uploads reach it and fail with ErrInputTooLarge.
const maxImageUpload = 10<<20 + 1

type extractResponse struct {
	Drafts []extract.Draft `json:"drafts"`
}

type emailRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleExtractImage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Extractor == nil {
		ErrorResponse(http.StatusServiceUnavailable, "extraction is not configured").Write(w)
		return
	}
	mimeType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, r, log.OpExtract, badParam("Content-Type", err))
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImageUpload))
	if err != nil {
		writeError(w, r, log.OpExtract, badParam("body", err))
		return
	}

	drafts, err := s.deps.Extractor.FromImage(r.Context(), data, mimeType)
	s.writeDrafts(w, r, drafts, err)
}

// handleExtractEmail accepts a JSON {"text": ...} body or plain text.
func (s *Server) handleExtractEmail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Extractor == nil {
		ErrorResponse(http.StatusServiceUnavailable, "extraction is not configured").Write(w)
		return
	}

	var text string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, r, log.OpExtract, badParam("body", err))
			return
		}
		text = string(data)
	} else {
		var req emailRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, log.OpExtract, err)
			return
		}
		text = req.Text
	}

	drafts, err := s.deps.Extractor.FromEmail(r.Context(), text)
	s.writeDrafts(w, r, drafts, err)
}

// writeDrafts answers with the drafts found. Input without transactions is
// not an error for the caller.
func (s *Server) writeDrafts(w http.ResponseWriter, r *http.Request, drafts []extract.Draft, err error) {
	if errors.Is(err, extract.ErrNoDrafts) {
		drafts, err = []extract.Draft{}, nil
	}
	if err != nil {
		writeError(w, r, log.OpExtract, err)
		return
	}
	log.FromContext(r.Context()).WithComponent(log.ComponentExtract).InfoContext(r.Context(), "Drafts extracted", "count", len(drafts))
	NewJSONResponse().Body(extractResponse{Drafts: drafts}).Write(w)
}
