package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/cdmtriage/internal/core"
	"github.com/JonMunkholm/cdmtriage/internal/logging"
)

// multipartMemory is how much of an upload is buffered in memory before
// net/http spools the rest to a temporary file.
const multipartMemory = 8 << 20

// formFile parses the multipart body and returns its "file" field. It writes
// the error response itself and returns ok=false on failure.
func (s *Server) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondError(w, r, fmt.Errorf("%w: limit %d bytes", errFileTooBig, maxSize))
			return nil, nil, false
		}
		respondBadRequest(w, "invalid multipart form")
		return nil, nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errNoFile)
		return nil, nil, false
	}
	return file, header, true
}

// handleImport accepts a multipart "file" field and starts an asynchronous
// import. The body is spooled by net/http; the ingester then streams it in
// chunks, so memory stays bounded by the batch size.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	file, header, ok := s.formFile(w, r)
	if !ok {
		return
	}

	// The import goroutine owns file from here and closes it.
	importID, err := s.service.StartImport(WithRequestMetadata(r.Context(), r), header.Filename, file, header.Size)
	if err != nil {
		file.Close()
		s.respondError(w, r, err)
		return
	}

	logging.WithFields(r.Context(), "import_id", importID, "file", header.Filename).
		Info("import accepted", "bytes", header.Size)
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"importId": importID})
}

// handleImportPreview parses an upload without writing it and reports new,
// updated, duplicate, and rejected rows.
func (s *Server) handleImportPreview(w http.ResponseWriter, r *http.Request) {
	file, header, ok := s.formFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	res, err := s.service.PreviewImport(r.Context(), file, header.Size)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// handleImportProgress streams progress as Server-Sent Events. The event id
// is the percentage, so a client reconnecting with Last-Event-ID (or
// ?lastEventId=) skips updates it already has.
func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	lastID := -1
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		lastID, _ = strconv.Atoi(v)
	} else if v := r.URL.Query().Get("lastEventId"); v != "" {
		lastID, _ = strconv.Atoi(v)
	}

	progressCh, err := s.service.SubscribeProgress(importID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondErrorJSON(w, core.MapError(errors.New("streaming unsupported")), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}

			// Terminal snapshots repeat the last percentage but carry the outcome.
			terminal := progress.Phase == core.PhaseComplete ||
				progress.Phase == core.PhaseFailed ||
				progress.Phase == core.PhaseCancelled
			if progress.Percent <= lastID && !terminal {
				continue
			}
			lastID = progress.Percent

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.Percent, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleImportStatus returns the current progress snapshot without streaming.
func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	progress, err := s.service.GetImportProgress(chi.URLParam(r, "importID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, progress)
}

// ImportFailure is the body of GET /api/import/{id}/result for an import
// that ended in error. Batches written before the failure remain stored.
type ImportFailure struct {
	ImportID string        `json:"importId"`
	Failure  ErrorResponse `json:"failure"`
}

// handleImportResult waits for the import to finish, bounded by the request
// timeout, and returns its result.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")
	res, err := s.service.GetImportResult(r.Context(), importID)
	switch {
	case err == nil:
		writeJSON(w, res)
	case errors.Is(err, core.ErrImportNotFound) || r.Context().Err() != nil:
		s.respondError(w, r, err)
	default:
		msg := core.MapImportError(err)
		writeJSON(w, ImportFailure{
			ImportID: importID,
			Failure:  ErrorResponse{Error: msg.Message, Message: msg.Message, Action: msg.Action, Code: msg.Code},
		})
	}
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelImport(chi.URLParam(r, "importID")); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, map[string]string{"status": "cancelled"})
}
