package httpserver

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"sipuha/voicecheck/internal/audit"
	"sipuha/voicecheck/internal/inference"
)

// multipartSlack covers part headers and boundaries around the file itself.
const multipartSlack = 64 << 10

var errNoFilePart = errors.New("no file part")

func registerMediaHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/media", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		identity, ok := requireIdentity(w, r, deps)
		if !ok {
			return
		}
		if deps.Media == nil {
			writeError(w, http.StatusServiceUnavailable, "classifier unavailable")
			return
		}
		if deps.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes+multipartSlack)
		}

		payload, err := mediaPayload(r)
		if err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				status, message, outcome := mediaFailure(err)
				auditEvent(deps, r, audit.Event{Actor: identity.Username, Action: audit.ActionClassify, Outcome: outcome, Detail: message})
				writeMediaError(w, status, message)
				return
			}
			writeMediaError(w, http.StatusBadRequest, "expected a file upload")
			return
		}

		verdict, err := deps.Media.Submit(r.Context(), payload, identity)
		if err != nil {
			status, message, outcome := mediaFailure(err)
			auditEvent(deps, r, audit.Event{Actor: identity.Username, Action: audit.ActionClassify, Outcome: outcome, Detail: message})
			writeMediaError(w, status, message)
			return
		}
		auditEvent(deps, r, audit.Event{Actor: identity.Username, Action: audit.ActionClassify, Target: verdict.String(), Outcome: audit.OutcomeSuccess})
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "success",
			"result":  verdict.String(),
			"message": "file processed",
		})
	})
}

// mediaPayload returns the "file" part of a multipart body, or the raw body
// for any other content type.
func mediaPayload(r *http.Request) (io.Reader, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, nil
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errNoFilePart
			}
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		if _, err := io.Copy(io.Discard, part); err != nil {
			return nil, err
		}
	}
}

func mediaFailure(err error) (status int, message, outcome string) {
	if errors.Is(err, inference.ErrTimeout) {
		return http.StatusRequestTimeout, "classification timed out", audit.OutcomeTimeout
	}
	var maxBytes *http.MaxBytesError
	if errors.Is(err, inference.ErrPayloadTooLarge) || errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge, "file is too large", audit.OutcomeDenied
	}
	if errors.Is(err, inference.ErrPoolClosed) {
		return http.StatusServiceUnavailable, "service is shutting down", audit.OutcomeFailed
	}
	var failure *inference.Failure
	if errors.As(err, &failure) {
		return http.StatusInternalServerError, failure.Message, audit.OutcomeFailed
	}
	return http.StatusInternalServerError, "classification failed", audit.OutcomeFailed
}

func writeMediaError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}
