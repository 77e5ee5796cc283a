package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/formflow/internal/session"
)

func handleStartSession(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req session.StartRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		state, err := svc.Start(r.Context(), req)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, state)
	}
}

func handleGetSession(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := svc.State(r.Context(), chi.URLParam(r, "sessionId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, state)
	}
}

func handleResetSession(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Reset(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleSubmitStep accepts either the full submit envelope or, for
// convenience, a body holding only formData.
func handleSubmitStep(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req session.SubmitRequest
		if err := decodeJSON(r, &req); err != nil {
			WriteError(w, err)
			return
		}
		sessionID := chi.URLParam(r, "sessionId")
		if req.SessionID != "" && req.SessionID != sessionID {
			WriteBadRequest(w, "sessionId in body does not match the path")
			return
		}
		stepID := chi.URLParam(r, "stepId")
		if req.StepID != "" && req.StepID != stepID {
			WriteBadRequest(w, "stepId in body does not match the path")
			return
		}
		req.SessionID = sessionID
		req.StepID = stepID
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")

		resp, err := svc.Submit(r.Context(), req)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func handleNavigate(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := svc.Navigate(r.Context(), chi.URLParam(r, "sessionId"), chi.URLParam(r, "formId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, state)
	}
}

func handlePrefill(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values, err := svc.Prefill(r.Context(), chi.URLParam(r, "sessionId"), chi.URLParam(r, "formId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"values": values})
	}
}

func handleProgress(svc *session.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := svc.Progress(r.Context(), chi.URLParam(r, "sessionId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, p)
	}
}
