package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/formflow/internal/persistence"
	"github.com/pitabwire/formflow/model"
)

func handleListSubmissions(coord *persistence.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := model.SubmissionFilter{
			SessionID:        q.Get("sessionId"),
			SalesOrderNumber: q.Get("salesOrderNumber"),
			ItemNumber:       q.Get("itemNumber"),
		}
		subs, err := coord.Store().Find(r.Context(), filter)
		if err != nil {
			WriteError(w, err)
			return
		}
		if subs == nil {
			subs = []model.FormSubmission{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": subs, "count": len(subs)})
	}
}

func handleGetSubmission(coord *persistence.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := coord.Store().Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, sub)
	}
}

// handleDeleteSubmission is the explicit rollback of a persisted submission:
// the database record and its mirror entry are removed.
func handleDeleteSubmission(coord *persistence.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := coord.Delete(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"deleted": true, "submission": sub})
	}
}
