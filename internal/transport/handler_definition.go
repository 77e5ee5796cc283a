package transport

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/formflow/internal/definition"
)

func handleGetManifest(registry *definition.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notModified(w, r, registry.Checksum()) {
			return
		}
		WriteJSON(w, http.StatusOK, registry.Manifest())
	}
}

// handleGetTemplate serves a template with its manifest md5 as ETag so that
// clients can revalidate cached copies.
func handleGetTemplate(registry *definition.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID := chi.URLParam(r, "formId")
		tmpl, ok := registry.GetTemplate(formID)
		if !ok {
			WriteNotFound(w, fmt.Sprintf("template %q not found", formID))
			return
		}

		etag := tmpl.Checksum
		if entry, ok := registry.ManifestEntry(formID); ok {
			etag = entry.MD5
			if !entry.LastModified.IsZero() {
				w.Header().Set("Last-Modified", entry.LastModified.UTC().Format(http.TimeFormat))
			}
		}
		if notModified(w, r, etag) {
			return
		}
		WriteJSON(w, http.StatusOK, tmpl)
	}
}

func handleGetFlow(registry *definition.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flowID := chi.URLParam(r, "flowId")
		flow, ok := registry.GetFlow(flowID)
		if !ok {
			WriteNotFound(w, fmt.Sprintf("flow %q not found", flowID))
			return
		}
		if notModified(w, r, flow.Checksum) {
			return
		}
		WriteJSON(w, http.StatusOK, flow)
	}
}

// notModified sets the ETag of a cacheable response and writes 304 when the
// request already holds it. An empty tag disables caching.
func notModified(w http.ResponseWriter, r *http.Request, tag string) bool {
	if tag == "" {
		return false
	}
	etag := `"` + tag + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")

	for _, candidate := range strings.Split(r.Header.Get("If-None-Match"), ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == etag || candidate == "*" {
			w.WriteHeader(http.StatusNotModified)
			return true
		}
	}
	return false
}
