package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all lot ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/lots", func(r chi.Router) {
		r.Get("/", h.HandleListLots)
		r.Post("/", h.HandleCreateLot)

		r.Get("/summary", h.HandleGetSummary)
		r.Get("/summaries", h.HandleGetSummaries)

		r.Post("/batch", h.HandleApplyBatch)

		r.Post("/disposals", h.HandleRecordDisposals)
		r.Post("/disposals/{groupID}/reassign", func(w http.ResponseWriter, r *http.Request) {
			h.HandleReassignDisposals(w, r, chi.URLParam(r, "groupID"))
		})

		r.Patch("/{id}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleUpdateLot(w, r, chi.URLParam(r, "id"))
		})
		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			h.HandleDeleteLot(w, r, chi.URLParam(r, "id"))
		})
	})
}
