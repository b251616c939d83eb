package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/groupbuy-engine/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if h.devSessions {
			r.Post("/session", h.IssueSession)
		}

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Optional)

			r.Get("/groupbuys/{id}", h.GetGroupBuy)
			r.Get("/groupbuys/{id}/bids", h.ListBids)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/groupbuys", h.CreateGroupBuy)
			r.Post("/groupbuys/{id}/join", h.Join)
			r.Post("/groupbuys/{id}/advance", h.Advance)
			r.Post("/groupbuys/{id}/complete", h.Complete)
			r.Post("/groupbuys/{id}/cancel", h.Cancel)

			r.Post("/groupbuys/{id}/bids", h.SubmitBid)
			r.Delete("/bids/{id}", h.CancelBid)

			r.Post("/groupbuys/{id}/decision", h.RecordDecision)
			r.Get("/groupbuys/{id}/decision", h.DecisionStatus)
			r.Get("/groupbuys/{id}/contacts", h.RevealContacts)

			r.Get("/penalties", h.ListPenalties)
			r.Put("/profile", h.UpsertProfile)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
