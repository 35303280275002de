package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/webitel/connpool/internal/pool/controller"
)

// Pool is the narrow view of *controller.Controller the admin surface
// drives, kept separate so handlers are testable against a fake.
type Pool interface {
	Stats() controller.Snapshot
	SoftEvictConnections()
	SuspendPool() error
	ResumePool() error
	IsClosed() bool
}

// NewRouter builds the chi router for the management surface: GET
// /healthz, GET /stats, and POST /evict/soft, /suspend, /resume guarded
// by bearerToken (empty disables auth).
func NewRouter(pool Pool, bearerToken string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if pool.IsClosed() {
			http.Error(w, "pool closed", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(bearerToken))

		r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, pool.Stats())
		})

		r.Post("/evict/soft", func(w http.ResponseWriter, r *http.Request) {
			pool.SoftEvictConnections()
			w.WriteHeader(http.StatusAccepted)
		})

		r.Post("/suspend", func(w http.ResponseWriter, r *http.Request) {
			if err := pool.SuspendPool(); err != nil {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		})

		r.Post("/resume", func(w http.ResponseWriter, r *http.Request) {
			if err := pool.ResumePool(); err != nil {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
