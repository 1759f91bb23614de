package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// health is the liveness probe. Returns 200 when the process is alive.
func health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness is the readiness probe. With a pool configured it pings the
// database; without one the process alone is the readiness signal, since the
// service can answer from the managed backends without local storage.
func readiness(pool *pgxpool.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "database not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
}
