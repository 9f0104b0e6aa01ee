package app

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"careline/cmd/internal/auth"
	"careline/cmd/internal/relay"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	gw *relay.Gateway,
	chat *chatHandlers,
	verifier auth.TokenVerifier,
	registry *prometheus.Registry,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Websocket authenticates through its ?token= query, not the bearer
	// middleware; browsers cannot set headers on websocket dials.
	mux.HandleFunc("GET /chat/ws/{user_id}", gw.HandleWS)

	mux.HandleFunc("POST /chat/patient", requireRole(verifier, chat.handlePatientChat, auth.RolePatient))
	mux.HandleFunc("POST /chat/doctor", requireRole(verifier, chat.handleDoctorChat, auth.RoleDoctor))

	mux.HandleFunc("POST /chat/rooms/create",
		requireRole(verifier, chat.handleCreateRoom, auth.RoleDoctor, auth.RolePatient, auth.RoleAdmin))
	mux.HandleFunc("GET /chat/rooms/{room_id}/history", requireAuth(verifier, chat.handleRoomHistory))
	mux.HandleFunc("GET /chat/rooms/user/{user_id}", requireAuth(verifier, chat.handleUserRooms))

	mux.HandleFunc("GET /chat/active-users",
		requireRole(verifier, chat.handleActiveUsers, auth.RoleDoctor, auth.RoleAdmin))
	mux.HandleFunc("POST /chat/broadcast", requireRole(verifier, chat.handleBroadcast, auth.RoleAdmin))
	mux.HandleFunc("POST /chat/notify/{user_id}", requireAuth(verifier, chat.handleNotify))
	mux.HandleFunc("POST /chat/upload-file", requireAuth(verifier, chat.handleUploadFile))

	mux.HandleFunc("GET /chat/health", chat.handleChatHealth)
	mux.HandleFunc("GET /chat/stats", requireRole(verifier, chat.handleStats, auth.RoleAdmin))
}
