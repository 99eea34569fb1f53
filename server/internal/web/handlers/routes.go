package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devilmonastery/parley/server/internal/web/middleware"
)

// NewRouter wires every route. Session loading and client address resolution run
// before request logging so the log line carries both.
func NewRouter(h *Handler, authMw *middleware.AuthMiddleware, logger *slog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(authMw.LoadSession, middleware.RealIP(h.trustedProxies), middleware.LogRequest(logger))

	router.HandleFunc("/health", h.Health).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/", h.Home).Methods("GET")
	router.HandleFunc("/auth/login", h.Login).Methods("GET")
	router.HandleFunc("/auth/callback", h.AuthCallback).Methods("GET")
	router.HandleFunc("/logout", h.Logout).Methods("GET", "POST")

	router.Handle("/account", authMw.RequireAuth(http.HandlerFunc(h.Account))).Methods("GET")

	return router
}
