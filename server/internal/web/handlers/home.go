package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/devilmonastery/parley/internal/auth"
	"github.com/devilmonastery/parley/internal/domain/entities"
	"github.com/devilmonastery/parley/internal/domain/services"
	"github.com/devilmonastery/parley/server/internal/web/session"
)

// recentActivityLimit bounds the audit entries shown on the account page
const recentActivityLimit = 10

type homeResponse struct {
	User   *auth.UserContext `json:"user"`
	Alerts []session.Alert   `json:"alerts"`
}

// Home reports who is signed in and hands out pending alerts exactly once
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.sessionManager.Alerts(r, w, session.AlertError)
	if err != nil {
		h.log.Error("failed to consume alerts", slog.String("error", err.Error()))
	}
	if alerts == nil {
		alerts = []session.Alert{}
	}

	resp := homeResponse{Alerts: alerts}
	if user, err := auth.GetUserFromContext(r.Context()); err == nil {
		resp.User = user
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type accountResponse struct {
	User           *entities.User      `json:"user"`
	RecentActivity []*entities.AuditLog `json:"recent_activity"`
}

// Account shows the signed-in user with every linked identity
func (h *Handler) Account(w http.ResponseWriter, r *http.Request) {
	current, err := auth.GetUserFromContext(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := h.users.GetUserByID(r.Context(), current.UserID)
	if err != nil {
		if services.IsUserNotFound(err) {
			// The account behind a still-valid token is gone
			h.writeError(w, http.StatusNotFound, "account not found")
			return
		}
		h.log.Error("failed to load account",
			slog.String("user_id", current.UserID),
			slog.String("reason", services.GetUserLookupFailureReason(err)),
			slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, "failed to load account")
		return
	}

	activity := h.recentActivity(r.Context(), user.ID)
	h.writeJSON(w, http.StatusOK, accountResponse{User: user, RecentActivity: activity})
}

func (h *Handler) recentActivity(ctx context.Context, userID string) []*entities.AuditLog {
	logs, err := h.users.RecentActivity(ctx, userID, recentActivityLimit)
	if err != nil {
		h.log.Warn("failed to load recent activity",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}
	if logs == nil {
		logs = []*entities.AuditLog{}
	}
	return logs
}
