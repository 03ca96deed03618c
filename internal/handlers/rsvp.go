package handlers

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// RSVPHandler serves the unauthenticated confirmation links embedded in
// reminder messages. The random token is the only credential.
type RSVPHandler struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewRSVPHandler(log *slog.Logger, pool *pgxpool.Pool) *RSVPHandler {
	return &RSVPHandler{pool: pool, logger: log.With(slog.String("handler", "rsvp"))}
}

func (h *RSVPHandler) Register(e *echo.Echo) {
	e.GET("/rsvp/:token", h.RSVP)
}

// RSVP applies a confirm/cancel action to the event the token is bound to.
// Already-final events (canceled, noshow) are left alone.
func (h *RSVPHandler) RSVP(c echo.Context) error {
	token := c.Param("token")
	action := c.QueryParam("action")

	var status string
	switch action {
	case "confirm", "":
		status = "confirmed"
	case "cancel":
		status = "canceled"
	default:
		return c.JSON(http.StatusBadRequest, map[string]any{"ok": false, "error": "unknown action"})
	}

	tag, err := h.pool.Exec(c.Request().Context(), `
		UPDATE calendar_events SET rsvp_status = $2
		WHERE rsvp_token = $1 AND rsvp_status IN ('pending', 'confirmed')`,
		token, status)
	if err != nil {
		h.logger.Error("rsvp update failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]any{"ok": false, "error": "internal error"})
	}
	if tag.RowsAffected() == 0 {
		return c.JSON(http.StatusNotFound, map[string]any{"ok": false, "error": "unknown or expired token"})
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "status": status})
}
