package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/loopline-io/loopline/internal/auth"
	"github.com/loopline-io/loopline/internal/outbound"
)

// SendRequest is the agent-facing send payload. Destination is either a raw
// channel address or a conversation id; text and media are alternatives.
type SendRequest struct {
	To             string `json:"to"`
	ConversationID string `json:"conversation_id" validate:"omitempty,uuid"`
	Transport      string `json:"transport" validate:"omitempty,oneof=cloud session"`
	Text           string `json:"text"`
	MediaURL       string `json:"media_url" validate:"omitempty,url"`
	Caption        string `json:"caption"`
}

type SendResponse struct {
	OK        bool   `json:"ok"`
	Transport string `json:"transport,omitempty"`
	To        string `json:"to,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Note      string `json:"note,omitempty"`
	Error     string `json:"error,omitempty"`
}

type SendHandler struct {
	router *outbound.Router
	logger *slog.Logger
}

func NewSendHandler(log *slog.Logger, router *outbound.Router) *SendHandler {
	return &SendHandler{
		router: router,
		logger: log.With(slog.String("handler", "send")),
	}
}

func (h *SendHandler) Register(e *echo.Echo) {
	e.POST("/messages/send", h.Send)
}

// Send delivers one outbound message. The Idempotency-Key header makes
// repeated submissions safe; the original outcome is replayed.
func (h *SendHandler) Send(c echo.Context) error {
	orgID, err := auth.OrgIDFromContext(c)
	if err != nil {
		return err
	}

	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, SendResponse{Error: "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, SendResponse{Error: "invalid request body"})
	}
	if req.To == "" && req.ConversationID == "" {
		return c.JSON(http.StatusBadRequest, SendResponse{Error: "to or conversation_id is required"})
	}
	if req.Text == "" && req.MediaURL == "" {
		return c.JSON(http.StatusBadRequest, SendResponse{Error: "text or media_url is required"})
	}

	outcome, err := h.router.Send(c.Request().Context(), outbound.SendRequest{
		OrgID:          orgID,
		To:             req.To,
		ConversationID: req.ConversationID,
		Transport:      req.Transport,
		Text:           req.Text,
		MediaURL:       req.MediaURL,
		Caption:        req.Caption,
		IdempotencyKey: c.Request().Header.Get("Idempotency-Key"),
	})
	if err != nil {
		if errors.Is(err, outbound.ErrMissingDestination) {
			return c.JSON(http.StatusBadRequest, SendResponse{Error: "missing destination"})
		}
		if errors.Is(err, outbound.ErrProviderFailure) {
			h.logger.Error("provider failure", slog.Any("error", err))
			return c.JSON(http.StatusBadGateway, SendResponse{Error: "provider failure"})
		}
		h.logger.Error("send failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, SendResponse{Error: "internal error"})
	}

	return c.JSON(http.StatusOK, SendResponse{
		OK:        true,
		Transport: outcome.Transport,
		To:        outcome.To,
		MessageID: outcome.MessageID,
		Note:      outcome.Note,
	})
}
