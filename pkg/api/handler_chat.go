package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/maestrokit/maestro/pkg/ids"
	"github.com/maestrokit/maestro/pkg/metrics"
	"github.com/maestrokit/maestro/pkg/models"
	"github.com/maestrokit/maestro/pkg/stream"
)

const maxMessageLength = 100_000

// StreamAcceptedResponse is returned for stream=true chat requests. Events
// are delivered on the WebSocket channel; the turn runs detached.
type StreamAcceptedResponse struct {
	ConversationID string `json:"conversation_id"`
	Channel        string `json:"channel"`
}

// chatHandler handles POST /api/v1/chat.
// Synchronous requests block until the turn completes and return the
// TurnResult. stream=true requests return 202 immediately; events flow to
// subscribers of "conversation:<id>" over /ws.
func (s *Server) chatHandler(c *echo.Context) error {
	var req models.ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Message == "" {
		return writeTurnError(c, models.NewTurnError(models.ErrKindInvalidInput, "message is required"))
	}
	if len(req.Message) > maxMessageLength {
		return writeTurnError(c, models.NewTurnError(models.ErrKindInvalidInput,
			"message exceeds maximum length of %d characters", maxMessageLength))
	}

	if !req.Stream {
		result, err := s.orch.Chat(c.Request().Context(), req, nil)
		if err != nil {
			return writeTurnError(c, err)
		}
		return c.JSON(http.StatusOK, result)
	}

	// The channel name needs the conversation id up front; allocate one for
	// new conversations so the client can subscribe before events arrive.
	if req.ConversationID == "" {
		req.ConversationID = ids.NewConversation()
	}
	channel := "conversation:" + req.ConversationID

	sink := stream.NewChannelSink(s.cfg.Defaults.SinkBuffer, s.cfg.Defaults.ConsumerStallTimeout)
	go s.pumpStream(sink, channel)
	go func() {
		// Detached from the HTTP request: the caller already got its 202.
		// The orchestrator's turn timeout bounds the context.
		if _, err := s.orch.Chat(context.Background(), req, sink); err != nil {
			slog.Debug("Streaming turn failed", "conversation_id", req.ConversationID, "error", err)
		}
	}()

	return c.JSON(http.StatusAccepted, &StreamAcceptedResponse{
		ConversationID: req.ConversationID,
		Channel:        channel,
	})
}

// pumpStream forwards sink events to WebSocket subscribers until the sink
// closes. This loop is the turn's bounded consumer.
func (s *Server) pumpStream(sink *stream.ChannelSink, channel string) {
	for event := range sink.Events() {
		metrics.StreamEventsTotal.WithLabelValues(string(event.Type)).Inc()
		data, err := json.Marshal(event)
		if err != nil {
			slog.Warn("Failed to marshal stream event", "channel", channel, "error", err)
			continue
		}
		s.conns.Broadcast(channel, data)
	}
}

// cancelTurnHandler handles POST /api/v1/conversations/:id/cancel.
func (s *Server) cancelTurnHandler(c *echo.Context) error {
	conversationID := c.Param("id")
	if conversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id is required")
	}

	cancelled, err := s.orch.CancelTurn(conversationID)
	if err != nil {
		return writeTurnError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"cancelled": cancelled})
}
