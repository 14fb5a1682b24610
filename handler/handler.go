package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"voice-intake/internal/dialogue"
	"voice-intake/internal/httpapi"
	"voice-intake/internal/logging"
)

const correlationHeader = "X-Correlation-Id"

// Conversation is the engine surface reached through API Gateway.
// *dialogue.Engine satisfies this interface.
type Conversation interface {
	StartSession(ctx context.Context, callID string) (dialogue.Reply, error)
	ProcessUtterance(ctx context.Context, callID, text string) (dialogue.Reply, error)
	EndSession(ctx context.Context, callID, reason string) error
}

type utteranceRequest struct {
	Text string `json:"text"`
}

type hangupRequest struct {
	Reason string `json:"reason"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

type Handler struct {
	conv   Conversation
	logger *slog.Logger
}

func NewHandler(conv Conversation, logger *slog.Logger) (*Handler, error) {
	if conv == nil {
		return nil, errors.New("handler: conversation must not be nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{conv: conv, logger: logger}, nil
}

// Handle serves POST /calls/{callId}/start, /utterances and /hangup.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	callID, action, ok := route(event)
	if !ok || event.HTTPMethod != http.MethodPost {
		return respond(http.StatusNotFound, correlationID, errorResponse{Error: "NOT_FOUND", Reason: "unknown_route"}), nil
	}

	var (
		reply dialogue.Reply
		err   error
	)
	switch action {
	case "start":
		reply, err = h.conv.StartSession(ctx, callID)
	case "utterances":
		var body utteranceRequest
		if decErr := json.Unmarshal([]byte(event.Body), &body); decErr != nil {
			err = &dialogue.Error{Code: dialogue.ErrorInvalidInput, Reason: "invalid_body", Err: decErr}
			break
		}
		reply, err = h.conv.ProcessUtterance(ctx, callID, body.Text)
	case "hangup":
		var body hangupRequest
		if strings.TrimSpace(event.Body) != "" {
			if decErr := json.Unmarshal([]byte(event.Body), &body); decErr != nil {
				err = &dialogue.Error{Code: dialogue.ErrorInvalidInput, Reason: "invalid_body", Err: decErr}
				break
			}
		}
		if err = h.conv.EndSession(ctx, callID, body.Reason); err == nil {
			return respond(http.StatusNoContent, correlationID, nil), nil
		}
	}

	if err != nil {
		de := dialogue.AsError(err)
		status := httpapi.StatusFor(de.Code)
		logger.Error("request failed", "call_id", callID, "action", action, "code", string(de.Code), "reason", de.Reason, "err", err)
		return respond(status, correlationID, errorResponse{Error: string(de.Code), Reason: de.Reason}), nil
	}
	return respond(http.StatusOK, correlationID, reply), nil
}

// route extracts the call id and action from the proxy event. Path
// parameters win over the raw path when API Gateway provides them.
func route(event events.APIGatewayProxyRequest) (callID, action string, ok bool) {
	parts := strings.Split(strings.Trim(event.Path, "/"), "/")
	if len(parts) < 3 || parts[len(parts)-3] != "calls" {
		return "", "", false
	}
	callID, action = parts[len(parts)-2], parts[len(parts)-1]
	if v, found := event.PathParameters["callId"]; found {
		callID = v
	}
	switch action {
	case "start", "utterances", "hangup":
		return callID, action, true
	}
	return "", "", false
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func respond(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	resp := events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
	}
	if body == nil {
		return resp
	}
	raw, err := json.Marshal(body)
	if err != nil {
		resp.StatusCode = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR","reason":"encode_response"}`)
	}
	resp.Body = string(raw)
	return resp
}
