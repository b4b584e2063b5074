package errors

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Shugur-Network/portal/internal/logger"
	"go.uber.org/zap"
)

// Define a custom type for context keys to avoid collisions.
type contextKey string

const requestIDKey contextKey = "request_id"

// HandlerFunc is a function type that can return an error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handler wraps HandlerFunc with automatic error handling.
type Handler struct {
	errorMiddleware *ErrorMiddleware
	handlerFunc     HandlerFunc
	logger          *zap.Logger
}

// NewHandler creates a new error-aware handler.
func NewHandler(handlerFunc HandlerFunc) *Handler {
	return &Handler{
		errorMiddleware: NewErrorMiddleware(),
		handlerFunc:     handlerFunc,
		logger:          logger.New("error_handler"),
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()
	ctx := context.WithValue(r.Context(), requestIDKey, requestID)
	r = r.WithContext(ctx)

	w.Header().Set("X-Request-ID", requestID)

	if err := h.handlerFunc(w, r); err != nil {
		h.errorMiddleware.HandleError(w, r, err)
		return
	}
}

// WrapHandler wraps a standard http.HandlerFunc with error handling.
func WrapHandler(handlerFunc func(w http.ResponseWriter, r *http.Request) error) http.Handler {
	return NewHandler(handlerFunc)
}

// WebSocketHandler is a specialized handler for the relay pool's outbound
// connections and the client transport's inbound sessions alike — both
// ride on gorilla/websocket.
type WebSocketHandler struct {
	logger *zap.Logger
}

// NewWebSocketHandler creates a new WebSocket error handler.
func NewWebSocketHandler() *WebSocketHandler {
	return &WebSocketHandler{
		logger: logger.New("websocket_error_handler"),
	}
}

// HandleWebSocketError logs a websocket-layer failure as a TransportError.
// It never sends an HTTP response: a websocket connection has none.
func (wh *WebSocketHandler) HandleWebSocketError(endpoint string, operation string, err error) {
	if err == nil {
		return
	}

	wsErr := TransportError(endpoint, err)

	wh.logger.Error("websocket error occurred",
		zap.String("operation", operation),
		zap.String("endpoint", endpoint),
		zap.String("error_type", string(wsErr.Type)),
		zap.String("error_code", wsErr.Code),
		zap.String("severity", string(wsErr.Severity)),
		zap.Error(err))
}

// ConversationHandler classifies errors arising from conversation runtime
// operations (routing, envelope processing, subscription delivery) into
// Portal's taxonomy, the way the teacher's relay handler classified event
// and subscription errors.
type ConversationHandler struct {
	logger *zap.Logger
}

// NewConversationHandler creates a new conversation error handler.
func NewConversationHandler() *ConversationHandler {
	return &ConversationHandler{
		logger: logger.New("conversation_error_handler"),
	}
}

// HandleEnvelopeError processes envelope classification/routing errors.
func (ch *ConversationHandler) HandleEnvelopeError(eventID, operation string, err error) error {
	if err == nil {
		return nil
	}

	appErr := CryptoError(fmt.Sprintf("%s: %v", operation, err), err)

	ch.logger.Warn("envelope processing failed",
		zap.String("event_id", eventID),
		zap.String("operation", operation),
		zap.String("error_type", string(appErr.Type)),
		zap.String("error_code", appErr.Code),
		zap.Error(err))

	return appErr
}

// HandleSubscriptionError processes subscription registry errors.
func (ch *ConversationHandler) HandleSubscriptionError(subID, operation string, err error) error {
	if err == nil {
		return nil
	}

	appErr := ClientFaultError("SUBSCRIPTION_ERROR", fmt.Sprintf("subscription %s: %v", operation, err))

	ch.logger.Warn("subscription operation failed",
		zap.String("subscription_id", subID),
		zap.String("operation", operation),
		zap.String("error_type", string(appErr.Type)),
		zap.String("error_code", appErr.Code),
		zap.Error(err))

	return appErr
}

func generateRequestID() string {
	return fmt.Sprintf("req_%d", time.Now().UnixNano())
}
