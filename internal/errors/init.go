package errors

import (
	"net/http"

	"github.com/Shugur-Network/portal/internal/logger"
	"go.uber.org/zap"
)

var (
	globalErrorMiddleware     *ErrorMiddleware
	globalWebSocketHandler    *WebSocketHandler
	globalConversationHandler *ConversationHandler
)

// InitErrorHandling initializes the global error handling system.
func InitErrorHandling() {
	globalErrorMiddleware = NewErrorMiddleware()
	globalWebSocketHandler = NewWebSocketHandler()
	globalConversationHandler = NewConversationHandler()

	logger.Info("error handling system initialized",
		zap.String("component", "error_middleware"))
}

// GetErrorMiddleware returns the global error middleware instance.
func GetErrorMiddleware() *ErrorMiddleware {
	if globalErrorMiddleware == nil {
		InitErrorHandling()
	}
	return globalErrorMiddleware
}

// GetWebSocketHandler returns the global WebSocket error handler.
func GetWebSocketHandler() *WebSocketHandler {
	if globalWebSocketHandler == nil {
		InitErrorHandling()
	}
	return globalWebSocketHandler
}

// GetConversationHandler returns the global conversation error handler.
func GetConversationHandler() *ConversationHandler {
	if globalConversationHandler == nil {
		InitErrorHandling()
	}
	return globalConversationHandler
}

// HandleHTTPError is a convenience function for handling HTTP errors.
func HandleHTTPError(w http.ResponseWriter, r *http.Request, err error) {
	GetErrorMiddleware().HandleError(w, r, err)
}

// HandleWebSocketError is a convenience function for handling WebSocket errors.
func HandleWebSocketError(endpoint, operation string, err error) {
	GetWebSocketHandler().HandleWebSocketError(endpoint, operation, err)
}

// HandleEnvelopeError is a convenience function for handling envelope errors.
func HandleEnvelopeError(eventID, operation string, err error) error {
	return GetConversationHandler().HandleEnvelopeError(eventID, operation, err)
}

// HandleSubscriptionError is a convenience function for handling subscription errors.
func HandleSubscriptionError(subID, operation string, err error) error {
	return GetConversationHandler().HandleSubscriptionError(subID, operation, err)
}

// RecoveryMiddleware returns a middleware that recovers from panics.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return GetErrorMiddleware().RecoveryMiddleware(next)
}
