package serverutils

import (
	"errors"

	"research-chat-be/pkg/rag/chaterr"

	"github.com/gofiber/fiber/v2"
)

// ErrorData lets a client resubmit a failed turn verbatim
type ErrorData struct {
	Retryable      bool   `json:"retryable"`
	FailedMessage  string `json:"failed_message,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Stage          string `json:"stage,omitempty"`
}

// StatusFor maps a service error to its HTTP status and envelope payload
func StatusFor(err error) (int, *ErrorData) {
	var turnErr *chaterr.TurnError
	var data *ErrorData
	if errors.As(err, &turnErr) {
		data = &ErrorData{
			Retryable:      turnErr.Retryable(),
			FailedMessage:  turnErr.UserMessage,
			ConversationID: turnErr.ConversationID,
			Stage:          string(turnErr.Stage),
		}
	}

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, data
	case errors.Is(err, chaterr.ErrInvalidRequest):
		return fiber.StatusBadRequest, data
	case errors.Is(err, chaterr.ErrNotFound):
		return fiber.StatusNotFound, data
	case errors.Is(err, chaterr.ErrOwnershipViolation):
		return fiber.StatusForbidden, data
	case chaterr.IsTimeout(err):
		return fiber.StatusGatewayTimeout, data
	case errors.Is(err, chaterr.ErrRetrievalFailure), errors.Is(err, chaterr.ErrGenerationFailure):
		return fiber.StatusBadGateway, data
	default:
		return fiber.StatusInternalServerError, data
	}
}

// ErrorHandlerMiddleware renders errors returned by later handlers as the standard envelope
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}
		return WriteError(ctx, err)
	}
}

func WriteError(ctx *fiber.Ctx, err error) error {
	code, data := StatusFor(err)
	message := err.Error()
	if code == fiber.StatusInternalServerError {
		message = "Internal server error"
	}
	return ctx.Status(code).JSON(ErrorResponse(code, message, data))
}
