package controller

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"research-chat-be/internal/dto"
	"research-chat-be/internal/pkg/logger"
	"research-chat-be/internal/pkg/serverutils"
	"research-chat-be/internal/service"
	ws "research-chat-be/internal/websocket"
	"research-chat-be/pkg/rag/chaterr"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

type IChatController interface {
	RegisterRoutes(r fiber.Router)
	Chat(ctx *fiber.Ctx) error
	ChatStream(ctx *fiber.Ctx) error
	GetConversation(ctx *fiber.Ctx) error
	DeleteConversation(ctx *fiber.Ctx) error
	Resume(ctx *fiber.Ctx) error
	SwitchView(ctx *fiber.Ctx) error
}

type chatController struct {
	chatService service.IChatService
	hub         *ws.Hub
	jwtSecret   string
	logger      logger.ILogger
}

func NewChatController(chatService service.IChatService, hub *ws.Hub, jwtSecret string, log logger.ILogger) IChatController {
	return &chatController{
		chatService: chatService,
		hub:         hub,
		jwtSecret:   jwtSecret,
		logger:      log,
	}
}

func (c *chatController) RegisterRoutes(r fiber.Router) {
	auth := serverutils.JwtMiddleware(c.jwtSecret)

	h := r.Group("/chat", auth)
	h.Post("", c.Chat)
	h.Post("stream", c.ChatStream)
	if c.hub != nil {
		h.Use("ws", upgradeOnly)
		h.Get("ws", websocket.New(c.serveWs))
	}

	conv := r.Group("/conversations", auth)
	conv.Get(":id", c.GetConversation)
	conv.Delete(":id", c.DeleteConversation)
	conv.Get(":id/resume", c.Resume)

	r.Put("/views/:client_session_id", auth, c.SwitchView)
}

func (c *chatController) Chat(ctx *fiber.Ctx) error {
	req, err := parseChatRequest(ctx)
	if err != nil {
		return err
	}

	res, err := c.chatService.SendMessage(ctx.UserContext(), req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success send message", res))
}

// ChatStream answers with text/event-stream. Every frame is a JSON StreamEvent.
func (c *chatController) ChatStream(ctx *fiber.Ctx) error {
	req, err := parseChatRequest(ctx)
	if err != nil {
		return err
	}

	ctx.Set("Content-Type", "text/event-stream")
	ctx.Set("Cache-Control", "no-cache")
	ctx.Set("Connection", "keep-alive")
	ctx.Set("X-Accel-Buffering", "no")

	// the fiber ctx is recycled once the handler returns; the writer only uses its own state
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx.UserContext()))
	ctx.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		write := func(ev dto.StreamEvent) error {
			if err := writeSSE(w, ev); err != nil {
				cancel()
				return err
			}
			return nil
		}

		if err := c.chatService.Stream(streamCtx, req, write); err != nil {
			code, data := serverutils.StatusFor(err)
			ev := dto.StreamEvent{
				Type:           dto.StreamEventError,
				ConversationID: req.ConversationID,
				Error:          &dto.StreamError{Code: code, Message: err.Error()},
			}
			if data != nil {
				ev.Error.Retryable = data.Retryable
				ev.Error.FailedMessage = data.FailedMessage
			}
			_ = writeSSE(w, ev)
		}
	})
	return nil
}

func (c *chatController) GetConversation(ctx *fiber.Ctx) error {
	userID, err := requestUserID(ctx)
	if err != nil {
		return err
	}
	res, err := c.chatService.GetConversation(ctx.UserContext(), ctx.Params("id"), userID)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get conversation", res))
}

func (c *chatController) DeleteConversation(ctx *fiber.Ctx) error {
	userID, err := requestUserID(ctx)
	if err != nil {
		return err
	}
	if err := c.chatService.DeleteConversation(ctx.UserContext(), ctx.Params("id"), userID); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Success delete conversation", nil))
}

func (c *chatController) Resume(ctx *fiber.Ctx) error {
	userID, err := requestUserID(ctx)
	if err != nil {
		return err
	}
	res, err := c.chatService.Resume(ctx.UserContext(), ctx.Params("id"), userID)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success resume conversation", res))
}

func (c *chatController) SwitchView(ctx *fiber.Ctx) error {
	var req dto.SwitchViewRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	userID, err := requestUserID(ctx)
	if err != nil {
		return err
	}
	if err := c.chatService.SwitchView(ctx.UserContext(), ctx.Params("client_session_id"), req.ConversationID, userID); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success switch view", req))
}

func (c *chatController) serveWs(conn *websocket.Conn) {
	userID, _ := conn.Locals(serverutils.UserIDLocal).(string)
	if userID == "" {
		userID = conn.Query("user_id")
	}
	sessionID := conn.Query("client_session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if userID == "" {
		_ = conn.WriteJSON(dto.StreamEvent{
			Type:  dto.StreamEventError,
			Error: &dto.StreamError{Code: fiber.StatusBadRequest, Message: "user_id is required"},
		})
		_ = conn.Close()
		return
	}
	ws.ServeWs(c.hub, c.chatService, conn, userID, sessionID, c.logger)
}

func upgradeOnly(ctx *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(ctx) {
		return ctx.Next()
	}
	return fiber.ErrUpgradeRequired
}

func parseChatRequest(ctx *fiber.Ctx) (*dto.ChatRequest, error) {
	var req dto.ChatRequest
	if err := ctx.BodyParser(&req); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	req.UserID = serverutils.UserID(ctx, req.UserID)
	if err := serverutils.ValidateRequest(req); err != nil {
		return nil, err
	}
	return &req, nil
}

func requestUserID(ctx *fiber.Ctx) (string, error) {
	userID := serverutils.UserID(ctx, ctx.Query("user_id"))
	if userID == "" {
		return "", fmt.Errorf("%w: user_id is required", chaterr.ErrInvalidRequest)
	}
	return userID, nil
}

func writeSSE(w *bufio.Writer, ev dto.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	return w.Flush()
}
