package websocket

import (
	"encoding/json"

	"research-chat-be/internal/dto"
	"research-chat-be/internal/pkg/logger"
	"research-chat-be/internal/pkg/serverutils"
	"research-chat-be/internal/service"

	"github.com/gofiber/websocket/v2"
)

// ServeWs runs one chat websocket. Frames are {"type":"chat",...ChatRequest} to start a
// streamed turn or {"type":"switch","conversation_id":...} to change the visible conversation.
// Turns started here keep running after the socket closes.
func ServeWs(hub *Hub, chat service.IChatService, conn *websocket.Conn, userID, sessionID string, log logger.ILogger) {
	client := newClient(hub, conn, userID, sessionID, log)
	hub.register <- client
	defer chat.ForgetView(sessionID)

	go client.writePump()
	client.readPump(func(data []byte) {
		handleFrame(client, chat, data)
	})
}

func handleFrame(c *Client, chat service.IChatService, data []byte) {
	var frame dto.WsInbound
	if err := json.Unmarshal(data, &frame); err != nil {
		sendError(c, "", err)
		return
	}
	if err := serverutils.ValidateRequest(frame); err != nil {
		sendError(c, "", err)
		return
	}

	switch frame.Type {
	case dto.WsMessageSwitch:
		if err := chat.SwitchView(c.Context(), c.SessionID, frame.ConversationID, c.UserID); err != nil {
			sendError(c, frame.ConversationID, err)
		}

	case dto.WsMessageChat:
		req := frame.ChatRequest
		req.UserID = c.UserID
		req.ClientSessionID = c.SessionID
		if err := serverutils.ValidateRequest(req); err != nil {
			sendError(c, req.ConversationID, err)
			return
		}
		go func() {
			err := chat.Stream(c.Context(), &req, func(ev dto.StreamEvent) error {
				return c.SendJSON(ev)
			})
			if err != nil {
				sendError(c, req.ConversationID, err)
			}
		}()
	}
}

func sendError(c *Client, conversationID string, err error) {
	code, data := serverutils.StatusFor(err)
	ev := dto.StreamEvent{
		Type:           dto.StreamEventError,
		ConversationID: conversationID,
		Error:          &dto.StreamError{Code: code, Message: err.Error()},
	}
	if data != nil {
		ev.Error.Retryable = data.Retryable
		ev.Error.FailedMessage = data.FailedMessage
	}
	_ = c.SendJSON(ev)
}
