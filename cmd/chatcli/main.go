package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"research-chat-be/internal/dto"
	"research-chat-be/pkg/events"
	pktNats "research-chat-be/pkg/nats"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

// chatcli is an interactive terminal client for the streaming chat endpoint.
// With -events it tails turn events from NATS instead.
func main() {
	baseURL := flag.String("url", "http://localhost:3000/api", "API base URL")
	userID := flag.String("user", "cli-user", "user id sent with each request")
	token := flag.String("token", "", "bearer token, when the server requires one")
	rerank := flag.Bool("rerank", false, "ask the server to rerank retrieved passages")
	tail := flag.Bool("events", false, "tail chat events from NATS")
	natsURL := flag.String("nats", "nats://localhost:4222", "NATS URL for -events")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *tail {
		if err := tailEvents(ctx, *natsURL); err != nil {
			color.Red("Failed: %v", err)
			os.Exit(1)
		}
		return
	}

	c := &chatClient{
		baseURL:   strings.TrimRight(*baseURL, "/"),
		userID:    *userID,
		token:     *token,
		rerank:    *rerank,
		sessionID: uuid.NewString(),
		http:      &http.Client{}, // generation can take minutes
	}

	color.Cyan("Research chat. /new starts a new conversation, /quit exits.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		color.New(color.FgYellow, color.Bold).Print("\nyou> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return
		case "/new":
			c.conversationID = ""
			color.Cyan("Started a new conversation")
			continue
		}
		if err := c.send(ctx, line); err != nil {
			color.Red("\nFailed: %v", err)
		}
	}
}

type chatClient struct {
	baseURL        string
	userID         string
	token          string
	rerank         bool
	sessionID      string
	conversationID string
	http           *http.Client
}

func (c *chatClient) send(ctx context.Context, message string) error {
	body, err := json.Marshal(dto.ChatRequest{
		UserMessage:     message,
		UserID:          c.userID,
		ConversationID:  c.conversationID,
		UseReranker:     &c.rerank,
		ClientSessionID: c.sessionID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/stream", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %s", resp.Status)
	}

	return readEvents(resp, func(ev dto.StreamEvent) {
		switch ev.Type {
		case dto.StreamEventStart:
			c.conversationID = ev.ConversationID
			color.New(color.FgGreen, color.Bold).Print("assistant> ")
		case dto.StreamEventToken:
			fmt.Print(ev.Content)
		case dto.StreamEventDone:
			fmt.Println()
			if ev.Message != nil {
				printCitations(ev.Message.Citations)
			}
		case dto.StreamEventError:
			if ev.Error == nil {
				return
			}
			color.Red("\n[%d] %s", ev.Error.Code, ev.Error.Message)
			if ev.Error.Retryable {
				color.Yellow("The message was not stored; send it again to retry: %q", ev.Error.FailedMessage)
			}
		}
	})
}

// readEvents parses a text/event-stream body; only data lines carry payload
func readEvents(resp *http.Response, handle func(dto.StreamEvent)) error {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev dto.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev); err != nil {
			return fmt.Errorf("malformed event: %w", err)
		}
		handle(ev)
	}
	return scanner.Err()
}

func printCitations(citations []dto.CitationDTO) {
	if len(citations) == 0 {
		return
	}
	color.Cyan("\nReferences")
	for _, ci := range citations {
		title := ci.Title
		if title == "" {
			title = ci.DocumentID
		}
		line := fmt.Sprintf("[%d] %s", ci.Number, title)
		if ci.Journal != "" {
			line += ". " + ci.Journal
		}
		if ci.Year > 0 {
			line += fmt.Sprintf(" (%d)", ci.Year)
		}
		fmt.Println(line)
		if ci.URL != "" {
			color.New(color.Faint).Println("    " + ci.URL)
		}
	}
}

func tailEvents(ctx context.Context, url string) error {
	sub, err := pktNats.NewSubscriber(url)
	if err != nil {
		return err
	}
	defer sub.Close()

	err = sub.Subscribe(ctx, pktNats.SubjectPrefix+"chat.>", "", func(_ context.Context, ev events.Event) error {
		data, _ := json.Marshal(ev.Payload())
		label := color.GreenString(ev.EventType())
		if ev.EventType() == events.TypeTurnFailed {
			label = color.RedString(ev.EventType())
		}
		fmt.Printf("%s %s %s\n", ev.Timestamp().Format("15:04:05"), label, data)
		return nil
	})
	if err != nil {
		return err
	}

	color.Cyan("Tailing chat events from %s", url)
	<-ctx.Done()
	return nil
}
