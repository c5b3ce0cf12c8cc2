package service

import (
	"context"
	"encoding/json"
	"time"

	"research-chat-be/internal/pkg/logger"
	"research-chat-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const ChatEventsTopic = "chat_events"

// EventSink receives every event drained from the in-process bus
type EventSink interface {
	Publish(ctx context.Context, event events.Event) error
}

// IEventService decouples turn handling from event delivery.
// Publish never blocks on a slow sink.
type IEventService interface {
	Publish(event events.Event)
	Consume(ctx context.Context) error
	Close() error
}

type eventService struct {
	pubSub *gochannel.GoChannel
	topic  string
	sinks  []EventSink
	logger logger.ILogger
}

func NewEventService(pubSub *gochannel.GoChannel, topic string, log logger.ILogger, sinks ...EventSink) IEventService {
	return &eventService{
		pubSub: pubSub,
		topic:  topic,
		sinks:  sinks,
		logger: log,
	}
}

func (s *eventService) Publish(event events.Event) {
	payload, err := json.Marshal(events.BaseEvent{
		Type:       event.EventType(),
		Data:       event.Payload(),
		OccurredAt: event.Timestamp(),
	})
	if err != nil {
		s.logger.Error("EventService", "Failed to marshal event", map[string]interface{}{
			"type":  event.EventType(),
			"error": err.Error(),
		})
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.pubSub.Publish(s.topic, msg); err != nil {
		s.logger.Error("EventService", "Failed to publish event", map[string]interface{}{
			"type":  event.EventType(),
			"error": err.Error(),
		})
	}
}

func (s *eventService) Consume(ctx context.Context) error {
	messages, err := s.pubSub.Subscribe(ctx, s.topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			s.process(ctx, msg)
		}
	}()
	return nil
}

func (s *eventService) process(ctx context.Context, msg *message.Message) {
	var event events.BaseEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		s.logger.Error("EventService", "Dropping malformed event", map[string]interface{}{
			"error": err.Error(),
		})
		msg.Ack()
		return
	}

	s.logger.Info("EventService", event.Type, event.Data)

	for _, sink := range s.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := sink.Publish(sinkCtx, event); err != nil {
			s.logger.Warn("EventService", "Event sink failed", map[string]interface{}{
				"type":  event.Type,
				"error": err.Error(),
			})
		}
		cancel()
	}
	msg.Ack()
}

func (s *eventService) Close() error {
	return s.pubSub.Close()
}
