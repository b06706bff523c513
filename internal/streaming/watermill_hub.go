package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/rendis/skillscript/pkg/schema"
)

// EventsTopic is the broker topic carrying task events.
const EventsTopic = "skillscript.events"

// Bus kinds accepted by NewBus.
const (
	BusMemory    = "memory"
	BusGoChannel = "gochannel"
	BusKafka     = "kafka"
)

const (
	metaTaskID    = "task_id"
	metaActorID   = "actor_id"
	metaEventType = "event_type"
)

// Bus is an EventHub that owns resources.
type Bus interface {
	EventHub
	Close() error
}

// WatermillHub publishes events through a watermill Publisher and fans the
// consumed stream out to local subscribers. The hub holds a single broker
// subscription however many local subscribers it has.
type WatermillHub struct {
	pub    message.Publisher
	sub    message.Subscriber
	local  *MemoryHub
	logger *slog.Logger

	mu      sync.Mutex
	stop    context.CancelFunc
	done    chan struct{}
	started bool
}

var _ Bus = (*WatermillHub)(nil)

// NewWatermillHub wraps a publisher/subscriber pair. Call Start before
// publishing on brokers that do not persist messages.
func NewWatermillHub(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatermillHub{
		pub:    pub,
		sub:    sub,
		local:  NewMemoryHub(),
		logger: logger,
	}
}

// Start subscribes to EventsTopic and begins forwarding to local subscribers.
// Calling it twice is a no-op.
func (h *WatermillHub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return nil
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	msgs, err := h.sub.Subscribe(ctx, EventsTopic)
	if err != nil {
		cancel()
		return schema.NewErrorf(schema.ErrCodeStore, "subscribe %s: %s", EventsTopic, err.Error()).WithCause(err)
	}
	h.stop = cancel
	h.done = make(chan struct{})
	h.started = true
	go h.consume(msgs)
	return nil
}

func (h *WatermillHub) consume(msgs <-chan *message.Message) {
	defer close(h.done)
	for msg := range msgs {
		var event StreamEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			h.logger.Warn("drop undecodable event",
				slog.String("message_id", msg.UUID),
				slog.String("error", err.Error()))
			msg.Ack()
			continue
		}
		_ = h.local.Publish(context.Background(), event)
		msg.Ack()
	}
}

// Publish encodes the event as JSON and sends it to EventsTopic.
func (h *WatermillHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "encode event: %s", err.Error()).WithCause(err)
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(metaTaskID, event.TaskID)
	msg.Metadata.Set(metaActorID, event.ActorID)
	msg.Metadata.Set(metaEventType, event.EventType)

	if err := h.pub.Publish(EventsTopic, msg); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "publish %s: %s", event.EventType, err.Error()).WithCause(err)
	}
	return nil
}

// Subscribe registers a local subscriber on the consumed stream. Payloads
// arrive JSON-decoded, so structured values come back as maps.
func (h *WatermillHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	return h.local.Subscribe(ctx, filter)
}

// Subscribers returns the number of local subscriptions.
func (h *WatermillHub) Subscribers() int {
	return h.local.Subscribers()
}

// Close stops the consumer and closes the publisher and subscriber.
func (h *WatermillHub) Close() error {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.started = false
	h.stop = nil
	h.mu.Unlock()

	if stop != nil {
		stop()
	}
	errs := []error{h.pub.Close()}
	if any(h.sub) != any(h.pub) {
		errs = append(errs, h.sub.Close())
	}
	if done != nil {
		<-done
	}
	return errors.Join(errs...)
}

type memoryBus struct {
	*MemoryHub
}

func (memoryBus) Close() error { return nil }

// NewBus builds the event bus named by kind. brokers is a comma-separated
// list and only used by BusKafka. The returned bus is already consuming.
func NewBus(ctx context.Context, kind, brokers string, logger *slog.Logger) (Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	wlog := watermill.NewSlogLogger(logger)

	var hub *WatermillHub
	switch kind {
	case "", BusMemory:
		return memoryBus{NewMemoryHub()}, nil
	case BusGoChannel:
		pubSub := newGoChannel(wlog)
		hub = NewWatermillHub(pubSub, pubSub, logger)
	case BusKafka:
		pub, sub, err := newKafka(splitBrokers(brokers), wlog)
		if err != nil {
			return nil, err
		}
		hub = NewWatermillHub(pub, sub, logger)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported event bus %q", kind)
	}

	if err := hub.Start(ctx); err != nil {
		_ = hub.Close()
		return nil, err
	}
	return hub, nil
}

// newGoChannel blocks Publish until the consumer acks so events keep their
// tick order.
func newGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            defaultChannelBuffer,
			BlockPublishUntilSubscriberAck: true,
		},
		logger,
	)
}

func newKafka(brokers []string, logger watermill.LoggerAdapter) (*kafka.Publisher, *kafka.Subscriber, error) {
	if len(brokers) == 0 {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "kafka event bus needs at least one broker")
	}

	subCfg := kafka.DefaultSaramaSubscriberConfig()
	subCfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: subCfg,
			ConsumerGroup:         "cg-" + watermill.NewShortUUID(),
		},
		logger,
	)
	if err != nil {
		return nil, nil, schema.NewErrorf(schema.ErrCodeStore, "kafka subscriber: %s", err.Error()).WithCause(err)
	}

	pubCfg := sarama.NewConfig()
	pubCfg.Producer.Return.Successes = true
	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: pubCfg,
		},
		logger,
	)
	if err != nil {
		_ = subscriber.Close()
		return nil, nil, schema.NewErrorf(schema.ErrCodeStore, "kafka publisher: %s", err.Error()).WithCause(err)
	}
	return publisher, subscriber, nil
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
