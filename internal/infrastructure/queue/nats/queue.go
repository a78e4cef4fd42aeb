package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/arxlab/litagent/internal/core/domain"
	"github.com/arxlab/litagent/internal/infrastructure/resilience"
)

const (
	SubjectConversationConcluded = "litagent.conversations.concluded"
	SubjectChunksParsed          = "litagent.chunks.parsed"
	SubjectConsolidate           = "litagent.memory.consolidate"

	workerQueueGroup = "workers"
)

// conversationConcludedEvent is the wire shape of a session-end trigger.
type conversationConcludedEvent struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
}

type Queue struct {
	conn     *nats.Conn
	executor *resilience.Executor
}

func New(url string) (*Queue, error) {
	return NewWithOptions(url, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func NewWithOptions(url string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("litagent"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected: %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishConversationConcluded(ctx context.Context, userID, conversationID string) error {
	payload, err := json.Marshal(conversationConcludedEvent{
		UserID:         userID,
		ConversationID: conversationID,
	})
	if err != nil {
		return fmt.Errorf("marshal concluded event: %w", err)
	}
	return q.publish(ctx, SubjectConversationConcluded, payload)
}

func (q *Queue) PublishChunksParsed(ctx context.Context, chunks []domain.Chunk) error {
	payload, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("marshal parsed chunks: %w", err)
	}
	return q.publish(ctx, SubjectChunksParsed, payload)
}

func (q *Queue) PublishConsolidate(ctx context.Context, userID string) error {
	return q.publish(ctx, SubjectConsolidate, []byte(userID))
}

func (q *Queue) publish(ctx context.Context, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyQueueError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return asTemporary(err)
	}
	return nil
}

func (q *Queue) SubscribeConversationConcluded(ctx context.Context, handler func(ctx context.Context, userID, conversationID string) error) error {
	return q.subscribe(ctx, SubjectConversationConcluded, func(handlerCtx context.Context, data []byte) error {
		var event conversationConcludedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("decode concluded event: %w", err)
		}
		return handler(handlerCtx, event.UserID, event.ConversationID)
	})
}

func (q *Queue) SubscribeChunksParsed(ctx context.Context, handler func(ctx context.Context, chunks []domain.Chunk) error) error {
	return q.subscribe(ctx, SubjectChunksParsed, func(handlerCtx context.Context, data []byte) error {
		var chunks []domain.Chunk
		if err := json.Unmarshal(data, &chunks); err != nil {
			return fmt.Errorf("decode parsed chunks: %w", err)
		}
		return handler(handlerCtx, chunks)
	})
}

func (q *Queue) SubscribeConsolidate(ctx context.Context, handler func(ctx context.Context, userID string) error) error {
	return q.subscribe(ctx, SubjectConsolidate, func(handlerCtx context.Context, data []byte) error {
		return handler(handlerCtx, string(data))
	})
}

func (q *Queue) subscribe(ctx context.Context, subject string, handle func(context.Context, []byte) error) error {
	sub, err := q.conn.QueueSubscribe(subject, workerQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handle(handlerCtx, msg.Data); err != nil {
			log.Printf("worker handler error on %s: %v", subject, err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
