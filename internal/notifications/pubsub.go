package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// PubSubRelay publishes events to a shared topic and re-broadcasts whatever arrives on this
// instance's subscription to local subscribers, so every API instance sees every event.
type PubSubRelay struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	local  *MemoryRelay
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// PubSubOption customises a PubSubRelay.
type PubSubOption func(*PubSubRelay)

// WithRelayLogger sets the logger used for receive loop diagnostics.
func WithRelayLogger(logger *zap.Logger) PubSubOption {
	return func(r *PubSubRelay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLocalRelay replaces the in-process fan-out relay.
func WithLocalRelay(local *MemoryRelay) PubSubOption {
	return func(r *PubSubRelay) {
		if local != nil {
			r.local = local
		}
	}
}

// NewPubSubRelay constructs a relay over topic and the per-instance subscription sub.
func NewPubSubRelay(topic *pubsub.Topic, sub *pubsub.Subscription, opts ...PubSubOption) (*PubSubRelay, error) {
	if topic == nil {
		return nil, errors.New("pubsub relay: topic is required")
	}
	if sub == nil {
		return nil, errors.New("pubsub relay: subscription is required")
	}
	r := &PubSubRelay{
		topic:  topic,
		sub:    sub,
		local:  NewMemoryRelay(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Start begins receiving from the subscription. The receive loop runs until Stop.
func (r *PubSubRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}
	if err := r.local.Start(ctx); err != nil {
		return err
	}

	recvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		err := r.sub.Receive(recvCtx, func(ctx context.Context, msg *pubsub.Message) {
			var event Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				r.logger.Warn("notifications: dropping malformed event", zap.String("messageId", msg.ID), zap.Error(err))
				msg.Ack()
				return
			}
			if err := r.local.Publish(ctx, event); err != nil {
				r.logger.Debug("notifications: local relay rejected event", zap.Error(err))
			}
			msg.Ack()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("notifications: receive loop stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop ends the receive loop, flushes pending publishes and closes local subscriptions.
func (r *PubSubRelay) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.topic.Stop()
	return r.local.Stop(ctx)
}

// Publish sends event to the topic and waits for the server acknowledgement.
func (r *PubSubRelay) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	result := r.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"type": string(event.Type)},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe attaches to the local fan-out.
func (r *PubSubRelay) Subscribe() (*Subscription, error) {
	return r.local.Subscribe()
}
