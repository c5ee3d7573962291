package crdtpubsub

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"reactivecrdt/luvjson/core/lvlog"
	"reactivecrdt/luvjson/crdtpatch"
)

// MemoryPubSub implements the PubSub interface in process. Every subscriber
// receives the messages of a topic in publication order.
type MemoryPubSub struct {
	// options contains the configuration options.
	options *Options
	// subscriptions maps topic to subscriber ID to subscription.
	subscriptions map[string]map[string]*subscription
	// mutex protects the subscriptions map.
	mutex sync.RWMutex
	// closed indicates whether the PubSub has been closed.
	closed bool
	log    *zap.Logger
}

// NewMemoryPubSub creates a new MemoryPubSub with the specified options.
func NewMemoryPubSub(options *Options) (*MemoryPubSub, error) {
	if options == nil {
		options = NewOptions()
	}
	if _, err := GetEncoderDecoder(options.DefaultFormat); err != nil {
		return nil, err
	}

	return &MemoryPubSub{
		options:       options,
		subscriptions: make(map[string]map[string]*subscription),
		log:           lvlog.Named("pubsub.memory"),
	}, nil
}

// Publish publishes a patch to the specified topic.
func (ps *MemoryPubSub) Publish(ctx context.Context, topic string, patch *crdtpatch.Patch, format EncodingFormat) error {
	msg, err := encodeMessage(ps.options, topic, patch, format)
	if err != nil {
		return err
	}
	return ps.deliverMessage(ctx, msg)
}

// PublishRaw publishes raw data to the specified topic.
func (ps *MemoryPubSub) PublishRaw(ctx context.Context, topic string, data []byte, format EncodingFormat) error {
	return ps.deliverMessage(ctx, rawMessage(ps.options, topic, data, format))
}

// deliverMessage queues a message for all subscribers of its topic.
// Messages without subscribers are dropped.
func (ps *MemoryPubSub) deliverMessage(ctx context.Context, msg PatchMessage) error {
	ps.mutex.RLock()
	if ps.closed {
		ps.mutex.RUnlock()
		return ErrClosed
	}
	subscribers := make([]*subscription, 0, len(ps.subscriptions[msg.Topic]))
	for _, sub := range ps.subscriptions[msg.Topic] {
		subscribers = append(subscribers, sub)
	}
	ps.mutex.RUnlock()

	for _, sub := range subscribers {
		if err := sub.deliver(ctx, msg); err != nil {
			return errors.Wrapf(err, "failed to deliver message to %s", sub.subscriberID)
		}
	}
	return nil
}

// Subscribe subscribes to the specified topic and calls the handler for each received message.
func (ps *MemoryPubSub) Subscribe(ctx context.Context, topic string, subscriberID string, handler SubscriberFunc) error {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if ps.closed {
		return ErrClosed
	}
	if _, ok := ps.subscriptions[topic][subscriberID]; ok {
		return errors.Errorf("already subscribed to topic: %s with subscriberID: %s", topic, subscriberID)
	}

	if ps.subscriptions[topic] == nil {
		ps.subscriptions[topic] = make(map[string]*subscription)
	}
	ps.subscriptions[topic][subscriberID] = newSubscription(ctx, topic, subscriberID, handler, ps.options.BufferSize, ps.log)
	ps.log.Debug("subscribed", zap.String("topic", topic), zap.String("subscriber", subscriberID))
	return nil
}

// Unsubscribe unsubscribes from the specified topic.
func (ps *MemoryPubSub) Unsubscribe(ctx context.Context, topic string, subscriberID string) error {
	ps.mutex.Lock()
	if ps.closed {
		ps.mutex.Unlock()
		return ErrClosed
	}
	sub, ok := ps.subscriptions[topic][subscriberID]
	if !ok {
		ps.mutex.Unlock()
		return errors.Errorf("subscriber %s not found for topic: %s", subscriberID, topic)
	}
	delete(ps.subscriptions[topic], subscriberID)
	if len(ps.subscriptions[topic]) == 0 {
		delete(ps.subscriptions, topic)
	}
	ps.mutex.Unlock()

	sub.stop()
	return nil
}

// SubscriberCount returns the number of subscribers of topic.
func (ps *MemoryPubSub) SubscriberCount(topic string) int {
	ps.mutex.RLock()
	defer ps.mutex.RUnlock()
	return len(ps.subscriptions[topic])
}

// Close stops all subscriptions.
func (ps *MemoryPubSub) Close() error {
	ps.mutex.Lock()
	if ps.closed {
		ps.mutex.Unlock()
		return nil
	}
	ps.closed = true
	subscriptions := ps.subscriptions
	ps.subscriptions = make(map[string]map[string]*subscription)
	ps.mutex.Unlock()

	for _, subs := range subscriptions {
		for _, sub := range subs {
			sub.stop()
		}
	}
	return nil
}
