package crdtpubsub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"reactivecrdt/luvjson/core/lvlog"
	"reactivecrdt/luvjson/crdtpatch"
)

// RedisPubSub implements the PubSub interface on Redis channels. One Redis
// subscription connection is shared by all local subscribers; a dispatcher
// routes each message to the subscribers of its channel.
type RedisPubSub struct {
	// client is the Redis client.
	client *redis.Client
	// pubsub is the shared Redis subscription connection.
	pubsub *redis.PubSub
	// options contains the configuration options.
	options *Options
	// subscriptions maps topic to subscriber ID to subscription.
	subscriptions map[string]map[string]*subscription
	// mutex protects the subscriptions map.
	mutex sync.RWMutex
	// closed indicates whether the PubSub has been closed.
	closed bool
	// done is closed when the dispatcher stopped.
	done chan struct{}
	log  *zap.Logger
}

// NewRedisPubSub creates a new RedisPubSub with the specified Redis client and options.
// The client is closed by Close.
func NewRedisPubSub(client *redis.Client, options *Options) (*RedisPubSub, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if options == nil {
		options = NewOptions()
	}
	if _, err := GetEncoderDecoder(options.DefaultFormat); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	ps := &RedisPubSub{
		client:        client,
		pubsub:        client.Subscribe(context.Background()),
		options:       options,
		subscriptions: make(map[string]map[string]*subscription),
		done:          make(chan struct{}),
		log:           lvlog.Named("pubsub.redis"),
	}
	go ps.dispatch()
	return ps, nil
}

// Publish publishes a patch to the specified topic.
func (ps *RedisPubSub) Publish(ctx context.Context, topic string, patch *crdtpatch.Patch, format EncodingFormat) error {
	msg, err := encodeMessage(ps.options, topic, patch, format)
	if err != nil {
		return err
	}
	return ps.publish(ctx, msg)
}

// PublishRaw publishes raw data to the specified topic.
func (ps *RedisPubSub) PublishRaw(ctx context.Context, topic string, data []byte, format EncodingFormat) error {
	return ps.publish(ctx, rawMessage(ps.options, topic, data, format))
}

func (ps *RedisPubSub) publish(ctx context.Context, msg PatchMessage) error {
	ps.mutex.RLock()
	closed := ps.closed
	ps.mutex.RUnlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}
	if err := ps.client.Publish(ctx, msg.Topic, data).Err(); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", msg.Topic)
	}
	return nil
}

// Subscribe subscribes to the specified topic and calls the handler for each received message.
func (ps *RedisPubSub) Subscribe(ctx context.Context, topic string, subscriberID string, handler SubscriberFunc) error {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if ps.closed {
		return ErrClosed
	}
	if _, ok := ps.subscriptions[topic][subscriberID]; ok {
		return errors.Errorf("already subscribed to topic: %s with subscriberID: %s", topic, subscriberID)
	}

	if ps.subscriptions[topic] == nil {
		if err := ps.pubsub.Subscribe(ctx, topic); err != nil {
			return errors.Wrapf(err, "failed to subscribe to topic: %s", topic)
		}
		ps.subscriptions[topic] = make(map[string]*subscription)
	}
	ps.subscriptions[topic][subscriberID] = newSubscription(ctx, topic, subscriberID, handler, ps.options.BufferSize, ps.log)
	return nil
}

// Unsubscribe unsubscribes from the specified topic.
func (ps *RedisPubSub) Unsubscribe(ctx context.Context, topic string, subscriberID string) error {
	ps.mutex.Lock()
	if ps.closed {
		ps.mutex.Unlock()
		return ErrClosed
	}
	sub, ok := ps.subscriptions[topic][subscriberID]
	if !ok {
		ps.mutex.Unlock()
		return errors.Errorf("not subscribed to topic: %s with subscriberID: %s", topic, subscriberID)
	}
	delete(ps.subscriptions[topic], subscriberID)
	var err error
	if len(ps.subscriptions[topic]) == 0 {
		delete(ps.subscriptions, topic)
		err = ps.pubsub.Unsubscribe(ctx, topic)
	}
	ps.mutex.Unlock()

	sub.stop()
	if err != nil {
		return errors.Wrapf(err, "failed to unsubscribe from topic: %s", topic)
	}
	return nil
}

// dispatch routes messages from the shared connection to local subscribers.
func (ps *RedisPubSub) dispatch() {
	defer close(ps.done)

	for msg := range ps.pubsub.Channel() {
		var patchMsg PatchMessage
		if err := json.Unmarshal([]byte(msg.Payload), &patchMsg); err != nil {
			ps.log.Warn("failed to decode message", zap.String("channel", msg.Channel), zap.Error(err))
			continue
		}

		ps.mutex.RLock()
		subscribers := make([]*subscription, 0, len(ps.subscriptions[msg.Channel]))
		for _, sub := range ps.subscriptions[msg.Channel] {
			subscribers = append(subscribers, sub)
		}
		ps.mutex.RUnlock()

		for _, sub := range subscribers {
			_ = sub.deliver(context.Background(), patchMsg)
		}
	}
}

// Close stops all subscriptions and closes the Redis client.
func (ps *RedisPubSub) Close() error {
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

	if err := ps.pubsub.Close(); err != nil {
		return errors.Wrap(err, "failed to close pubsub client")
	}
	<-ps.done

	if err := ps.client.Close(); err != nil {
		return errors.Wrap(err, "failed to close Redis client")
	}
	return nil
}
