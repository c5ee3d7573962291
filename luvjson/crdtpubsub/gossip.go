package crdtpubsub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"reactivecrdt/luvjson/core/lvlog"
	"reactivecrdt/luvjson/crdtpatch"
)

// NewGossipHost creates a libp2p host listening on listenAddrs. Without
// addresses it listens on a random local TCP port.
func NewGossipHost(listenAddrs ...string) (host.Host, error) {
	if len(listenAddrs) == 0 {
		listenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	}
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(listenAddrs...),
		libp2p.DisableRelay(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create libp2p host")
	}
	return h, nil
}

// GossipPubSub implements the PubSub interface on libp2p gossipsub. Each
// topic is joined once and one gossip subscription per topic feeds all local
// subscribers. Messages published locally are delivered locally as well.
type GossipPubSub struct {
	host    host.Host
	gossip  *pubsub.PubSub
	options *Options
	ctx     context.Context
	cancel  context.CancelFunc

	// topics maps topic names to joined topics.
	topics map[string]*gossipTopic
	// mutex protects topics and closed.
	mutex  sync.Mutex
	closed bool
	log    *zap.Logger
}

type gossipTopic struct {
	topic       *pubsub.Topic
	sub         *pubsub.Subscription
	done        chan struct{}
	subscribers map[string]*subscription
}

// NewGossipPubSub starts gossipsub on h. The host is closed by Close.
func NewGossipPubSub(h host.Host, options *Options) (*GossipPubSub, error) {
	if h == nil {
		return nil, errors.New("libp2p host cannot be nil")
	}
	if options == nil {
		options = NewOptions()
	}
	if _, err := GetEncoderDecoder(options.DefaultFormat); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	gossip, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to create gossipsub")
	}

	ps := &GossipPubSub{
		host:    h,
		gossip:  gossip,
		options: options,
		ctx:     ctx,
		cancel:  cancel,
		topics:  make(map[string]*gossipTopic),
		log:     lvlog.Named("pubsub.gossip").With(zap.Stringer("peer", h.ID())),
	}
	for _, addr := range ps.Addrs() {
		ps.log.Info("listening", zap.String("addr", addr))
	}
	return ps, nil
}

// Addrs returns the addresses other peers can pass to Connect.
func (ps *GossipPubSub) Addrs() []string {
	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: ps.host.ID(), Addrs: ps.host.Addrs()})
	if err != nil {
		return nil
	}
	result := make([]string, len(addrs))
	for i, addr := range addrs {
		result[i] = addr.String()
	}
	return result
}

// Connect dials peers given as multiaddrs ending in /p2p/<peer id>.
func (ps *GossipPubSub) Connect(ctx context.Context, addrs ...string) error {
	for _, addr := range addrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return errors.Wrapf(err, "invalid peer address %s", addr)
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			return errors.Wrapf(err, "invalid peer address %s", addr)
		}
		if err := ps.host.Connect(ctx, *info); err != nil {
			return errors.Wrapf(err, "failed to connect to %s", info.ID)
		}
		ps.log.Debug("connected", zap.Stringer("remote", info.ID))
	}
	return nil
}

// Peers returns the peers known to share topic.
func (ps *GossipPubSub) Peers(topic string) []peer.ID {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	t, ok := ps.topics[topic]
	if !ok {
		return nil
	}
	return t.topic.ListPeers()
}

// Publish publishes a patch to the specified topic.
func (ps *GossipPubSub) Publish(ctx context.Context, topic string, patch *crdtpatch.Patch, format EncodingFormat) error {
	msg, err := encodeMessage(ps.options, topic, patch, format)
	if err != nil {
		return err
	}
	return ps.publish(ctx, msg)
}

// PublishRaw publishes raw data to the specified topic.
func (ps *GossipPubSub) PublishRaw(ctx context.Context, topic string, data []byte, format EncodingFormat) error {
	return ps.publish(ctx, rawMessage(ps.options, topic, data, format))
}

func (ps *GossipPubSub) publish(ctx context.Context, msg PatchMessage) error {
	ps.mutex.Lock()
	if ps.closed {
		ps.mutex.Unlock()
		return ErrClosed
	}
	t, err := ps.join(msg.Topic)
	ps.mutex.Unlock()
	if err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}
	if err := t.topic.Publish(ctx, data); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", msg.Topic)
	}
	return nil
}

// join returns the joined topic, joining it on first use. It must be called
// with ps.mutex held.
func (ps *GossipPubSub) join(name string) (*gossipTopic, error) {
	if t, ok := ps.topics[name]; ok {
		return t, nil
	}
	topic, err := ps.gossip.Join(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to join topic %s", name)
	}
	t := &gossipTopic{topic: topic, subscribers: make(map[string]*subscription)}
	ps.topics[name] = t
	return t, nil
}

// Subscribe subscribes to the specified topic and calls the handler for each received message.
func (ps *GossipPubSub) Subscribe(ctx context.Context, topic string, subscriberID string, handler SubscriberFunc) error {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if ps.closed {
		return ErrClosed
	}
	t, err := ps.join(topic)
	if err != nil {
		return err
	}
	if _, ok := t.subscribers[subscriberID]; ok {
		return errors.Errorf("already subscribed to topic: %s with subscriberID: %s", topic, subscriberID)
	}

	if t.sub == nil {
		sub, err := t.topic.Subscribe()
		if err != nil {
			return errors.Wrapf(err, "failed to subscribe to topic: %s", topic)
		}
		t.sub = sub
		t.done = make(chan struct{})
		go ps.dispatch(topic, sub, t.done)
	}
	t.subscribers[subscriberID] = newSubscription(ctx, topic, subscriberID, handler, ps.options.BufferSize, ps.log)
	return nil
}

// Unsubscribe unsubscribes from the specified topic. The topic stays joined
// so it can still be published to.
func (ps *GossipPubSub) Unsubscribe(ctx context.Context, topic string, subscriberID string) error {
	ps.mutex.Lock()
	if ps.closed {
		ps.mutex.Unlock()
		return ErrClosed
	}
	t, ok := ps.topics[topic]
	var sub *subscription
	if ok {
		sub, ok = t.subscribers[subscriberID]
	}
	if !ok {
		ps.mutex.Unlock()
		return errors.Errorf("not subscribed to topic: %s with subscriberID: %s", topic, subscriberID)
	}
	delete(t.subscribers, subscriberID)
	var done chan struct{}
	if len(t.subscribers) == 0 {
		t.sub.Cancel()
		done = t.done
		t.sub, t.done = nil, nil
	}
	ps.mutex.Unlock()

	sub.stop()
	if done != nil {
		<-done
	}
	return nil
}

// dispatch routes messages of one gossip subscription to local subscribers.
func (ps *GossipPubSub) dispatch(topic string, sub *pubsub.Subscription, done chan struct{}) {
	defer close(done)

	for {
		msg, err := sub.Next(ps.ctx)
		if err != nil {
			return
		}
		var patchMsg PatchMessage
		if err := json.Unmarshal(msg.Data, &patchMsg); err != nil {
			ps.log.Warn("failed to decode message", zap.String("topic", topic), zap.Stringer("from", msg.ReceivedFrom), zap.Error(err))
			continue
		}

		ps.mutex.Lock()
		var subscribers []*subscription
		if t, ok := ps.topics[topic]; ok {
			for _, s := range t.subscribers {
				subscribers = append(subscribers, s)
			}
		}
		ps.mutex.Unlock()

		for _, s := range subscribers {
			_ = s.deliver(ps.ctx, patchMsg)
		}
	}
}

// Close stops all subscriptions, leaves every topic and closes the host.
func (ps *GossipPubSub) Close() error {
	ps.mutex.Lock()
	if ps.closed {
		ps.mutex.Unlock()
		return nil
	}
	ps.closed = true
	topics := ps.topics
	ps.topics = make(map[string]*gossipTopic)
	ps.mutex.Unlock()

	var dispatchers []chan struct{}
	for _, t := range topics {
		for _, sub := range t.subscribers {
			sub.stop()
		}
		if t.sub != nil {
			t.sub.Cancel()
			dispatchers = append(dispatchers, t.done)
		}
	}
	ps.cancel()
	for _, done := range dispatchers {
		<-done
	}

	if err := ps.host.Close(); err != nil {
		return errors.Wrap(err, "failed to close libp2p host")
	}
	return nil
}
