package crdtpubsub

import (
	"context"

	"go.uber.org/zap"
)

// subscription delivers messages to one handler in publication order.
type subscription struct {
	topic        string
	subscriberID string
	handler      SubscriberFunc
	ctx          context.Context
	cancel       context.CancelFunc
	queue        chan PatchMessage
	done         chan struct{}
	log          *zap.Logger
}

func newSubscription(ctx context.Context, topic, subscriberID string, handler SubscriberFunc, bufferSize int, log *zap.Logger) *subscription {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		topic:        topic,
		subscriberID: subscriberID,
		handler:      handler,
		ctx:          subCtx,
		cancel:       cancel,
		queue:        make(chan PatchMessage, bufferSize),
		done:         make(chan struct{}),
		log:          log,
	}
	go s.run()
	return s
}

func (s *subscription) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			if err := s.handler(s.ctx, msg.Topic, msg.Payload, msg.Format); err != nil {
				s.log.Warn("failed to handle message",
					zap.String("topic", msg.Topic),
					zap.String("subscriber", s.subscriberID),
					zap.Error(err))
			}
		}
	}
}

// deliver queues msg. It blocks while the queue is full.
func (s *subscription) deliver(ctx context.Context, msg PatchMessage) error {
	select {
	case s.queue <- msg:
		return nil
	case <-s.ctx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop cancels the subscription and waits for the running handler to return.
// It must not be called from the subscription's own handler.
func (s *subscription) stop() {
	s.cancel()
	<-s.done
}
