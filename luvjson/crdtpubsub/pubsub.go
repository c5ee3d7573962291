package crdtpubsub

import (
	"context"

	"github.com/pkg/errors"

	"reactivecrdt/luvjson/crdtpatch"
)

// ErrClosed is returned by operations on a closed PubSub.
var ErrClosed = errors.New("pubsub is closed")

// EncodingFormat represents the format used to encode CRDT patches.
type EncodingFormat string

const (
	// EncodingFormatJSON represents JSON encoding.
	EncodingFormatJSON EncodingFormat = "json"
	// EncodingFormatBase64 represents base64 encoded JSON.
	EncodingFormatBase64 EncodingFormat = "base64"
)

// PatchMessage represents a message containing a CRDT patch.
type PatchMessage struct {
	// Topic is the topic the message was published to.
	Topic string `json:"topic"`
	// Payload is the encoded patch data.
	Payload []byte `json:"payload"`
	// Format is the encoding format used for the payload.
	Format EncodingFormat `json:"format"`
	// Metadata is optional metadata associated with the message.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SubscriberFunc handles a received message. Calls for one subscription are
// sequential and follow publication order.
type SubscriberFunc func(ctx context.Context, topic string, data []byte, format EncodingFormat) error

// Publisher defines the interface for publishing CRDT patches.
type Publisher interface {
	// Publish publishes a patch to the specified topic.
	Publish(ctx context.Context, topic string, patch *crdtpatch.Patch, format EncodingFormat) error
	// PublishRaw publishes raw data to the specified topic.
	PublishRaw(ctx context.Context, topic string, data []byte, format EncodingFormat) error
	// Close closes the publisher.
	Close() error
}

// Subscriber defines the interface for subscribing to CRDT patches.
type Subscriber interface {
	// Subscribe subscribes to the specified topic and calls the handler for each received message.
	Subscribe(ctx context.Context, topic string, subscriberID string, handler SubscriberFunc) error
	// Unsubscribe unsubscribes from the specified topic.
	Unsubscribe(ctx context.Context, topic string, subscriberID string) error
	// Close closes the subscriber.
	Close() error
}

// PubSub combines the Publisher and Subscriber interfaces.
type PubSub interface {
	Publisher
	Subscriber
}

// Options represents configuration options for a PubSub implementation.
type Options struct {
	// DefaultFormat is the encoding format used when Publish gets none.
	DefaultFormat EncodingFormat
	// BufferSize is the number of messages queued per subscriber before
	// publishing blocks.
	BufferSize int
	// ClientID identifies this process in message metadata.
	ClientID string
}

// NewOptions creates a new Options with default values.
func NewOptions() *Options {
	return &Options{
		DefaultFormat: EncodingFormatJSON,
		BufferSize:    256,
	}
}

// encodeMessage builds the message for a patch.
func encodeMessage(options *Options, topic string, patch *crdtpatch.Patch, format EncodingFormat) (PatchMessage, error) {
	if format == "" {
		format = options.DefaultFormat
	}
	encoder, err := GetEncoderDecoder(format)
	if err != nil {
		return PatchMessage{}, err
	}
	data, err := encoder.Encode(patch)
	if err != nil {
		return PatchMessage{}, errors.Wrap(err, "failed to encode patch")
	}
	return rawMessage(options, topic, data, format), nil
}

func rawMessage(options *Options, topic string, data []byte, format EncodingFormat) PatchMessage {
	if format == "" {
		format = options.DefaultFormat
	}
	metadata := map[string]string{"format": string(format)}
	if options.ClientID != "" {
		metadata["client"] = options.ClientID
	}
	return PatchMessage{
		Topic:    topic,
		Payload:  data,
		Format:   format,
		Metadata: metadata,
	}
}
