package sqlq

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	json "github.com/goccy/go-json"
)

// Codec turns typed values into payloads and back.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

type cborCodec struct{}

func (cborCodec) Marshal(v interface{}) ([]byte, error)      { return cbor.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v interface{}) error { return cbor.Unmarshal(data, v) }

var (
	// JSON encodes payloads as JSON.
	JSON Codec = jsonCodec{}
	// CBOR encodes payloads as CBOR (RFC 8949).
	CBOR Codec = cborCodec{}
)

// Typed is a Queue whose payloads are values of T encoded with a Codec.
type Typed[T any] struct {
	queue *Queue
	codec Codec
}

// NewTyped wraps q so values of T are encoded with codec.
func NewTyped[T any](q *Queue, codec Codec) *Typed[T] {
	return &Typed[T]{queue: q, codec: codec}
}

// Queue returns the underlying byte queue.
func (t *Typed[T]) Queue() *Queue { return t.queue }

// Produce encodes every value and produces them as one batch.
func (t *Typed[T]) Produce(ctx context.Context, values ...T) error {
	if len(values) == 0 {
		return ErrNoPayloads
	}
	payloads := make([][]byte, len(values))
	for i := range values {
		p, err := t.codec.Marshal(values[i])
		if err != nil {
			return fmt.Errorf("sqlq: encoding payload %d: %w", i, err)
		}
		payloads[i] = p
	}
	return t.queue.Produce(ctx, payloads...)
}

// Consume claims a message like Queue.Consume and decodes it. If decoding
// fails the message keeps its lease and its id is still returned, so the
// caller may ack it to discard it.
func (t *Typed[T]) Consume(ctx context.Context, lease time.Duration) (id string, v T, ok bool, err error) {
	m, ok, err := t.queue.Consume(ctx, lease)
	if err != nil || !ok {
		return "", v, ok, err
	}
	if err := t.codec.Unmarshal(m.Payload, &v); err != nil {
		return m.ID, v, false, fmt.Errorf("sqlq: decoding message %s: %w", m.ID, err)
	}
	return m.ID, v, true, nil
}

// Ack is Queue.Ack.
func (t *Typed[T]) Ack(ctx context.Context, id string) error {
	return t.queue.Ack(ctx, id)
}
