package sqlq

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	messageCacheSize   = 50
	defaultFlushPeriod = 100 * time.Millisecond
	defaultMaxRetries  = 3
)

type ProducerOptions struct {
	// BatchSize is the most payloads written by one INSERT.
	BatchSize int
	// FlushPeriod bounds how long a pushed payload waits for its batch to fill.
	FlushPeriod time.Duration
	// MaxRetries is how many times a failed batch is retried before it is
	// dropped and reported to OnError.
	MaxRetries int
	OnError    func(payloads [][]byte, err error)
}

func defaultProducerOptions() ProducerOptions {
	return ProducerOptions{
		BatchSize:   messageCacheSize,
		FlushPeriod: defaultFlushPeriod,
		MaxRetries:  defaultMaxRetries,
	}
}

func (o *ProducerOptions) withDefaults() ProducerOptions {
	d := defaultProducerOptions()
	if o == nil {
		return d
	}
	opts := *o
	if opts.BatchSize <= 0 {
		opts.BatchSize = d.BatchSize
	}
	if opts.FlushPeriod <= 0 {
		opts.FlushPeriod = d.FlushPeriod
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return opts
}

// Producer batches pushed payloads in the background and writes each batch
// with a single Produce.
type Producer struct {
	queue   *Queue
	msgChan chan []byte
	opts    ProducerOptions
	done    chan struct{}
	once    sync.Once
	cancel  context.CancelFunc
	stop    <-chan struct{}

	// mu is held for reading by every Push in flight. closed is set under
	// the write lock, after which msgChan receives no more sends.
	mu     sync.RWMutex
	closed bool
}

// NewProducer starts a background batcher that runs until ctx is done or
// Close is called. Payloads still buffered at that point are flushed first.
func (q *Queue) NewProducer(ctx context.Context, opts *ProducerOptions) *Producer {
	ctx, cancel := context.WithCancel(ctx)
	p := &Producer{
		queue:  q,
		opts:   opts.withDefaults(),
		done:   make(chan struct{}),
		cancel: cancel,
		stop:   ctx.Done(),
	}
	p.msgChan = make(chan []byte, p.opts.BatchSize)
	go p.startPushingMessages(ctx)
	return p
}

// Push hands a payload to the batcher. It blocks while the buffer is full and
// returns false if the producer is stopping. A payload Push accepted is
// always written or reported to OnError.
func (p *Producer) Push(payload []byte) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.msgChan <- payload:
		return true
	case <-p.stop:
		return false
	}
}

// Close stops the producer after flushing what has been pushed.
func (p *Producer) Close() {
	p.once.Do(p.cancel)
	<-p.done
}

func (p *Producer) startPushingMessages(ctx context.Context) {
	defer close(p.done)
	logger := p.queue.log
	batch := make([][]byte, 0, p.opts.BatchSize)
	ticker := time.NewTicker(p.opts.FlushPeriod)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		p.pushMessages(batch)
		batch = make([][]byte, 0, p.opts.BatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Err(ctx.Err()).Msg("stopping message pushing: context closed")
			p.mu.Lock()
			p.closed = true
			p.mu.Unlock()
			for {
				select {
				case m := <-p.msgChan:
					batch = append(batch, m)
					if len(batch) == p.opts.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case m := <-p.msgChan:
			batch = append(batch, m)
			if len(batch) == p.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// pushMessages writes one batch. It runs outside the producer's context,
// which is already done when the final batch is flushed.
func (p *Producer) pushMessages(batch [][]byte) {
	push := func() error { return p.queue.Produce(context.Background(), batch...) }
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.opts.MaxRetries))
	if err := backoff.Retry(push, b); err != nil {
		p.queue.log.Error().Err(err).Int("count", len(batch)).Msg("error pushing messages")
		if p.opts.OnError != nil {
			p.opts.OnError(batch, err)
		}
	}
}
