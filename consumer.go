package sqlq

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultLease           = 30 * time.Second
	defaultPollInterval    = 100 * time.Millisecond
	defaultMaxPollInterval = 2 * time.Second
	defaultConcurrency     = 1
	claimRetryInterval     = 10 * time.Millisecond
	ackMaxRetries          = 3
	ackTimeout             = 5 * time.Second
)

// Handler processes one claimed message. Returning nil acks the message; an
// error leaves it to be delivered again once its lease runs out.
type Handler func(ctx context.Context, m Message) error

type ConsumerOptions struct {
	// Lease is how long a claimed message stays hidden from other consumers.
	Lease time.Duration
	// PollInterval is the first wait after finding the queue empty. Waits
	// double while it stays empty, up to MaxPollInterval.
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	// Concurrency is the number of goroutines claiming and handling messages.
	Concurrency int
}

func defaultConsumerOptions() ConsumerOptions {
	return ConsumerOptions{
		Lease:           defaultLease,
		PollInterval:    defaultPollInterval,
		MaxPollInterval: defaultMaxPollInterval,
		Concurrency:     defaultConcurrency,
	}
}

func (o *ConsumerOptions) withDefaults() ConsumerOptions {
	d := defaultConsumerOptions()
	if o == nil {
		return d
	}
	opts := *o
	if opts.Lease <= 0 {
		opts.Lease = d.Lease
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = d.PollInterval
	}
	if opts.MaxPollInterval < opts.PollInterval {
		opts.MaxPollInterval = opts.PollInterval
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = d.Concurrency
	}
	return opts
}

// Consumer polls a queue and hands each message it claims to a Handler.
type Consumer struct {
	queue       *Queue
	processFunc Handler
	opts        ConsumerOptions
	wg          sync.WaitGroup
}

// NewConsumer starts polling the queue in the background until ctx is done.
func (q *Queue) NewConsumer(ctx context.Context, handler Handler, opts *ConsumerOptions) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("sqlq: consumer needs a handler")
	}
	c := &Consumer{queue: q, processFunc: handler, opts: opts.withDefaults()}
	c.wg.Add(c.opts.Concurrency)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func(worker int) {
			defer c.wg.Done()
			c.startProcessingMessages(ctx, worker)
		}(i)
	}
	return c, nil
}

// Wait blocks until every polling goroutine has stopped.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) newIdleBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.PollInterval
	b.MaxInterval = c.opts.MaxPollInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (c *Consumer) startProcessingMessages(ctx context.Context, worker int) {
	logger := c.queue.log.With().Int("worker", worker).Logger()
	idle := c.newIdleBackOff()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Err(ctx.Err()).Msg("stopping message processing: context closed")
			return
		default:
		}

		processed, err := c.processMessage(ctx)
		var wait time.Duration
		switch {
		case err == nil && processed:
			idle.Reset()
			continue
		case err == nil:
			wait = idle.NextBackOff()
		case IsRetryable(err):
			wait = claimRetryInterval
		default:
			if ctx.Err() != nil {
				continue
			}
			logger.Error().Err(err).Msg("error pulling message")
			wait = idle.NextBackOff()
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
}

// processMessage claims at most one message and runs the handler on it.
// processed is false when the queue had nothing eligible.
func (c *Consumer) processMessage(ctx context.Context) (processed bool, err error) {
	m, ok, err := c.queue.Consume(ctx, c.opts.Lease)
	if err != nil || !ok {
		return false, err
	}
	logger := c.queue.log.With().Str("id", m.ID).Logger()
	logger.Debug().Msg("processing message")
	if err := c.processFunc(ctx, m); err != nil {
		logger.Debug().Err(err).Dur("lease", c.opts.Lease).Msg("error processing message, leaving it for redelivery")
		return true, nil
	}
	// The handler has finished, so the ack goes through even during shutdown.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	ack := func() error { return c.queue.Ack(ackCtx, m.ID) }
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(claimRetryInterval), ackMaxRetries), ackCtx)
	if err := backoff.Retry(ack, b); err != nil {
		return true, err
	}
	logger.Debug().Msg("successfully processed message")
	return true, nil
}
