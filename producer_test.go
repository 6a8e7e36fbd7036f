package sqlq

import (
	"context"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestProducerShouldBatchInOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	q, err := newSQLiteClient(t).Acquire(ctx, "producer")
	require.NoError(t, err)

	p := q.NewProducer(ctx, &ProducerOptions{BatchSize: 2, FlushPeriod: time.Millisecond})
	for i := 0; i < 5; i++ {
		require.True(t, p.Push([]byte("payload"+strconv.Itoa(i))))
	}
	p.Close()
	require.False(t, p.Push([]byte("late")))

	for i := 0; i < 5; i++ {
		m, ok, err := q.Consume(ctx, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "payload"+strconv.Itoa(i), string(m.Payload))
	}
	_, ok, err := q.Consume(ctx, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProducerShouldReportFailedBatch(t *testing.T) {
	q, mock := newMockQueue(t, "postgres")

	mock.
		ExpectExec(regexp.QuoteMeta(`INSERT INTO "q_orders" (id, payload) VALUES`)).
		WithArgs("id-1", []byte("random payload")).
		WillReturnError(sqlmock.ErrCancelled)

	failed := make(chan [][]byte, 1)
	p := q.NewProducer(context.Background(), &ProducerOptions{
		BatchSize:   1,
		MaxRetries:  0,
		FlushPeriod: time.Hour,
		OnError: func(payloads [][]byte, err error) {
			failed <- payloads
		},
	})
	require.True(t, p.Push([]byte("random payload")))

	select {
	case payloads := <-failed:
		require.Equal(t, [][]byte{[]byte("random payload")}, payloads)
	case <-time.After(2 * time.Second):
		t.Fatal("timed-out waiting for failed batch")
	}
	p.Close()
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProducerShouldFlushOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	q, err := newSQLiteClient(t).Acquire(context.Background(), "producer_flush")
	require.NoError(t, err)

	p := q.NewProducer(ctx, &ProducerOptions{BatchSize: 10, FlushPeriod: time.Hour})
	require.True(t, p.Push([]byte("buffered")))
	cancel()
	p.Close()

	m, ok, err := q.Consume(context.Background(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "buffered", string(m.Payload))
}

func TestProducerCloseShouldWriteEveryAcceptedPush(t *testing.T) {
	ctx := context.Background()
	q, err := newSQLiteClient(t).Acquire(ctx, "producer_close")
	require.NoError(t, err)

	p := q.NewProducer(ctx, &ProducerOptions{BatchSize: 10, FlushPeriod: time.Millisecond})
	var (
		accepted int64
		wg       sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p.Push([]byte("payload")) {
				atomic.AddInt64(&accepted, 1)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	p.Close()
	wg.Wait()
	require.False(t, p.Push([]byte("late")))

	var stored int64
	require.NoError(t, q.client.db.GetContext(ctx, &stored, `SELECT COUNT(*) FROM "q_producer_close"`))
	require.Positive(t, stored)
	require.Equal(t, atomic.LoadInt64(&accepted), stored)
}
