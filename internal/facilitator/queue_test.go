package facilitator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate/internal/chain"
	"tollgate/internal/wallet"
)

func newTestQueue(t *testing.T) (*submitQueue, *fakeLedger) {
	t.Helper()
	signer, err := wallet.Generate()
	require.NoError(t, err)
	net, ok := chain.ByChainID(testChainID)
	require.True(t, ok)
	q := newSubmitQueue(signer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(q.Close)
	return q, newFakeLedger(net)
}

func TestQueueSerializesSubmissions(t *testing.T) {
	q, ledger := newTestQueue(t)

	var inFlight, peak int32
	ledger.submitFn = func(call int, _ chain.TxRequest, _ chain.SubmitOptions) (*chain.TxResult, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &chain.TxResult{Hash: testHash(call), BlockNumber: uint64(call)}, nil
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, errs[i] = q.Submit(ctx, ledger, chain.TxRequest{}, chain.SubmitOptions{})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "submission %d", i)
	}
	assert.Equal(t, workers, ledger.submitCount())
	// The facilitator key has one nonce sequence; overlap would race it.
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestQueueExpiredContext(t *testing.T) {
	q, ledger := newTestQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Submit(ctx, ledger, chain.TxRequest{}, chain.SubmitOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, ledger.submitCount())
}

func TestQueueSubmitAfterClose(t *testing.T) {
	q, ledger := newTestQueue(t)
	q.Close()
	q.Close() // idempotent

	_, err := q.Submit(context.Background(), ledger, chain.TxRequest{}, chain.SubmitOptions{})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueCloseLeavesNoWaiter(t *testing.T) {
	q, ledger := newTestQueue(t)
	ledger.submitFn = func(call int, _ chain.TxRequest, _ chain.SubmitOptions) (*chain.TxResult, error) {
		time.Sleep(50 * time.Millisecond)
		return &chain.TxResult{Hash: testHash(call)}, nil
	}

	results := make(chan error, 2)
	submit := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := q.Submit(ctx, ledger, chain.TxRequest{}, chain.SubmitOptions{})
		results <- err
	}
	go submit()
	time.Sleep(10 * time.Millisecond) // first request is now in flight
	go submit()
	time.Sleep(10 * time.Millisecond) // second is queued behind it

	q.Close()

	// The in-flight submission finishes; the queued one either ran or
	// was answered with ErrQueueClosed. Nobody is left hanging.
	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err != nil {
				assert.ErrorIs(t, err, ErrQueueClosed)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("submission never returned after Close")
		}
	}
}
