package facilitator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"tollgate/internal/chain"
)

// ErrQueueClosed is returned for submissions that arrive while the
// facilitator is shutting down.
var ErrQueueClosed = errors.New("submit queue closed")

const submitQueueDepth = 64

// submitQueue serializes every transaction signed with the facilitator
// key. A single goroutine owns the signer and processes requests in
// arrival order, which pins the account nonce sequence and keeps
// concurrent settlements from racing each other in the mempool.
type submitQueue struct {
	signer   chain.TxSigner
	requests chan *submitRequest
	stopped  chan struct{}
	done     chan struct{}
	once     sync.Once
	log      *slog.Logger
}

type submitRequest struct {
	ctx    context.Context
	ledger Ledger
	req    chain.TxRequest
	opts   chain.SubmitOptions
	reply  chan submitReply
}

type submitReply struct {
	result *chain.TxResult
	err    error
}

func newSubmitQueue(signer chain.TxSigner, log *slog.Logger) *submitQueue {
	q := &submitQueue{
		signer:   signer,
		requests: make(chan *submitRequest, submitQueueDepth),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
		log:      log,
	}
	go q.run()
	return q
}

func (q *submitQueue) run() {
	defer close(q.done)
	for {
		select {
		case req := <-q.requests:
			q.process(req)
		case <-q.stopped:
			// Answer anything still queued so no caller hangs.
			for {
				select {
				case req := <-q.requests:
					req.reply <- submitReply{err: ErrQueueClosed}
				default:
					return
				}
			}
		}
	}
}

func (q *submitQueue) process(req *submitRequest) {
	// A request can sit in the queue past its deadline while an earlier
	// settlement waits for confirmation; don't start work that cannot
	// finish.
	if err := req.ctx.Err(); err != nil {
		req.reply <- submitReply{err: err}
		return
	}
	result, err := req.ledger.Submit(req.ctx, q.signer, req.req, req.opts)
	req.reply <- submitReply{result: result, err: err}
}

// Submit runs one transaction through the queue and waits for its
// outcome. Every request carries a deadline, so the wait is bounded by
// the deadlines of the requests ahead of it plus its own.
func (q *submitQueue) Submit(ctx context.Context, ledger Ledger, req chain.TxRequest, opts chain.SubmitOptions) (*chain.TxResult, error) {
	if depth := len(q.requests); depth > submitQueueDepth/2 {
		q.log.Warn("settlement submit queue backing up", "depth", depth)
	}

	r := &submitRequest{ctx: ctx, ledger: ledger, req: req, opts: opts, reply: make(chan submitReply, 1)}
	select {
	case q.requests <- r:
	case <-q.stopped:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// The worker answers every dequeued request even after its context
	// expires, so once enqueued the only other exit is queue shutdown.
	select {
	case reply := <-r.reply:
		return reply.result, reply.err
	case <-q.done:
		select {
		case reply := <-r.reply:
			return reply.result, reply.err
		default:
			return nil, ErrQueueClosed
		}
	}
}

// Close stops the worker after it finishes the submission in flight and
// fails anything still queued. Safe to call more than once.
func (q *submitQueue) Close() {
	q.once.Do(func() { close(q.stopped) })
	<-q.done
}
