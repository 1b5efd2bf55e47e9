// Package txqueue serializes ledger submissions per signer. Each signer gets
// one lane: a goroutine draining a FIFO channel that owns the signer's nonce.
// Lanes for different signers run concurrently.
package txqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vanshika/landgate/backend/internal/apperrors"
	"github.com/vanshika/landgate/backend/internal/domain"
	"github.com/vanshika/landgate/backend/internal/journal"
	"github.com/vanshika/landgate/backend/internal/ledger"
	"github.com/vanshika/landgate/backend/internal/metrics"
	"github.com/vanshika/landgate/backend/internal/telemetry"
)

// ErrClosed is returned for submissions made after Close.
var ErrClosed = errors.New("transaction queue closed")

// Recorder receives the outcome of every broadcast transaction.
type Recorder interface {
	RecordSubmission(ctx context.Context, sub journal.Submission) error
}

// Options tunes lane behaviour.
type Options struct {
	// ConfirmTimeout bounds the wait for a receipt after broadcast.
	ConfirmTimeout time.Duration
	// Depth is the number of jobs a lane buffers before Submit blocks.
	Depth int
}

// Queue hands out lanes and routes submissions to them.
type Queue struct {
	writer   ledger.Writer
	recorder Recorder
	logger   *slog.Logger
	tracer   trace.Tracer
	opts     Options

	mu     sync.RWMutex
	closed bool

	lanesMu sync.Mutex
	lanes   map[common.Address]*lane

	wg sync.WaitGroup
}

type lane struct {
	signer common.Address
	label  string
	jobs   chan *job

	// Owned by the lane goroutine.
	nonce  uint64
	synced bool
}

type job struct {
	ctx    context.Context
	signer ledger.Signer
	calls  []ledger.Call
	done   chan result
}

type result struct {
	receipts []domain.Receipt
	err      error
}

// New builds a queue over writer. recorder may be nil.
func New(writer ledger.Writer, recorder Recorder, logger *slog.Logger, opts Options) *Queue {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 60 * time.Second
	}
	if opts.Depth <= 0 {
		opts.Depth = 64
	}
	return &Queue{
		writer:   writer,
		recorder: recorder,
		logger:   logger.With("component", "txqueue"),
		tracer:   telemetry.Tracer(),
		opts:     opts,
		lanes:    make(map[common.Address]*lane),
	}
}

// Submit runs one call through signer's lane and waits for its confirmation.
func (q *Queue) Submit(ctx context.Context, signer ledger.Signer, call ledger.Call) (domain.Receipt, error) {
	receipts, err := q.SubmitSequence(ctx, signer, []ledger.Call{call})
	if err != nil {
		return domain.Receipt{}, err
	}
	return receipts[0], nil
}

// SubmitSequence runs calls back to back as one lane job, with consecutive
// nonces and no other job of the same signer interleaved. It stops at the
// first failure and returns the receipts of the calls that confirmed.
//
// Once admitted the job runs to completion even if ctx ends; the caller then
// gets ctx's error and the outcome is left in the journal.
func (q *Queue) SubmitSequence(ctx context.Context, signer ledger.Signer, calls []ledger.Call) ([]domain.Receipt, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	j := &job{
		ctx:    context.WithoutCancel(ctx),
		signer: signer,
		calls:  calls,
		done:   make(chan result, 1),
	}
	if err := q.admit(ctx, j); err != nil {
		return nil, err
	}

	select {
	case res := <-j.done:
		return res.receipts, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) admit(ctx context.Context, j *job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return apperrors.Wrap(apperrors.CodeLedgerUnavailable, "submission queue is shutting down", ErrClosed)
	}

	l := q.laneFor(j.signer.Address())
	metrics.QueueDepth(l.label, 1)
	select {
	case l.jobs <- j:
		return nil
	case <-ctx.Done():
		metrics.QueueDepth(l.label, -1)
		return ctx.Err()
	}
}

func (q *Queue) laneFor(addr common.Address) *lane {
	q.lanesMu.Lock()
	defer q.lanesMu.Unlock()

	if l, ok := q.lanes[addr]; ok {
		return l
	}
	l := &lane{
		signer: addr,
		label:  addr.Hex(),
		jobs:   make(chan *job, q.opts.Depth),
	}
	q.lanes[addr] = l
	q.wg.Add(1)
	go q.run(l)
	return l
}

// Close stops accepting submissions and waits until every admitted job has
// finished or ctx ends.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.lanesMu.Lock()
		for _, l := range q.lanes {
			close(l.jobs)
		}
		q.lanesMu.Unlock()
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run(l *lane) {
	defer q.wg.Done()
	for j := range l.jobs {
		res := q.process(l, j)
		metrics.QueueDepth(l.label, -1)
		j.done <- res
	}
}

func (q *Queue) process(l *lane, j *job) result {
	receipts := make([]domain.Receipt, 0, len(j.calls))
	for _, call := range j.calls {
		receipt, err := q.submitOne(j.ctx, l, j.signer, call)
		if err != nil {
			return result{receipts: receipts, err: err}
		}
		receipts = append(receipts, receipt)
	}
	return result{receipts: receipts}
}

func (q *Queue) submitOne(ctx context.Context, l *lane, signer ledger.Signer, call ledger.Call) (receipt domain.Receipt, err error) {
	ctx, span := q.tracer.Start(ctx, "ledger."+call.Method, trace.WithAttributes(
		attribute.String("ledger.signer", l.label),
		attribute.String("ledger.method", call.Method),
	))
	start := time.Now()
	outcome := "confirmed"
	defer func() {
		metrics.ObserveSubmission(call.Method, outcome, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	hash, nonce, err := q.broadcast(ctx, l, signer, call)
	if err != nil {
		outcome = outcomeOf(err)
		return domain.Receipt{}, err
	}
	span.SetAttributes(attribute.Int64("ledger.nonce", int64(nonce)), attribute.String("ledger.tx", hash.Hex()))

	sub := journal.Submission{
		Hash:   hash,
		Signer: l.signer,
		Method: call.Method,
		Nonce:  nonce,
		Status: journal.StatusPending,
	}
	q.record(ctx, sub)

	waitCtx, cancel := context.WithTimeout(ctx, q.opts.ConfirmTimeout)
	conf, err := q.writer.WaitConfirmed(waitCtx, hash)
	cancel()

	meta := map[string]string{"method": call.Method, "transactionHash": hash.Hex()}
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		// The transaction may still be mined; resync before the next job.
		l.synced = false
		outcome = "timeout"
		sub.Status = journal.StatusTimeout
		sub.Error = "confirmation timed out"
		q.record(ctx, sub)
		return domain.Receipt{}, apperrors.WrapWithMetadata(apperrors.CodeSubmissionTimeout,
			"transaction was broadcast but not confirmed in time; re-read ledger state", meta, err)
	case err != nil:
		outcome = "unavailable"
		sub.Status = journal.StatusFailed
		sub.Error = err.Error()
		q.record(ctx, sub)
		return domain.Receipt{}, apperrors.WrapWithMetadata(apperrors.CodeLedgerUnavailable,
			"could not confirm transaction", meta, err)
	case conf.Reverted:
		outcome = "reverted"
		sub.Status = journal.StatusReverted
		sub.BlockNumber = conf.BlockNumber
		sub.Error = "reverted on chain"
		q.record(ctx, sub)
		return domain.Receipt{}, apperrors.WrapWithMetadata(apperrors.CodeTransactionReverted,
			"transaction reverted", meta, &ledger.RevertError{})
	}

	sub.Status = journal.StatusConfirmed
	sub.BlockNumber = conf.BlockNumber
	q.record(ctx, sub)

	q.logger.Debug("transaction confirmed",
		"signer", l.label,
		"method", call.Method,
		"nonce", nonce,
		"tx", hash.Hex(),
		"block", conf.BlockNumber,
	)
	return sub.Receipt(), nil
}

// broadcast assigns the lane's next nonce and sends call. The nonce advances
// only when the node accepts the transaction. A nonce rejection means nothing
// was accepted, so it resyncs and tries once more.
func (q *Queue) broadcast(ctx context.Context, l *lane, signer ledger.Signer, call ledger.Call) (common.Hash, uint64, error) {
	for attempt := 0; ; attempt++ {
		if !l.synced {
			next, err := q.writer.PendingNonce(ctx, l.signer)
			if err != nil {
				return common.Hash{}, 0, apperrors.Wrap(apperrors.CodeLedgerUnavailable, "could not read signer nonce", err)
			}
			l.nonce = next
			l.synced = true
		}

		nonce := l.nonce
		hash, err := q.writer.Send(ctx, signer, nonce, call)
		if err == nil {
			l.nonce++
			return hash, nonce, nil
		}

		if rev, ok := ledger.IsRevert(err); ok {
			reason := rev.Reason
			if reason == "" {
				reason = "transaction reverted"
			}
			return common.Hash{}, 0, apperrors.WrapWithMetadata(apperrors.CodeTransactionReverted, reason,
				map[string]string{"method": call.Method, "reason": rev.Reason}, err)
		}
		if errors.Is(err, ledger.ErrInvalidCall) {
			return common.Hash{}, 0, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid arguments for "+call.Method, err)
		}

		l.synced = false
		if errors.Is(err, ledger.ErrNonceMismatch) && attempt == 0 {
			q.logger.Warn("nonce rejected, resyncing", "signer", l.label, "method", call.Method, "nonce", nonce)
			continue
		}
		return common.Hash{}, 0, apperrors.Wrap(apperrors.CodeLedgerUnavailable, "could not submit "+call.Method, err)
	}
}

func (q *Queue) record(ctx context.Context, sub journal.Submission) {
	if q.recorder == nil {
		return
	}
	if err := q.recorder.RecordSubmission(ctx, sub); err != nil {
		q.logger.Warn("journal write failed", "tx", sub.Hash.Hex(), "status", sub.Status, "error", err)
	}
}

func outcomeOf(err error) string {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeTransactionReverted:
		return "reverted"
	case apperrors.CodeInvalidArgument:
		return "invalid"
	default:
		return "unavailable"
	}
}
