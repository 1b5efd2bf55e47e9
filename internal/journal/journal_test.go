package journal

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vanshika/landgate/backend/internal/config"
	"github.com/vanshika/landgate/backend/internal/domain"
)

type recordedQuery struct {
	cypher string
	params map[string]any
}

type stubRunner struct {
	mu     sync.Mutex
	writes []recordedQuery
	reads  []recordedQuery
	rows   [][]map[string]any
	err    error
}

func (s *stubRunner) Write(_ context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.writes = append(s.writes, recordedQuery{cypher: cypher, params: params})
	return nil, nil
}

func (s *stubRunner) Read(_ context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.reads = append(s.reads, recordedQuery{cypher: cypher, params: params})
	if len(s.rows) == 0 {
		return nil, nil
	}
	rows := s.rows[0]
	s.rows = s.rows[1:]
	return rows, nil
}

func (s *stubRunner) VerifyConnectivity(context.Context) error { return s.err }

func (s *stubRunner) Close(context.Context) error { return nil }

var (
	testHash   = common.HexToHash("0xabc123")
	testSigner = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

func TestMemoryStore_SubmissionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Submission(ctx, testHash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := store.RecordSubmission(ctx, Submission{Hash: testHash, Signer: testSigner, Method: "approveTransfer", Status: StatusPending}); err != nil {
		t.Fatalf("record: %v", err)
	}
	first, _ := store.Submission(ctx, testHash)
	if first.ID == "" {
		t.Fatal("expected generated id")
	}

	if err := store.RecordSubmission(ctx, Submission{Hash: testHash, Signer: testSigner, Method: "approveTransfer", Status: StatusConfirmed, BlockNumber: 7}); err != nil {
		t.Fatalf("record update: %v", err)
	}
	got, _ := store.Submission(ctx, testHash)
	if got.ID != first.ID {
		t.Errorf("expected id to be stable, got %s then %s", first.ID, got.ID)
	}
	if got.Status != StatusConfirmed || !got.Receipt().Confirmed || got.BlockNumber != 7 {
		t.Errorf("unexpected submission %+v", got)
	}
}

func TestMemoryStore_RejectsEmptyHash(t *testing.T) {
	if err := NewMemoryStore().RecordSubmission(context.Background(), Submission{}); err == nil {
		t.Fatal("expected error for empty hash")
	}
}

func TestMemoryStore_Steps(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	receipt := domain.Receipt{Hash: testHash, Nonce: 3, Confirmed: true, Method: "completeTransfer", Signer: testSigner}

	if err := store.RecordStep(ctx, big.NewInt(4), StepComplete, receipt); err != nil {
		t.Fatalf("record step: %v", err)
	}
	got, err := store.Step(ctx, big.NewInt(4), StepComplete)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if got != receipt {
		t.Errorf("expected %+v, got %+v", receipt, got)
	}
	if _, err := store.Step(ctx, big.NewInt(4), StepApprove); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found for approve step, got %v", err)
	}
}

func TestGraphStore_RecordSubmission(t *testing.T) {
	runner := &stubRunner{}
	store := NewGraphStore(runner)
	recorded := time.UnixMilli(1700000000123).UTC()

	err := store.RecordSubmission(context.Background(), Submission{
		Hash:       testHash,
		Signer:     testSigner,
		Method:     "registerLand",
		Nonce:      9,
		Status:     StatusReverted,
		Error:      "Land ID already exists",
		RecordedAt: recorded,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if len(runner.writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(runner.writes))
	}
	call := runner.writes[0]
	if call.cypher != recordSubmissionCypher {
		t.Fatalf("unexpected query\nexpected:\n%s\ngot:\n%s", recordSubmissionCypher, call.cypher)
	}
	if call.params["hash"] != testHash.Hex() || call.params["signer"] != testSigner.Hex() {
		t.Errorf("unexpected key params %v", call.params)
	}
	if id, _ := call.params["id"].(string); id == "" {
		t.Error("expected generated id")
	}
	props, ok := call.params["props"].(map[string]any)
	if !ok {
		t.Fatalf("expected props map, got %T", call.params["props"])
	}
	if props["status"] != "reverted" || props["nonce"] != int64(9) || props["recordedAt"] != recorded.UnixMilli() {
		t.Errorf("unexpected props %v", props)
	}
}

func TestGraphStore_Submission(t *testing.T) {
	runner := &stubRunner{rows: [][]map[string]any{{{
		"id":          "sub-1",
		"hash":        testHash.Hex(),
		"signer":      testSigner.Hex(),
		"method":      "approveTransfer",
		"nonce":       int64(2),
		"status":      "confirmed",
		"blockNumber": int64(11),
		"error":       "",
		"recordedAt":  int64(1700000000000),
	}}}}
	store := NewGraphStore(runner)

	got, err := store.Submission(context.Background(), testHash)
	if err != nil {
		t.Fatalf("submission: %v", err)
	}
	if got.ID != "sub-1" || got.Signer != testSigner || got.Nonce != 2 || got.Status != StatusConfirmed || got.BlockNumber != 11 {
		t.Errorf("unexpected submission %+v", got)
	}
	if runner.reads[0].params["hash"] != testHash.Hex() {
		t.Errorf("unexpected params %v", runner.reads[0].params)
	}

	if _, err := store.Submission(context.Background(), testHash); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found on empty result, got %v", err)
	}
}

func TestGraphStore_Steps(t *testing.T) {
	runner := &stubRunner{}
	store := NewGraphStore(runner)
	receipt := domain.Receipt{Hash: testHash, Nonce: 5, Confirmed: true, BlockNumber: 3, Method: "approveTransfer", Signer: testSigner}

	if err := store.RecordStep(context.Background(), big.NewInt(12), StepApprove, receipt); err != nil {
		t.Fatalf("record step: %v", err)
	}
	call := runner.writes[0]
	if call.cypher != recordStepCypher || call.params["requestId"] != "12" || call.params["step"] != "approve" {
		t.Fatalf("unexpected write %+v", call)
	}

	runner.rows = [][]map[string]any{{{
		"hash":        testHash.Hex(),
		"signer":      testSigner.Hex(),
		"method":      "approveTransfer",
		"nonce":       int64(5),
		"status":      "confirmed",
		"blockNumber": int64(3),
	}}}
	got, err := store.Step(context.Background(), big.NewInt(12), StepApprove)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if got != receipt {
		t.Errorf("expected %+v, got %+v", receipt, got)
	}
}

func TestGraphStore_PropagatesErrors(t *testing.T) {
	boom := errors.New("bolt down")
	store := NewGraphStore(&stubRunner{err: boom})

	if err := store.RecordSubmission(context.Background(), Submission{Hash: testHash}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
	if _, err := store.Step(context.Background(), big.NewInt(1), StepComplete); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
	if err := store.Ping(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected ping error, got %v", err)
	}
}

func TestNewNeo4jRunner_RequiresURI(t *testing.T) {
	if _, err := NewNeo4jRunner(context.Background(), config.GraphConfig{}); !errors.Is(err, ErrMissingURI) {
		t.Fatalf("expected ErrMissingURI, got %v", err)
	}
}
