package journal

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/vanshika/landgate/backend/internal/domain"
)

// Runner executes cypher statements against the graph database.
type Runner interface {
	Write(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	VerifyConnectivity(ctx context.Context) error
	Close(ctx context.Context) error
}

const recordSubmissionCypher = `
MERGE (s:Signer {address: $signer})
MERGE (sub:Submission {hash: $hash})
ON CREATE SET sub.id = $id
SET sub += $props
MERGE (s)-[:SUBMITTED]->(sub)
`

const submissionCypher = `
MATCH (sub:Submission {hash: $hash})
RETURN sub.id AS id, sub.hash AS hash, sub.signer AS signer, sub.method AS method,
       sub.nonce AS nonce, sub.status AS status, sub.blockNumber AS blockNumber,
       sub.error AS error, sub.recordedAt AS recordedAt
`

const recordStepCypher = `
MERGE (t:TransferRequest {requestId: $requestId})
MERGE (sub:Submission {hash: $hash})
ON CREATE SET sub.id = $id
SET sub += $props
MERGE (t)-[r:STEP {step: $step}]->(sub)
SET r.recordedAt = $recordedAt
`

const stepCypher = `
MATCH (:TransferRequest {requestId: $requestId})-[r:STEP {step: $step}]->(sub:Submission)
RETURN sub.hash AS hash, sub.signer AS signer, sub.method AS method, sub.nonce AS nonce,
       sub.status AS status, sub.blockNumber AS blockNumber
ORDER BY r.recordedAt DESC
LIMIT 1
`

// GraphStore persists the journal as (:Signer)-[:SUBMITTED]->(:Submission)
// and (:TransferRequest)-[:STEP]->(:Submission).
type GraphStore struct {
	runner Runner
}

// NewGraphStore wraps a runner.
func NewGraphStore(runner Runner) *GraphStore {
	return &GraphStore{runner: runner}
}

func (g *GraphStore) RecordSubmission(ctx context.Context, sub Submission) error {
	if sub.Hash == (common.Hash{}) {
		return fmt.Errorf("record submission: empty hash")
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.RecordedAt.IsZero() {
		sub.RecordedAt = time.Now().UTC()
	}

	params := map[string]any{
		"signer": sub.Signer.Hex(),
		"hash":   sub.Hash.Hex(),
		"id":     sub.ID,
		"props": map[string]any{
			"signer":      sub.Signer.Hex(),
			"method":      sub.Method,
			"nonce":       int64(sub.Nonce),
			"status":      string(sub.Status),
			"blockNumber": int64(sub.BlockNumber),
			"error":       sub.Error,
			"recordedAt":  sub.RecordedAt.UnixMilli(),
		},
	}
	if _, err := g.runner.Write(ctx, recordSubmissionCypher, params); err != nil {
		return fmt.Errorf("record submission %s: %w", sub.Hash.Hex(), err)
	}
	return nil
}

func (g *GraphStore) Submission(ctx context.Context, hash common.Hash) (Submission, error) {
	rows, err := g.runner.Read(ctx, submissionCypher, map[string]any{"hash": hash.Hex()})
	if err != nil {
		return Submission{}, fmt.Errorf("read submission %s: %w", hash.Hex(), err)
	}
	if len(rows) == 0 {
		return Submission{}, fmt.Errorf("submission %s: %w", hash.Hex(), ErrNotFound)
	}
	row := rows[0]
	return Submission{
		ID:          asString(row["id"]),
		Hash:        common.HexToHash(asString(row["hash"])),
		Signer:      common.HexToAddress(asString(row["signer"])),
		Method:      asString(row["method"]),
		Nonce:       uint64(asInt64(row["nonce"])),
		Status:      Status(asString(row["status"])),
		BlockNumber: uint64(asInt64(row["blockNumber"])),
		Error:       asString(row["error"]),
		RecordedAt:  time.UnixMilli(asInt64(row["recordedAt"])).UTC(),
	}, nil
}

func (g *GraphStore) RecordStep(ctx context.Context, requestID *big.Int, step Step, receipt domain.Receipt) error {
	status := StatusPending
	if receipt.Confirmed {
		status = StatusConfirmed
	}
	now := time.Now().UTC().UnixMilli()
	params := map[string]any{
		"requestId":  requestID.String(),
		"hash":       receipt.Hash.Hex(),
		"id":         uuid.NewString(),
		"step":       string(step),
		"recordedAt": now,
		"props": map[string]any{
			"signer":      receipt.Signer.Hex(),
			"method":      receipt.Method,
			"nonce":       int64(receipt.Nonce),
			"status":      string(status),
			"blockNumber": int64(receipt.BlockNumber),
			"recordedAt":  now,
		},
	}
	if _, err := g.runner.Write(ctx, recordStepCypher, params); err != nil {
		return fmt.Errorf("record transfer %s step %s: %w", requestID, step, err)
	}
	return nil
}

func (g *GraphStore) Step(ctx context.Context, requestID *big.Int, step Step) (domain.Receipt, error) {
	rows, err := g.runner.Read(ctx, stepCypher, map[string]any{
		"requestId": requestID.String(),
		"step":      string(step),
	})
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("read transfer %s step %s: %w", requestID, step, err)
	}
	if len(rows) == 0 {
		return domain.Receipt{}, fmt.Errorf("transfer %s step %s: %w", requestID, step, ErrNotFound)
	}
	row := rows[0]
	return domain.Receipt{
		Hash:        common.HexToHash(asString(row["hash"])),
		Signer:      common.HexToAddress(asString(row["signer"])),
		Method:      asString(row["method"]),
		Nonce:       uint64(asInt64(row["nonce"])),
		Confirmed:   Status(asString(row["status"])) == StatusConfirmed,
		BlockNumber: uint64(asInt64(row["blockNumber"])),
	}, nil
}

func (g *GraphStore) Ping(ctx context.Context) error {
	return g.runner.VerifyConnectivity(ctx)
}

func (g *GraphStore) Close(ctx context.Context) error {
	return g.runner.Close(ctx)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
