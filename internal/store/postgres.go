package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"cosmossdk.io/math"
	"github.com/lib/pq"

	"github.com/abyssgrid/gridmarket/internal/types"
)

//go:embed schema.sql
var schemaFile embed.FS

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig holds database connection settings.
type PostgresConfig struct {
	URL            string
	MaxConnections int
	MaxIdle        int
	ConnMaxLife    time.Duration
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLife)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// InitSchema creates marketplace tables if they do not exist.
func (s *PostgresStore) InitSchema() error {
	schema, err := schemaFile.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const providerColumns = `peer_id, stake_amount, trust_score, success_rate,
	total_jobs, successful_jobs, slash_count, zk_verified_count, created_at, updated_at`

func scanProvider(row interface{ Scan(...interface{}) error }) (*types.Provider, error) {
	var (
		p                             types.Provider
		stake, trust, successRate     string
	)
	err := row.Scan(&p.PeerID, &stake, &trust, &successRate,
		&p.TotalJobs, &p.SuccessfulJobs, &p.SlashCount, &p.ZkVerifiedCount,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.StakeAmount, err = math.LegacyNewDecFromStr(stake); err != nil {
		return nil, fmt.Errorf("invalid stake amount %q: %w", stake, err)
	}
	if p.TrustScore, err = math.LegacyNewDecFromStr(trust); err != nil {
		return nil, fmt.Errorf("invalid trust score %q: %w", trust, err)
	}
	if p.SuccessRate, err = math.LegacyNewDecFromStr(successRate); err != nil {
		return nil, fmt.Errorf("invalid success rate %q: %w", successRate, err)
	}
	return &p, nil
}

// GetProvider returns the provider record for a peer id.
func (s *PostgresStore) GetProvider(ctx context.Context, peerID string) (*types.Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM compute_providers WHERE peer_id = $1`, peerID)
	p, err := scanProvider(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrProviderNotFound.Wrapf("peer %s", peerID)
	}
	if err != nil {
		return nil, types.ErrStorageFailed.Wrapf("get provider: %v", err)
	}
	return p, nil
}

// PutProvider upserts the provider record.
func (s *PostgresStore) PutProvider(ctx context.Context, p *types.Provider) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO compute_providers (`+providerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (peer_id) DO UPDATE SET
			stake_amount = $2, trust_score = $3, success_rate = $4,
			total_jobs = $5, successful_jobs = $6, slash_count = $7,
			zk_verified_count = $8, updated_at = $10`,
		p.PeerID, p.StakeAmount.String(), p.TrustScore.String(), p.SuccessRate.String(),
		p.TotalJobs, p.SuccessfulJobs, p.SlashCount, p.ZkVerifiedCount,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return types.ErrStorageFailed.Wrapf("put provider: %v", err)
	}
	return nil
}

// ListProviders returns all provider records.
func (s *PostgresStore) ListProviders(ctx context.Context) ([]*types.Provider, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM compute_providers`)
	if err != nil {
		return nil, types.ErrStorageFailed.Wrapf("list providers: %v", err)
	}
	defer rows.Close()

	var out []*types.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, types.ErrStorageFailed.Wrapf("scan provider: %v", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.ErrStorageFailed.Wrapf("list providers: %v", err)
	}
	return out, nil
}

// PutReceipt stores an execution receipt.
func (s *PostgresStore) PutReceipt(ctx context.Context, r *types.Receipt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_receipts (
			receipt_id, job_id, peer_id, input_hash, output_hash, logs_hash,
			merkle_proof, ts, execution_time_ms, block_height_anchor,
			proof, public_inputs_root, output_root, program_hash, zk_verified
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (receipt_id) DO NOTHING`,
		r.ReceiptID, r.JobID, r.PeerID, r.InputHash, r.OutputHash, r.LogsHash,
		r.MerkleProof, r.Timestamp, r.ExecutionTimeMs, nullableInt64(r.BlockHeightAnchor),
		nullableString(r.Proof), nullableString(r.PublicInputsRoot),
		nullableString(r.OutputRoot), nullableString(r.ProgramHash), r.ZkVerified)
	if err != nil {
		return types.ErrStorageFailed.Wrapf("put receipt: %v", err)
	}
	return nil
}

const receiptColumns = `receipt_id, job_id, peer_id, input_hash, output_hash, logs_hash,
	merkle_proof, ts, execution_time_ms, block_height_anchor,
	proof, public_inputs_root, output_root, program_hash, zk_verified`

func scanReceipt(row interface{ Scan(...interface{}) error }) (*types.Receipt, error) {
	var (
		r                               types.Receipt
		anchor                          sql.NullInt64
		proof, pubRoot, outRoot, pgHash sql.NullString
	)
	err := row.Scan(&r.ReceiptID, &r.JobID, &r.PeerID, &r.InputHash, &r.OutputHash,
		&r.LogsHash, &r.MerkleProof, &r.Timestamp, &r.ExecutionTimeMs, &anchor,
		&proof, &pubRoot, &outRoot, &pgHash, &r.ZkVerified)
	if err != nil {
		return nil, err
	}
	r.BlockHeightAnchor = anchor.Int64
	r.Proof = proof.String
	r.PublicInputsRoot = pubRoot.String
	r.OutputRoot = outRoot.String
	r.ProgramHash = pgHash.String
	return &r, nil
}

// GetReceipt returns a receipt by id.
func (s *PostgresStore) GetReceipt(ctx context.Context, receiptID string) (*types.Receipt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM execution_receipts WHERE receipt_id = $1`, receiptID)
	r, err := scanReceipt(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrReceiptNotFound.Wrapf("receipt %s", receiptID)
	}
	if err != nil {
		return nil, types.ErrStorageFailed.Wrapf("get receipt: %v", err)
	}
	return r, nil
}

// ReceiptsByPeer returns all receipts recorded for an executor.
func (s *PostgresStore) ReceiptsByPeer(ctx context.Context, peerID string) ([]*types.Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM execution_receipts WHERE peer_id = $1`, peerID)
	if err != nil {
		return nil, types.ErrStorageFailed.Wrapf("receipts by peer: %v", err)
	}
	defer rows.Close()

	var out []*types.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, types.ErrStorageFailed.Wrapf("scan receipt: %v", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, types.ErrStorageFailed.Wrapf("receipts by peer: %v", err)
	}
	return out, nil
}

// AppendClaim records a settlement claim.
func (s *PostgresStore) AppendClaim(ctx context.Context, c *types.MiningClaim) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mining_claims (provider_id, cycle_id, cycles_claimed,
			zk_proof_count, reward_cgt, receipt_ids, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ProviderID, c.CycleID, c.CyclesClaimed, c.ZkProofCount,
		c.RewardAmount.String(), pq.Array(c.ReceiptIDs), c.ClaimedAt)
	if err != nil {
		return types.ErrStorageFailed.Wrapf("append claim: %v", err)
	}
	return nil
}

// ClaimsByProvider returns all claims recorded for a provider.
func (s *PostgresStore) ClaimsByProvider(ctx context.Context, providerID string) ([]*types.MiningClaim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id, cycle_id, cycles_claimed, zk_proof_count,
			reward_cgt, receipt_ids, claimed_at
		FROM mining_claims WHERE provider_id = $1 ORDER BY id`, providerID)
	if err != nil {
		return nil, types.ErrStorageFailed.Wrapf("claims by provider: %v", err)
	}
	defer rows.Close()

	var out []*types.MiningClaim
	for rows.Next() {
		var (
			c      types.MiningClaim
			reward string
		)
		if err := rows.Scan(&c.ProviderID, &c.CycleID, &c.CyclesClaimed,
			&c.ZkProofCount, &reward, pq.Array(&c.ReceiptIDs), &c.ClaimedAt); err != nil {
			return nil, types.ErrStorageFailed.Wrapf("scan claim: %v", err)
		}
		if c.RewardAmount, err = math.LegacyNewDecFromStr(reward); err != nil {
			return nil, types.ErrStorageFailed.Wrapf("invalid reward amount %q: %v", reward, err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, types.ErrStorageFailed.Wrapf("claims by provider: %v", err)
	}
	return out, nil
}

// IsCycleClaimed reports whether a cycle id was already settled.
func (s *PostgresStore) IsCycleClaimed(ctx context.Context, providerID, cycleID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM claimed_cycles WHERE provider_id = $1 AND cycle_id = $2)`,
		providerID, cycleID).Scan(&exists)
	if err != nil {
		return false, types.ErrStorageFailed.Wrapf("cycle claimed check: %v", err)
	}
	return exists, nil
}

// MarkCyclesClaimed marks cycle ids as settled for a provider.
func (s *PostgresStore) MarkCyclesClaimed(ctx context.Context, providerID string, cycleIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.ErrStorageFailed.Wrapf("begin tx: %v", err)
	}
	defer tx.Rollback()

	for _, id := range cycleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO claimed_cycles (provider_id, cycle_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`, providerID, id); err != nil {
			return types.ErrStorageFailed.Wrapf("mark cycle claimed: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return types.ErrStorageFailed.Wrapf("commit: %v", err)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

var _ Store = (*PostgresStore)(nil)
