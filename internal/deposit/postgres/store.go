package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/poolshare-fi/pool-gateway/internal/deposit"
)

var ErrInvalidConfig = errors.New("deposit/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	_, err := s.pool.Exec(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("deposit/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, rec deposit.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("deposit/postgres: create: empty id")
	}
	if rec.Status == deposit.StatusUnknown {
		rec.Status = deposit.StatusPending
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pool_deposits (
			deposit_id,
			source_chain,
			destination_chain,
			amount,
			user_address,
			status,
			bridge_tx,
			vault_tx,
			fail_reason,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),NULLIF($8,''),NULLIF($9,''),$10,now())
		ON CONFLICT (deposit_id) DO NOTHING
	`, rec.ID,
		rec.SourceChain,
		rec.DestinationChain,
		rec.Amount,
		rec.UserAddress.Bytes(),
		int16(rec.Status),
		rec.BridgeTx,
		rec.VaultTx,
		rec.FailReason,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("deposit/postgres: insert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", deposit.ErrDuplicateID, rec.ID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (deposit.Record, error) {
	if s == nil || s.pool == nil {
		return deposit.Record{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	var (
		rec            deposit.Record
		userAddressRaw []byte
		status         int16
		bridgeTx       *string
		vaultTx        *string
		failReason     *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT
			deposit_id,
			source_chain,
			destination_chain,
			amount,
			user_address,
			status,
			bridge_tx,
			vault_tx,
			fail_reason,
			created_at,
			updated_at
		FROM pool_deposits
		WHERE deposit_id = $1
	`, id).Scan(
		&rec.ID,
		&rec.SourceChain,
		&rec.DestinationChain,
		&rec.Amount,
		&userAddressRaw,
		&status,
		&bridgeTx,
		&vaultTx,
		&failReason,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return deposit.Record{}, deposit.ErrNotFound
		}
		return deposit.Record{}, fmt.Errorf("deposit/postgres: get: %w", err)
	}

	if len(userAddressRaw) != 20 {
		return deposit.Record{}, fmt.Errorf("deposit/postgres: expected 20-byte address, got %d", len(userAddressRaw))
	}
	rec.UserAddress = common.BytesToAddress(userAddressRaw)
	rec.Status = deposit.Status(status)
	if bridgeTx != nil {
		rec.BridgeTx = *bridgeTx
	}
	if vaultTx != nil {
		rec.VaultTx = *vaultTx
	}
	if failReason != nil {
		rec.FailReason = *failReason
	}
	return rec, nil
}

func (s *Store) MarkGatewayComplete(ctx context.Context, id string, bridgeTx string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == deposit.StatusGatewayComplete && rec.BridgeTx == bridgeTx {
		return nil
	}
	if rec.Status != deposit.StatusPending {
		return fmt.Errorf("%w: %s -> gateway_complete", deposit.ErrInvalidTransition, rec.Status)
	}

	// Guarded on the expected status so the transition stays a single
	// atomic step even when racing another writer.
	tag, err := s.pool.Exec(ctx, `
		UPDATE pool_deposits
		SET status = $2, bridge_tx = $3, updated_at = now()
		WHERE deposit_id = $1 AND status = $4
	`, id, int16(deposit.StatusGatewayComplete), bridgeTx, int16(deposit.StatusPending))
	if err != nil {
		return fmt.Errorf("deposit/postgres: mark gateway complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: concurrent update on %s", deposit.ErrInvalidTransition, id)
	}
	return nil
}

func (s *Store) MarkVaultComplete(ctx context.Context, id string, vaultTx string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == deposit.StatusVaultComplete && rec.VaultTx == vaultTx {
		return nil
	}
	if rec.Status != deposit.StatusGatewayComplete {
		return fmt.Errorf("%w: %s -> vault_complete", deposit.ErrInvalidTransition, rec.Status)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE pool_deposits
		SET status = $2, vault_tx = $3, updated_at = now()
		WHERE deposit_id = $1 AND status = $4
	`, id, int16(deposit.StatusVaultComplete), vaultTx, int16(deposit.StatusGatewayComplete))
	if err != nil {
		return fmt.Errorf("deposit/postgres: mark vault complete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: concurrent update on %s", deposit.ErrInvalidTransition, id)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == deposit.StatusFailed {
		return nil
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("%w: %s -> failed", deposit.ErrInvalidTransition, rec.Status)
	}

	// bridge_tx is intentionally untouched: a vault-stage failure leaves
	// the bridged funds observable.
	tag, err := s.pool.Exec(ctx, `
		UPDATE pool_deposits
		SET status = $2, fail_reason = $3, updated_at = now()
		WHERE deposit_id = $1 AND status IN ($4, $5)
	`, id, int16(deposit.StatusFailed), reason,
		int16(deposit.StatusPending), int16(deposit.StatusGatewayComplete))
	if err != nil {
		return fmt.Errorf("deposit/postgres: mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: concurrent update on %s", deposit.ErrInvalidTransition, id)
	}
	return nil
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]deposit.Record, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if limit <= 0 {
		limit = int(^uint(0) >> 1)
	}

	rows, err := s.pool.Query(ctx, `
		DELETE FROM pool_deposits
		WHERE deposit_id IN (
			SELECT deposit_id
			FROM pool_deposits
			WHERE created_at < $1
			ORDER BY created_at ASC, deposit_id ASC
			LIMIT $2
		)
		RETURNING
			deposit_id,
			source_chain,
			destination_chain,
			amount,
			user_address,
			status,
			bridge_tx,
			vault_tx,
			fail_reason,
			created_at,
			updated_at
	`, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("deposit/postgres: delete older than: %w", err)
	}
	defer rows.Close()

	var out []deposit.Record
	for rows.Next() {
		var (
			rec            deposit.Record
			userAddressRaw []byte
			status         int16
			bridgeTx       *string
			vaultTx        *string
			failReason     *string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.SourceChain,
			&rec.DestinationChain,
			&rec.Amount,
			&userAddressRaw,
			&status,
			&bridgeTx,
			&vaultTx,
			&failReason,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("deposit/postgres: scan evicted row: %w", err)
		}
		if len(userAddressRaw) != 20 {
			return nil, fmt.Errorf("deposit/postgres: expected 20-byte address, got %d", len(userAddressRaw))
		}
		rec.UserAddress = common.BytesToAddress(userAddressRaw)
		rec.Status = deposit.Status(status)
		if bridgeTx != nil {
			rec.BridgeTx = *bridgeTx
		}
		if vaultTx != nil {
			rec.VaultTx = *vaultTx
		}
		if failReason != nil {
			rec.FailReason = *failReason
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deposit/postgres: delete older than rows: %w", err)
	}
	return out, nil
}

var _ deposit.Store = (*Store)(nil)
