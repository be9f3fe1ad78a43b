package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zuripay/zuri-settler/pkg/models"
)

// PostgresStore is the durable Store backend. Phase transitions are
// applied inside a transaction that locks the intent row, so the CAS
// contract holds across concurrent workers and across processes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS payment_intents (
	id                TEXT PRIMARY KEY,
	recipient         TEXT NOT NULL,
	dest_asset        TEXT NOT NULL,
	dest_amount       TEXT NOT NULL,
	pay_asset         TEXT NOT NULL,
	collector_address TEXT NOT NULL UNIQUE,
	base_amount       TEXT NOT NULL,
	fee               TEXT NOT NULL,
	amount_with_fee   TEXT NOT NULL,
	funding_tx_hash   TEXT NOT NULL DEFAULT '',
	privacy_burn_id   TEXT NOT NULL DEFAULT '',
	privacy_issue_id  TEXT NOT NULL DEFAULT '',
	payout_tx_hash    TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	reason            TEXT NOT NULL DEFAULT '',
	refund_eligible   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS payment_intents_status_idx ON payment_intents (status);

CREATE TABLE IF NOT EXISTS payment_timeline (
	intent_id  TEXT NOT NULL REFERENCES payment_intents (id),
	status     TEXT NOT NULL,
	entered_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS payment_timeline_intent_idx ON payment_timeline (intent_id);
`

// NewPostgresStore connects to the database and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() { p.pool.Close() }

func (p *PostgresStore) Create(ctx context.Context, intent *models.PaymentIntent) error {
	if intent.ID == "" {
		return &models.ValidationError{Field: "id", Msg: "must not be empty"}
	}
	if intent.CollectorAddress == "" {
		return &models.ValidationError{Field: "collector_address", Msg: "must not be empty"}
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO payment_intents
				(id, recipient, dest_asset, dest_amount, pay_asset, collector_address,
				 base_amount, fee, amount_with_fee, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			RETURNING created_at, updated_at`,
			intent.ID, intent.Recipient, intent.DestAsset, intent.DestAmount,
			intent.PayAsset, intent.CollectorAddress,
			intent.BaseAmount, intent.Fee, intent.AmountWithFee, models.StatusCreated,
		)
		if err := row.Scan(&intent.CreatedAt, &intent.UpdatedAt); err != nil {
			return fmt.Errorf("failed to insert intent: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO payment_timeline (intent_id, status, entered_at)
			VALUES ($1,$2,$3)`,
			intent.ID, models.StatusCreated, intent.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert timeline entry: %w", err)
		}
		intent.Status = models.StatusCreated
		intent.Timeline = []models.Phase{{Status: models.StatusCreated, EnteredAt: intent.CreatedAt}}
		return nil
	})
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.PaymentIntent, error) {
	rec, err := p.scanIntent(ctx, p.pool, id, false)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *PostgresStore) AttachFundingTx(ctx context.Context, id, txHash string) (*models.PaymentIntent, error) {
	if txHash == "" {
		return nil, &models.ValidationError{Field: "funding_tx_hash", Msg: "must not be empty"}
	}

	var out *models.PaymentIntent
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		rec, err := p.scanIntent(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if rec.FundingTxHash == txHash {
			out = rec
			return nil
		}
		if rec.FundingTxHash != "" {
			return &models.ConflictError{Field: "funding_tx_hash", Existing: rec.FundingTxHash, Attempt: txHash}
		}
		if rec.Status != models.StatusCreated {
			return &models.StaleStateError{ID: id, Expected: models.StatusCreated, Actual: rec.Status}
		}

		rec.FundingTxHash = txHash
		if err := p.writePhase(ctx, tx, rec, models.StatusWaitingForFunding); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

func (p *PostgresStore) AdvancePhase(ctx context.Context, id string, expectedFrom, to models.Status, ev models.Evidence) (*models.PaymentIntent, error) {
	var out *models.PaymentIntent
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		rec, err := p.scanIntent(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if rec.Status != expectedFrom {
			return &models.StaleStateError{ID: id, Expected: expectedFrom, Actual: rec.Status}
		}
		if !expectedFrom.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, expectedFrom, to)
		}
		if err := applyEvidence(rec, ev); err != nil {
			return err
		}
		if err := p.writePhase(ctx, tx, rec, to); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

func (p *PostgresStore) RecordEvidence(ctx context.Context, id string, expected models.Status, ev models.Evidence) (*models.PaymentIntent, error) {
	var out *models.PaymentIntent
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		rec, err := p.scanIntent(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if rec.Status != expected {
			return &models.StaleStateError{ID: id, Expected: expected, Actual: rec.Status}
		}
		if err := applyEvidence(rec, ev); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			UPDATE payment_intents SET
				privacy_burn_id = $2, privacy_issue_id = $3, payout_tx_hash = $4,
				reason = $5, refund_eligible = $6, updated_at = now()
			WHERE id = $1
			RETURNING updated_at`,
			rec.ID, rec.PrivacyBurnID, rec.PrivacyIssueID, rec.PayoutTxHash,
			rec.Reason, rec.RefundEligible,
		)
		if err := row.Scan(&rec.UpdatedAt); err != nil {
			return fmt.Errorf("failed to record evidence: %w", err)
		}
		out = rec
		return nil
	})
	return out, err
}

func (p *PostgresStore) ListByStatus(ctx context.Context, statuses ...models.Status) ([]*models.PaymentIntent, error) {
	vals := make([]string, len(statuses))
	for i, s := range statuses {
		vals[i] = string(s)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id FROM payment_intents WHERE status = ANY($1) ORDER BY created_at`, vals)
	if err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*models.PaymentIntent, 0, len(ids))
	for _, id := range ids {
		rec, err := p.Get(ctx, id)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (p *PostgresStore) scanIntent(ctx context.Context, q querier, id string, forUpdate bool) (*models.PaymentIntent, error) {
	query := `
		SELECT id, recipient, dest_asset, dest_amount, pay_asset, collector_address,
		       base_amount, fee, amount_with_fee, funding_tx_hash, privacy_burn_id,
		       privacy_issue_id, payout_tx_hash, status, reason, refund_eligible,
		       created_at, updated_at
		FROM payment_intents WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	rec := &models.PaymentIntent{}
	err := q.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Recipient, &rec.DestAsset, &rec.DestAmount, &rec.PayAsset,
		&rec.CollectorAddress, &rec.BaseAmount, &rec.Fee, &rec.AmountWithFee,
		&rec.FundingTxHash, &rec.PrivacyBurnID, &rec.PrivacyIssueID,
		&rec.PayoutTxHash, &rec.Status, &rec.Reason, &rec.RefundEligible,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load intent: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT status, entered_at FROM payment_timeline
		WHERE intent_id = $1 ORDER BY entered_at`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ph models.Phase
		if err := rows.Scan(&ph.Status, &ph.EnteredAt); err != nil {
			return nil, err
		}
		rec.Timeline = append(rec.Timeline, ph)
	}
	return rec, rows.Err()
}

func (p *PostgresStore) writePhase(ctx context.Context, tx pgx.Tx, rec *models.PaymentIntent, to models.Status) error {
	row := tx.QueryRow(ctx, `
		UPDATE payment_intents SET
			status = $2, funding_tx_hash = $3, privacy_burn_id = $4,
			privacy_issue_id = $5, payout_tx_hash = $6, reason = $7,
			refund_eligible = $8, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		rec.ID, to, rec.FundingTxHash, rec.PrivacyBurnID, rec.PrivacyIssueID,
		rec.PayoutTxHash, rec.Reason, rec.RefundEligible,
	)
	if err := row.Scan(&rec.UpdatedAt); err != nil {
		return fmt.Errorf("failed to update intent: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO payment_timeline (intent_id, status, entered_at)
		VALUES ($1,$2,$3)`,
		rec.ID, to, rec.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to append timeline entry: %w", err)
	}
	rec.Status = to
	rec.Timeline = append(rec.Timeline, models.Phase{Status: to, EnteredAt: rec.UpdatedAt})
	return nil
}
