package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"smartBin/internal/domain/model"
	"smartBin/internal/domain/repository"
)

// PostgresLedgerStore is the durable copy of the reward ledger.
// Account rows carry the ledger's version; an upsert only wins over an older version, so
// writes that arrive out of order after concurrent mutations still converge to the newest state.
type PostgresLedgerStore struct {
	pool *pgxpool.Pool
}

var _ repository.LedgerStore = (*PostgresLedgerStore)(nil)

// NewPostgresLedgerStore connects a pool and makes sure the tables exist.
func NewPostgresLedgerStore(ctx context.Context, url string) (*PostgresLedgerStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}
	s := &PostgresLedgerStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create ledger tables: %w", err)
	}
	return s, nil
}

func (s *PostgresLedgerStore) Close() {
	s.pool.Close()
}

func (s *PostgresLedgerStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_accounts (
			user_id           TEXT PRIMARY KEY,
			credit_balance    BIGINT NOT NULL CHECK (credit_balance >= 0),
			bottles_submitted BIGINT NOT NULL,
			total_earned      BIGINT NOT NULL,
			total_redeemed    BIGINT NOT NULL,
			version           BIGINT NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS ledger_bottle_submissions (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL REFERENCES ledger_accounts (user_id),
			ts                TIMESTAMPTZ NOT NULL,
			credits_awarded   BIGINT NOT NULL,
			resulting_balance BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS ledger_bottle_submissions_user_ts ON ledger_bottle_submissions (user_id, ts);
		CREATE TABLE IF NOT EXISTS ledger_redemptions (
			id                TEXT PRIMARY KEY,
			user_id           TEXT NOT NULL REFERENCES ledger_accounts (user_id),
			ts                TIMESTAMPTZ NOT NULL,
			item_id           TEXT NOT NULL,
			credits_spent     BIGINT NOT NULL,
			resulting_balance BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS ledger_redemptions_user_ts ON ledger_redemptions (user_id, ts);
	`)
	return err
}

const upsertAccountSQL = `
	INSERT INTO ledger_accounts (
		user_id, credit_balance, bottles_submitted, total_earned, total_redeemed, version, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (user_id) DO UPDATE SET
		credit_balance    = EXCLUDED.credit_balance,
		bottles_submitted = EXCLUDED.bottles_submitted,
		total_earned      = EXCLUDED.total_earned,
		total_redeemed    = EXCLUDED.total_redeemed,
		version           = EXCLUDED.version,
		updated_at        = EXCLUDED.updated_at
	WHERE ledger_accounts.version < EXCLUDED.version
`

func upsertAccount(ctx context.Context, tx pgx.Tx, a model.Account) error {
	_, err := tx.Exec(ctx, upsertAccountSQL,
		a.UserID, a.CreditBalance, a.BottlesSubmitted, a.TotalEarned, a.TotalRedeemed, a.Version, a.CreatedAt, a.UpdatedAt)
	return err
}

// SaveAccount upserts the account row unless a newer version is stored
func (s *PostgresLedgerStore) SaveAccount(ctx context.Context, account model.Account) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return upsertAccount(ctx, tx, account)
	})
}

// AppendSubmission stores the submission record together with the account snapshot it produced
func (s *PostgresLedgerStore) AppendSubmission(ctx context.Context, rec model.BottleSubmission, account model.Account) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := upsertAccount(ctx, tx, account); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_bottle_submissions (id, user_id, ts, credits_awarded, resulting_balance)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, rec.ID, rec.UserID, rec.Timestamp, rec.CreditsAwarded, rec.ResultingBalance)
		return err
	})
}

// AppendRedemption stores the redemption record together with the account snapshot it produced
func (s *PostgresLedgerStore) AppendRedemption(ctx context.Context, rec model.Redemption, account model.Account) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := upsertAccount(ctx, tx, account); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_redemptions (id, user_id, ts, item_id, credits_spent, resulting_balance)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, rec.ID, rec.UserID, rec.Timestamp, rec.ItemID, rec.CreditsSpent, rec.ResultingBalance)
		return err
	})
}

// LoadAccounts reads every account with its audit trails, oldest records first
func (s *PostgresLedgerStore) LoadAccounts(ctx context.Context) ([]model.AccountState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, credit_balance, bottles_submitted, total_earned, total_redeemed, version, created_at, updated_at
		FROM ledger_accounts
		ORDER BY user_id
	`)
	if err != nil {
		return nil, err
	}
	states := make([]model.AccountState, 0)
	index := make(map[string]int)
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.UserID, &a.CreditBalance, &a.BottlesSubmitted, &a.TotalEarned,
			&a.TotalRedeemed, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		index[a.UserID] = len(states)
		states = append(states, model.AccountState{Account: a})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, user_id, ts, credits_awarded, resulting_balance
		FROM ledger_bottle_submissions
		ORDER BY user_id, ts, resulting_balance
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var rec model.BottleSubmission
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Timestamp, &rec.CreditsAwarded, &rec.ResultingBalance); err != nil {
			rows.Close()
			return nil, err
		}
		if i, ok := index[rec.UserID]; ok {
			states[i].Submissions = append(states[i].Submissions, rec)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, user_id, ts, item_id, credits_spent, resulting_balance
		FROM ledger_redemptions
		ORDER BY user_id, ts, resulting_balance DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var rec model.Redemption
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Timestamp, &rec.ItemID, &rec.CreditsSpent, &rec.ResultingBalance); err != nil {
			return nil, err
		}
		if i, ok := index[rec.UserID]; ok {
			states[i].Redemptions = append(states[i].Redemptions, rec)
		}
	}
	return states, rows.Err()
}
