package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LeaderboardCache stores the rendered top list between requests.
type LeaderboardCache interface {
	GetLeaderboard(ctx context.Context, limit int) ([]LeaderboardRow, bool, error)
	SetLeaderboard(ctx context.Context, limit int, rows []LeaderboardRow) error
}

type Service struct {
	db    *pgxpool.Pool
	log   *slog.Logger
	now   func() time.Time
	board LeaderboardCache
}

type Option func(*Service)

// WithClock replaces the wall clock used for auction deadlines and daily claims.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLeaderboardCache(c LeaderboardCache) Option {
	return func(s *Service) { s.board = c }
}

func NewService(db *pgxpool.Pool, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		db:  db,
		log: logger,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type idempotencyCtxKey struct{}

type idempotencyClaim struct {
	userID int64
	key    string
}

// WithIdempotencyKey makes the next mutating call on ctx claim key for userID
// inside its transaction. A replayed key fails with ErrDuplicateIdempotency.
func WithIdempotencyKey(ctx context.Context, userID int64, key string) context.Context {
	key = strings.TrimSpace(key)
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyCtxKey{}, idempotencyClaim{userID: userID, key: key})
}

// inTx runs fn in a READ COMMITTED transaction, retrying serialization
// failures and deadlocks with backoff.
func (s *Service) inTx(ctx context.Context, action string, fn func(tx pgx.Tx) error) error {
	const maxAttempts = 8
	retryDelay := 25 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.runTx(ctx, action, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		s.log.Debug("transaction retry", "action", action, "attempt", attempt+1, "err", err)
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func (s *Service) runTx(ctx context.Context, action string, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin %s: %w", action, err)
	}
	defer tx.Rollback(ctx)

	if claim, ok := ctx.Value(idempotencyCtxKey{}).(idempotencyClaim); ok {
		if err := claimIdempotency(ctx, tx, claim.userID, claim.key, action); err != nil {
			return err
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", action, err)
	}
	return nil
}

func claimIdempotency(ctx context.Context, tx pgx.Tx, userID int64, key, action string) error {
	cmd, err := tx.Exec(ctx, `
		INSERT INTO game.idempotency_keys (user_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO NOTHING
	`, userID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateIdempotency
	}
	return nil
}

// PruneIdempotencyKeys drops journaled keys older than keep. A pruned key can
// be used again.
func (s *Service) PruneIdempotencyKeys(ctx context.Context, keep time.Duration) (int64, error) {
	cmd, err := s.db.Exec(ctx, `DELETE FROM game.idempotency_keys WHERE created_at < $1`, s.now().Add(-keep))
	if err != nil {
		return 0, fmt.Errorf("prune idempotency keys: %w", err)
	}
	return cmd.RowsAffected(), nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const (
	ledgerWallet   = "wallet"
	ledgerTreasury = "treasury"
	ledgerEscrow   = "escrow"
	ledgerMint     = "mint"
)

type ledgerEntry struct {
	account string
	ownerID int64
	delta   int64
}

// appendLedger records one balanced movement. The deltas of a group sum to zero.
func appendLedger(ctx context.Context, tx pgx.Tx, reason string, entries ...ledgerEntry) error {
	groupID := uuid.New()
	for _, e := range entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.ledger_entries (tx_group_id, account, owner_id, delta, reason)
			VALUES ($1, $2, $3, $4, $5)
		`, groupID, e.account, e.ownerID, e.delta, reason); err != nil {
			return fmt.Errorf("append ledger: %w", err)
		}
	}
	return nil
}

// lockAccounts takes row locks on the given accounts in ascending id order and
// fails with ErrNotRegistered naming the first missing one.
func lockAccounts(ctx context.Context, tx pgx.Tx, userIDs ...int64) error {
	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	rows, err := tx.Query(ctx, `
		SELECT user_id
		FROM game.accounts
		WHERE user_id = ANY($1)
		ORDER BY user_id
		FOR NO KEY UPDATE
	`, ids)
	if err != nil {
		return err
	}
	found := make(map[int64]bool, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		found[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range ids {
		if !found[id] {
			return fmt.Errorf("%w: %w", ErrNotRegistered, notFound("account", id))
		}
	}
	return nil
}

func accountExists(ctx context.Context, tx pgx.Tx, userID int64) (bool, error) {
	var ok bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM game.accounts WHERE user_id = $1)`, userID).Scan(&ok)
	return ok, err
}

func creditWalletTx(ctx context.Context, tx pgx.Tx, userID, amount int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE game.accounts
		SET balance = balance + $2, updated_at = now()
		WHERE user_id = $1
		RETURNING balance
	`, userID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %w", ErrNotRegistered, notFound("account", userID))
	}
	return balance, err
}

// debitWalletTx subtracts amount in a single conditional statement.
func debitWalletTx(ctx context.Context, tx pgx.Tx, userID, amount int64) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE game.accounts
		SET balance = balance - $2, updated_at = now()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance
	`, userID, amount).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	ok, err := accountExists(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %w", ErrNotRegistered, notFound("account", userID))
	}
	return 0, ErrInsufficientFunds
}

func creditTreasuryTx(ctx context.Context, tx pgx.Tx, clanID, amount int64) (int64, error) {
	var treasury int64
	err := tx.QueryRow(ctx, `
		UPDATE game.clans
		SET treasury = treasury + $2
		WHERE id = $1
		RETURNING treasury
	`, clanID, amount).Scan(&treasury)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, notFound("clan", clanID)
	}
	return treasury, err
}
