package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const accountColumns = `user_id, username, balance, donation_tokens, banned, last_daily_claim, referred_by, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	err := row.Scan(&a.UserID, &a.Username, &a.Balance, &a.DonationTokens, &a.Banned, &a.LastDailyClaim, &a.ReferredBy, &a.CreatedAt)
	return a, err
}

// inReadTx gives fn one consistent snapshot for multi-query reads.
func (s *Service) inReadTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Register creates the account with the starting balance. A valid referrer
// (registered, not the user itself) receives the referral bonus in the same
// transaction.
func (s *Service) Register(ctx context.Context, userID int64, username string, referrer *int64) (Account, error) {
	if userID <= 0 {
		return Account{}, invalid("user id must be positive")
	}
	username = strings.TrimSpace(username)

	var out Account
	err := s.inTx(ctx, "register", func(tx pgx.Tx) error {
		a, err := scanAccount(tx.QueryRow(ctx, `
			INSERT INTO game.accounts (user_id, username, balance)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO NOTHING
			RETURNING `+accountColumns,
			userID, username, StartingBalance))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAlreadyExists
		}
		if err != nil {
			return err
		}
		if err := appendLedger(ctx, tx, "starting_balance",
			ledgerEntry{ledgerMint, 0, -StartingBalance},
			ledgerEntry{ledgerWallet, userID, StartingBalance},
		); err != nil {
			return err
		}

		if referrer != nil && *referrer != userID {
			cmd, err := tx.Exec(ctx, `
				UPDATE game.accounts
				SET balance = balance + $2,
				    donation_tokens = donation_tokens + $3,
				    updated_at = now()
				WHERE user_id = $1
			`, *referrer, ReferralBonus, ReferralTokenBonus)
			if err != nil {
				return err
			}
			if cmd.RowsAffected() == 1 {
				a, err = scanAccount(tx.QueryRow(ctx, `
					UPDATE game.accounts SET referred_by = $2 WHERE user_id = $1
					RETURNING `+accountColumns, userID, *referrer))
				if err != nil {
					return err
				}
				if err := appendLedger(ctx, tx, "referral_bonus",
					ledgerEntry{ledgerMint, 0, -ReferralBonus},
					ledgerEntry{ledgerWallet, *referrer, ReferralBonus},
				); err != nil {
					return err
				}
			}
		}
		out = a
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	s.log.Info("account registered", "user_id", userID, "referred_by", out.ReferredBy)
	return out, nil
}

func (s *Service) GetAccount(ctx context.Context, userID int64) (Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM game.accounts WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, fmt.Errorf("%w: %w", ErrNotRegistered, notFound("account", userID))
	}
	return a, err
}

// Credit adds amount to the user's balance.
func (s *Service) Credit(ctx context.Context, userID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, invalid("amount must be > 0")
	}
	var balance int64
	err := s.inTx(ctx, "credit", func(tx pgx.Tx) error {
		var err error
		balance, err = creditWalletTx(ctx, tx, userID, amount)
		if err != nil {
			return err
		}
		return appendLedger(ctx, tx, "credit",
			ledgerEntry{ledgerMint, 0, -amount},
			ledgerEntry{ledgerWallet, userID, amount},
		)
	})
	return balance, err
}

// Debit removes amount from the user's balance, or fails with
// ErrInsufficientFunds without touching it.
func (s *Service) Debit(ctx context.Context, userID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, invalid("amount must be > 0")
	}
	var balance int64
	err := s.inTx(ctx, "debit", func(tx pgx.Tx) error {
		var err error
		balance, err = debitWalletTx(ctx, tx, userID, amount)
		if err != nil {
			return err
		}
		return appendLedger(ctx, tx, "debit",
			ledgerEntry{ledgerWallet, userID, -amount},
			ledgerEntry{ledgerMint, 0, amount},
		)
	})
	return balance, err
}

// CreditTokens adjusts the donation token counter; negative amounts may not
// take it below zero.
func (s *Service) CreditTokens(ctx context.Context, userID, amount int64) (int64, error) {
	if amount == 0 {
		return 0, invalid("amount must be non-zero")
	}
	var tokens int64
	err := s.inTx(ctx, "credit_tokens", func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE game.accounts
			SET donation_tokens = donation_tokens + $2, updated_at = now()
			WHERE user_id = $1 AND donation_tokens + $2 >= 0
			RETURNING donation_tokens
		`, userID, amount).Scan(&tokens)
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		ok, err := accountExists(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %w", ErrNotRegistered, notFound("account", userID))
		}
		return ErrInsufficientFunds
	})
	return tokens, err
}

// ClaimDaily pays the daily reward at most once per DailyCooldown.
func (s *Service) ClaimDaily(ctx context.Context, userID int64) (DailyClaim, error) {
	now := s.now()
	out := DailyClaim{Reward: DailyReward, Next: now.Add(DailyCooldown)}
	err := s.inTx(ctx, "claim_daily", func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE game.accounts
			SET balance = balance + $2, last_daily_claim = $3, updated_at = now()
			WHERE user_id = $1 AND (last_daily_claim IS NULL OR last_daily_claim <= $4)
			RETURNING balance
		`, userID, DailyReward, now, now.Add(-DailyCooldown)).Scan(&out.Balance)
		if err == nil {
			return appendLedger(ctx, tx, "daily_reward",
				ledgerEntry{ledgerMint, 0, -DailyReward},
				ledgerEntry{ledgerWallet, userID, DailyReward},
			)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		var last *time.Time
		err = tx.QueryRow(ctx, `SELECT last_daily_claim FROM game.accounts WHERE user_id = $1`, userID).Scan(&last)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %w", ErrNotRegistered, notFound("account", userID))
		}
		if err != nil {
			return err
		}
		next := now
		if last != nil {
			next = last.Add(DailyCooldown)
		}
		return TooSoonError{Next: next}
	})
	if err != nil {
		return DailyClaim{}, err
	}
	return out, nil
}

func (s *Service) SetBanned(ctx context.Context, userID int64, banned bool) error {
	err := s.inTx(ctx, "set_banned", func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, `
			UPDATE game.accounts
			SET banned = $2, updated_at = now()
			WHERE user_id = $1
		`, userID, banned)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return fmt.Errorf("%w: %w", ErrNotRegistered, notFound("account", userID))
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("account ban updated", "user_id", userID, "banned", banned)
	return nil
}

// GetProfile assembles the account, per-type firm counts, income and clan from
// one snapshot.
func (s *Service) GetProfile(ctx context.Context, userID int64) (Profile, error) {
	var out Profile
	err := s.inReadTx(ctx, func(tx pgx.Tx) error {
		a, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM game.accounts WHERE user_id = $1`, userID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %w", ErrNotRegistered, notFound("account", userID))
		}
		if err != nil {
			return err
		}
		out.Account = a

		rows, err := tx.Query(ctx, `
			SELECT firm_type, COUNT(*)
			FROM game.firms
			WHERE owner_user_id = $1
			GROUP BY firm_type
			ORDER BY firm_type
		`, userID)
		if err != nil {
			return err
		}
		counts := make(map[int]int)
		for rows.Next() {
			var ft, n int
			if err := rows.Scan(&ft, &n); err != nil {
				rows.Close()
				return err
			}
			counts[ft] = n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, ft := range FirmTypes() {
			if n := counts[ft.ID]; n > 0 {
				out.Firms = append(out.Firms, FirmTypeCount{FirmType: ft.ID, Name: ft.Name, Count: n, Max: MaxFirmsPerType})
			}
		}
		out.Custom = counts[CustomFirmType]

		if out.Income, err = totalIncomeTx(ctx, tx, userID); err != nil {
			return err
		}

		var c ClanSummary
		err = tx.QueryRow(ctx, `
			SELECT c.id, c.name, c.emblem
			FROM game.clan_members m
			JOIN game.clans c ON c.id = m.clan_id
			WHERE m.user_id = $1
		`, userID).Scan(&c.ID, &c.Name, &c.Emblem)
		switch {
		case err == nil:
			out.Clan = &c
		case !errors.Is(err, pgx.ErrNoRows):
			return err
		}
		return nil
	})
	return out, err
}

// Leaderboard returns the richest non-banned accounts.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 || limit > 100 {
		limit = 5
	}
	if s.board != nil {
		rows, ok, err := s.board.GetLeaderboard(ctx, limit)
		if err != nil {
			s.log.Warn("leaderboard cache read failed", "err", err)
		} else if ok {
			return rows, nil
		}
	}

	rows, err := s.db.Query(ctx, `
		SELECT user_id, username, balance
		FROM game.accounts
		WHERE banned = false
		ORDER BY balance DESC, user_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]LeaderboardRow, 0, limit)
	var rank int64
	for rows.Next() {
		var r LeaderboardRow
		if err := rows.Scan(&r.UserID, &r.Username, &r.Balance); err != nil {
			return nil, err
		}
		rank++
		r.Rank = rank
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.board != nil {
		if err := s.board.SetLeaderboard(ctx, limit, out); err != nil {
			s.log.Warn("leaderboard cache write failed", "err", err)
		}
	}
	return out, nil
}
