package game

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// RunIncomeTick credits every non-banned user's firm income and every clan's
// firm income to its treasury. Each payee is its own transaction; a failure is
// logged and the tick moves on.
func (s *Service) RunIncomeTick(ctx context.Context) (IncomeReport, error) {
	var report IncomeReport

	userRows, err := s.db.Query(ctx, `
		SELECT DISTINCT f.owner_user_id
		FROM game.firms f
		JOIN game.accounts a ON a.user_id = f.owner_user_id
		WHERE NOT a.banned
		ORDER BY f.owner_user_id
	`)
	if err != nil {
		return report, err
	}
	users, err := pgx.CollectRows(userRows, pgx.RowTo[int64])
	if err != nil {
		return report, err
	}

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		paid, err := s.payUserIncome(ctx, userID)
		if err != nil {
			report.Failures++
			s.log.Error("income credit failed", "user_id", userID, "err", err)
			continue
		}
		if paid > 0 {
			report.Users++
			report.PaidToUsers += paid
		}
	}

	clanRows, err := s.db.Query(ctx, `SELECT id FROM game.clans ORDER BY id`)
	if err != nil {
		return report, err
	}
	clans, err := pgx.CollectRows(clanRows, pgx.RowTo[int64])
	if err != nil {
		return report, err
	}

	for _, clanID := range clans {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		paid, err := s.payClanIncome(ctx, clanID)
		if err != nil {
			report.Failures++
			s.log.Error("clan income credit failed", "clan_id", clanID, "err", err)
			continue
		}
		if paid > 0 {
			report.Clans++
			report.PaidToClans += paid
		}
	}

	s.log.Info("income tick finished",
		"users", report.Users, "clans", report.Clans,
		"paid_users", report.PaidToUsers, "paid_clans", report.PaidToClans,
		"failures", report.Failures)
	return report, nil
}

func (s *Service) payUserIncome(ctx context.Context, userID int64) (int64, error) {
	var paid int64
	err := s.inTx(ctx, "income_user", func(tx pgx.Tx) error {
		paid = 0
		income, err := totalIncomeTx(ctx, tx, userID)
		if err != nil || income <= 0 {
			return err
		}
		cmd, err := tx.Exec(ctx, `
			UPDATE game.accounts
			SET balance = balance + $2, updated_at = now()
			WHERE user_id = $1 AND NOT banned
		`, userID, income)
		if err != nil || cmd.RowsAffected() == 0 {
			return err
		}
		paid = income
		return appendLedger(ctx, tx, "income",
			ledgerEntry{ledgerMint, 0, -income},
			ledgerEntry{ledgerWallet, userID, income},
		)
	})
	return paid, err
}

func (s *Service) payClanIncome(ctx context.Context, clanID int64) (int64, error) {
	var paid int64
	err := s.inTx(ctx, "income_clan", func(tx pgx.Tx) error {
		paid = 0
		income, err := clanIncomeTx(ctx, tx, clanID)
		if err != nil || income <= 0 {
			return err
		}
		_, err = creditTreasuryTx(ctx, tx, clanID, income)
		if errors.Is(err, ErrNotFound) {
			// disbanded since the scan
			return nil
		}
		if err != nil {
			return err
		}
		paid = income
		return appendLedger(ctx, tx, "clan_income",
			ledgerEntry{ledgerMint, 0, -income},
			ledgerEntry{ledgerTreasury, clanID, income},
		)
	})
	return paid, err
}

// RunAuctionExpiryTick settles every auction whose deadline has passed.
// Auctions settled concurrently elsewhere are counted as skipped.
func (s *Service) RunAuctionExpiryTick(ctx context.Context) (ExpiryReport, error) {
	var report ExpiryReport
	ids, err := s.dueAuctions(ctx)
	if err != nil {
		return report, err
	}
	report.Due = len(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		_, err := s.Settle(ctx, id)
		switch {
		case err == nil:
			report.Settled++
		case errors.Is(err, ErrAlreadySettled), errors.Is(err, ErrNotFound):
			report.Skipped++
		default:
			report.Failures++
			s.log.Error("auction settlement failed", "auction_id", id, "err", err)
		}
	}
	if report.Due > 0 {
		s.log.Info("auction tick finished", "due", report.Due, "settled", report.Settled,
			"skipped", report.Skipped, "failures", report.Failures)
	}
	return report, nil
}
