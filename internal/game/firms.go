package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const firmColumns = `id, owner_user_id, owner_clan_id, firm_type, purchase_time, workers, custom_name, custom_income`

func scanFirm(row rowScanner) (Firm, error) {
	var f Firm
	var userID, clanID *int64
	if err := row.Scan(&f.ID, &userID, &clanID, &f.FirmType, &f.PurchaseTime, &f.Workers, &f.CustomName, &f.CustomIncome); err != nil {
		return Firm{}, err
	}
	owner, err := ownerFromColumns(userID, clanID)
	if err != nil {
		return Firm{}, fmt.Errorf("firm %d: %w", f.ID, err)
	}
	f.Owner = owner
	return f, nil
}

func collectFirms(rows pgx.Rows) ([]Firm, error) {
	defer rows.Close()
	var out []Firm
	for rows.Next() {
		f, err := scanFirm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func insertFirmTx(ctx context.Context, tx pgx.Tx, owner Owner, firmType int, customName *string, customIncome *int64, at time.Time) (Firm, error) {
	if !owner.Valid() {
		return Firm{}, fmt.Errorf("insert firm: invalid owner")
	}
	userID, clanID := owner.columns()
	return scanFirm(tx.QueryRow(ctx, `
		INSERT INTO game.firms (owner_user_id, owner_clan_id, firm_type, purchase_time, custom_name, custom_income)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+firmColumns,
		userID, clanID, firmType, at, customName, customIncome))
}

// PurchaseFirm buys a catalog firm. The per-type cap check, the debit and the
// insert run under the buyer's account lock so racing purchases serialize.
func (s *Service) PurchaseFirm(ctx context.Context, userID int64, firmType int) (Firm, error) {
	ft, ok := LookupFirmType(firmType)
	if !ok {
		return Firm{}, invalid("unknown firm type %d", firmType)
	}

	var out Firm
	err := s.inTx(ctx, "purchase_firm", func(tx pgx.Tx) error {
		if err := lockAccounts(ctx, tx, userID); err != nil {
			return err
		}
		var owned int
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM game.firms
			WHERE owner_user_id = $1 AND firm_type = $2
		`, userID, ft.ID).Scan(&owned); err != nil {
			return err
		}
		if owned >= MaxFirmsPerType {
			return CapExceededError{Kind: CapFirmsPerType, Limit: MaxFirmsPerType}
		}
		if _, err := debitWalletTx(ctx, tx, userID, ft.Price); err != nil {
			return err
		}
		f, err := insertFirmTx(ctx, tx, UserOwner(userID), ft.ID, nil, nil, s.now())
		if err != nil {
			return err
		}
		out = f
		return appendLedger(ctx, tx, "firm_purchase",
			ledgerEntry{ledgerWallet, userID, -ft.Price},
			ledgerEntry{ledgerMint, 0, ft.Price},
		)
	})
	if err != nil {
		return Firm{}, err
	}
	s.log.Info("firm purchased", "user_id", userID, "firm_id", out.ID, "firm_type", ft.ID)
	return out, nil
}

// AddWorkers hires qty workers for one of the user's personal firms.
func (s *Service) AddWorkers(ctx context.Context, firmID, userID int64, qty int) (Firm, error) {
	if qty <= 0 {
		return Firm{}, invalid("quantity must be > 0")
	}
	if qty > MaxWorkersPerFirm {
		return Firm{}, CapExceededError{Kind: CapWorkersByFirm, Limit: MaxWorkersPerFirm}
	}
	cost := int64(qty) * WorkerCost

	var out Firm
	err := s.inTx(ctx, "add_workers", func(tx pgx.Tx) error {
		if err := lockAccounts(ctx, tx, userID); err != nil {
			return err
		}
		f, err := scanFirm(tx.QueryRow(ctx, `
			SELECT `+firmColumns+`
			FROM game.firms
			WHERE id = $1
			FOR NO KEY UPDATE
		`, firmID))
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("firm", firmID)
		}
		if err != nil {
			return err
		}
		if owner, ok := f.Owner.User(); !ok || owner != userID {
			return notFound("firm", firmID)
		}
		if f.Workers+qty > MaxWorkersPerFirm {
			return CapExceededError{Kind: CapWorkersByFirm, Limit: MaxWorkersPerFirm}
		}
		if _, err := debitWalletTx(ctx, tx, userID, cost); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `
			UPDATE game.firms
			SET workers = workers + $2
			WHERE id = $1
			RETURNING workers
		`, firmID, qty).Scan(&f.Workers); err != nil {
			return err
		}
		out = f
		return appendLedger(ctx, tx, "workers_hired",
			ledgerEntry{ledgerWallet, userID, -cost},
			ledgerEntry{ledgerMint, 0, cost},
		)
	})
	return out, err
}

func totalIncomeTx(ctx context.Context, q querier, userID int64) (int64, error) {
	rows, err := q.Query(ctx, `
		SELECT firm_type, custom_income, workers
		FROM game.firms
		WHERE owner_user_id = $1
	`, userID)
	if err != nil {
		return 0, err
	}
	return sumIncome(rows)
}

func clanIncomeTx(ctx context.Context, q querier, clanID int64) (int64, error) {
	rows, err := q.Query(ctx, `
		SELECT firm_type, custom_income, workers
		FROM game.firms
		WHERE owner_clan_id = $1 AND custom_income IS NOT NULL
	`, clanID)
	if err != nil {
		return 0, err
	}
	return sumIncome(rows)
}

func sumIncome(rows pgx.Rows) (int64, error) {
	defer rows.Close()
	var total int64
	for rows.Next() {
		var firmType, workers int
		var custom *int64
		if err := rows.Scan(&firmType, &custom, &workers); err != nil {
			return 0, err
		}
		total += FirmIncome(firmType, custom, workers)
	}
	return total, rows.Err()
}

// TotalIncome is the per-tick income of the user's personal firms.
func (s *Service) TotalIncome(ctx context.Context, userID int64) (int64, error) {
	return totalIncomeTx(ctx, s.db, userID)
}

// ClanIncome is the per-tick income of the clan's auction-won firms.
func (s *Service) ClanIncome(ctx context.Context, clanID int64) (int64, error) {
	return clanIncomeTx(ctx, s.db, clanID)
}

func (s *Service) GetFirm(ctx context.Context, firmID int64) (Firm, error) {
	f, err := scanFirm(s.db.QueryRow(ctx, `SELECT `+firmColumns+` FROM game.firms WHERE id = $1`, firmID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Firm{}, notFound("firm", firmID)
	}
	return f, err
}

func (s *Service) ListFirms(ctx context.Context, userID int64) ([]Firm, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+firmColumns+`
		FROM game.firms
		WHERE owner_user_id = $1
		ORDER BY firm_type, id
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectFirms(rows)
}

func (s *Service) ListClanFirms(ctx context.Context, clanID int64) ([]Firm, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+firmColumns+`
		FROM game.firms
		WHERE owner_clan_id = $1
		ORDER BY id
	`, clanID)
	if err != nil {
		return nil, err
	}
	return collectFirms(rows)
}
