package game

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const auctionColumns = `id, firm_type, min_price, duration_minutes, end_time, highest_bid, highest_bidder, active, custom_name, custom_income, is_clan, settled_at`

func scanAuction(row rowScanner) (Auction, error) {
	var a Auction
	err := row.Scan(&a.ID, &a.FirmType, &a.MinPrice, &a.DurationMinutes, &a.EndTime, &a.HighestBid,
		&a.HighestBidder, &a.Active, &a.CustomName, &a.CustomIncome, &a.IsClan, &a.SettledAt)
	return a, err
}

// CreateAuction lists a custom firm. The caller enforces admin rights.
func (s *Service) CreateAuction(ctx context.Context, in CreateAuctionInput) (Auction, error) {
	in.CustomName = strings.TrimSpace(in.CustomName)
	switch {
	case in.MinPrice < 0:
		return Auction{}, invalid("min price must be >= 0")
	case in.DurationMinutes <= 0:
		return Auction{}, invalid("duration must be > 0 minutes")
	case in.CustomName == "":
		return Auction{}, invalid("custom name is required")
	case in.CustomIncome < 0:
		return Auction{}, invalid("custom income must be >= 0")
	case in.FirmType != CustomFirmType:
		if _, ok := LookupFirmType(in.FirmType); !ok {
			return Auction{}, invalid("unknown firm type %d", in.FirmType)
		}
	}

	end := s.now().Add(time.Duration(in.DurationMinutes) * time.Minute)
	var a Auction
	err := s.inTx(ctx, "create_auction", func(tx pgx.Tx) error {
		var err error
		a, err = scanAuction(tx.QueryRow(ctx, `
			INSERT INTO game.auctions (firm_type, min_price, duration_minutes, end_time, custom_name, custom_income, is_clan)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+auctionColumns,
			in.FirmType, in.MinPrice, in.DurationMinutes, end, in.CustomName, in.CustomIncome, in.IsClan))
		return err
	})
	if err != nil {
		return Auction{}, err
	}
	s.log.Info("auction created", "auction_id", a.ID, "is_clan", a.IsClan, "end_time", a.EndTime)
	return a, nil
}

func (s *Service) GetAuction(ctx context.Context, auctionID int64) (Auction, error) {
	a, err := scanAuction(s.db.QueryRow(ctx, `SELECT `+auctionColumns+` FROM game.auctions WHERE id = $1`, auctionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Auction{}, notFound("auction", auctionID)
	}
	return a, err
}

// ListAuctions returns open auctions of one kind, soonest deadline first.
func (s *Service) ListAuctions(ctx context.Context, isClan bool) ([]Auction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+auctionColumns+`
		FROM game.auctions
		WHERE active AND is_clan = $1 AND end_time > $2
		ORDER BY end_time, id
	`, isClan, s.now())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Auction{}
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PlaceBid escrows amount from the bidder and releases the previous highest
// bid back to its owner in the same transaction, so escrow always equals the
// current highest bid.
func (s *Service) PlaceBid(ctx context.Context, auctionID, userID, amount int64) (Auction, error) {
	if amount <= 0 {
		return Auction{}, invalid("bid must be > 0")
	}

	var out Auction
	err := s.inTx(ctx, "place_bid", func(tx pgx.Tx) error {
		a, err := scanAuction(tx.QueryRow(ctx, `
			SELECT `+auctionColumns+`
			FROM game.auctions
			WHERE id = $1
			FOR NO KEY UPDATE
		`, auctionID))
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("auction", auctionID)
		}
		if err != nil {
			return err
		}
		if !a.Active || !s.now().Before(a.EndTime) {
			return ErrAuctionInactive
		}
		if amount <= a.CurrentPrice() {
			return ErrBidTooLow
		}
		if a.IsClan {
			if _, _, err := membershipTx(ctx, tx, userID); err != nil {
				return err
			}
		}

		lock := []int64{userID}
		if a.HighestBidder != nil {
			lock = append(lock, *a.HighestBidder)
		}
		if err := lockAccounts(ctx, tx, lock...); err != nil {
			return err
		}

		entries := make([]ledgerEntry, 0, 4)
		if a.HighestBidder != nil && a.HighestBid > 0 {
			if _, err := creditWalletTx(ctx, tx, *a.HighestBidder, a.HighestBid); err != nil {
				return err
			}
			entries = append(entries,
				ledgerEntry{ledgerEscrow, auctionID, -a.HighestBid},
				ledgerEntry{ledgerWallet, *a.HighestBidder, a.HighestBid},
			)
		}
		if _, err := debitWalletTx(ctx, tx, userID, amount); err != nil {
			return err
		}
		entries = append(entries,
			ledgerEntry{ledgerWallet, userID, -amount},
			ledgerEntry{ledgerEscrow, auctionID, amount},
		)

		out, err = scanAuction(tx.QueryRow(ctx, `
			UPDATE game.auctions
			SET highest_bid = $2, highest_bidder = $3
			WHERE id = $1
			RETURNING `+auctionColumns,
			auctionID, amount, userID))
		if err != nil {
			return err
		}
		return appendLedger(ctx, tx, "auction_bid", entries...)
	})
	if err != nil {
		return Auction{}, err
	}
	s.log.Info("bid placed", "auction_id", auctionID, "user_id", userID, "amount", amount)
	return out, nil
}

// Settle closes an ended auction exactly once. The active flag is flipped by a
// guarded update; only the caller that flips it pays out. A clan auction whose
// winner is no longer in any clan refunds the escrow to the winner.
func (s *Service) Settle(ctx context.Context, auctionID int64) (SettleOutcome, error) {
	out := SettleOutcome{AuctionID: auctionID}
	now := s.now()
	err := s.inTx(ctx, "settle_auction", func(tx pgx.Tx) error {
		out = SettleOutcome{AuctionID: auctionID}
		a, err := scanAuction(tx.QueryRow(ctx, `
			UPDATE game.auctions
			SET active = false, settled_at = $2
			WHERE id = $1 AND active AND end_time <= $2
			RETURNING `+auctionColumns,
			auctionID, now))
		if errors.Is(err, pgx.ErrNoRows) {
			return settleRejection(ctx, tx, auctionID)
		}
		if err != nil {
			return err
		}
		if a.HighestBidder == nil {
			return nil
		}
		winner := *a.HighestBidder
		out.Winner = &winner

		owner := UserOwner(winner)
		if a.IsClan {
			clanID, ok, err := lockWinnerClan(ctx, tx, winner)
			if err != nil {
				return err
			}
			if !ok {
				if _, err := creditWalletTx(ctx, tx, winner, a.HighestBid); err != nil {
					return err
				}
				out.Refunded = a.HighestBid
				return appendLedger(ctx, tx, "auction_refund",
					ledgerEntry{ledgerEscrow, auctionID, -a.HighestBid},
					ledgerEntry{ledgerWallet, winner, a.HighestBid},
				)
			}
			owner = ClanOwner(clanID)
		}

		name, income := a.CustomName, a.CustomIncome
		f, err := insertFirmTx(ctx, tx, owner, CustomFirmType, &name, &income, now)
		if err != nil {
			return err
		}
		out.FirmID = &f.ID
		out.Owner = &f.Owner
		return appendLedger(ctx, tx, "auction_settled",
			ledgerEntry{ledgerEscrow, auctionID, -a.HighestBid},
			ledgerEntry{ledgerMint, 0, a.HighestBid},
		)
	})
	if err != nil {
		return SettleOutcome{}, err
	}
	s.log.Info("auction settled", "auction_id", auctionID, "winner", out.Winner, "firm_id", out.FirmID, "refunded", out.Refunded)
	return out, nil
}

// settleRejection explains why the guarded flip matched no row.
func settleRejection(ctx context.Context, tx pgx.Tx, auctionID int64) error {
	var active bool
	err := tx.QueryRow(ctx, `SELECT active FROM game.auctions WHERE id = $1`, auctionID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound("auction", auctionID)
	}
	if err != nil {
		return err
	}
	if !active {
		return ErrAlreadySettled
	}
	return ErrAuctionNotEnded
}

// lockWinnerClan finds the winner's current clan and key-share locks it so a
// concurrent disband cannot remove it before the firm row references it.
func lockWinnerClan(ctx context.Context, tx pgx.Tx, userID int64) (int64, bool, error) {
	clanID, _, err := membershipTx(ctx, tx, userID)
	if errors.Is(err, ErrNotInClan) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var id int64
	err = tx.QueryRow(ctx, `SELECT id FROM game.clans WHERE id = $1 FOR KEY SHARE`, clanID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *Service) dueAuctions(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id
		FROM game.auctions
		WHERE active AND end_time <= $1
		ORDER BY end_time, id
	`, s.now())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
