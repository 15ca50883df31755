package game

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
)

const clanColumns = `id, name, emblem, leader_id, treasury, donation_tokens, exp, created_at`

func scanClan(row rowScanner) (Clan, error) {
	var c Clan
	err := row.Scan(&c.ID, &c.Name, &c.Emblem, &c.LeaderID, &c.Treasury, &c.DonationTokens, &c.Exp, &c.CreatedAt)
	return c, err
}

// lockClan locks the clan row and checks that actorID leads it.
func lockClan(ctx context.Context, tx pgx.Tx, clanID, actorID int64) (Clan, error) {
	c, err := scanClan(tx.QueryRow(ctx, `
		SELECT `+clanColumns+`
		FROM game.clans
		WHERE id = $1
		FOR UPDATE
	`, clanID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Clan{}, notFound("clan", clanID)
	}
	if err != nil {
		return Clan{}, err
	}
	if c.LeaderID != actorID {
		return Clan{}, ErrPermissionDenied
	}
	return c, nil
}

func membershipTx(ctx context.Context, q querier, userID int64) (int64, Role, error) {
	var clanID int64
	var role Role
	err := q.QueryRow(ctx, `SELECT clan_id, role FROM game.clan_members WHERE user_id = $1`, userID).Scan(&clanID, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", ErrNotInClan
	}
	return clanID, role, err
}

// CreateClan founds a clan led by leaderID. The clan row and the leader
// membership are written together.
func (s *Service) CreateClan(ctx context.Context, name, emblem string, leaderID int64) (Clan, error) {
	name = strings.TrimSpace(name)
	emblem = strings.TrimSpace(emblem)
	if err := validateClanName(name); err != nil {
		return Clan{}, err
	}

	var out Clan
	err := s.inTx(ctx, "create_clan", func(tx pgx.Tx) error {
		if err := lockAccounts(ctx, tx, leaderID); err != nil {
			return err
		}
		if _, _, err := membershipTx(ctx, tx, leaderID); err == nil {
			return ErrAlreadyMember
		} else if !errors.Is(err, ErrNotInClan) {
			return err
		}

		c, err := scanClan(tx.QueryRow(ctx, `
			INSERT INTO game.clans (name, emblem, leader_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO NOTHING
			RETURNING `+clanColumns,
			name, emblem, leaderID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDuplicateName
		}
		if err != nil {
			return err
		}
		cmd, err := tx.Exec(ctx, `
			INSERT INTO game.clan_members (user_id, clan_id, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO NOTHING
		`, leaderID, c.ID, RoleLeader)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrAlreadyMember
		}
		if _, err := tx.Exec(ctx, `DELETE FROM game.clan_requests WHERE user_id = $1`, leaderID); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return Clan{}, err
	}
	s.log.Info("clan created", "clan_id", out.ID, "leader_id", leaderID)
	return out, nil
}

// RequestJoin files a join request. Repeated requests are no-ops.
func (s *Service) RequestJoin(ctx context.Context, clanID, userID int64) (JoinRequest, error) {
	out := JoinRequest{ClanID: clanID, UserID: userID}
	err := s.inTx(ctx, "request_join", func(tx pgx.Tx) error {
		if err := lockAccounts(ctx, tx, userID); err != nil {
			return err
		}
		if _, _, err := membershipTx(ctx, tx, userID); err == nil {
			return ErrAlreadyMember
		} else if !errors.Is(err, ErrNotInClan) {
			return err
		}
		// holds off a concurrent disband until the request is written
		err := tx.QueryRow(ctx, `SELECT leader_id FROM game.clans WHERE id = $1 FOR KEY SHARE`, clanID).Scan(&out.LeaderID)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("clan", clanID)
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO game.clan_requests (clan_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (clan_id, user_id) DO NOTHING
		`, clanID, userID)
		return err
	})
	if err != nil {
		return JoinRequest{}, err
	}
	return out, nil
}

// AcceptRequest turns a pending request into a membership. Only the leader
// may accept.
func (s *Service) AcceptRequest(ctx context.Context, clanID, leaderID, targetID int64) error {
	return s.inTx(ctx, "accept_request", func(tx pgx.Tx) error {
		if _, err := lockClan(ctx, tx, clanID, leaderID); err != nil {
			return err
		}
		cmd, err := tx.Exec(ctx, `DELETE FROM game.clan_requests WHERE clan_id = $1 AND user_id = $2`, clanID, targetID)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return notFound("join request", targetID)
		}
		cmd, err = tx.Exec(ctx, `
			INSERT INTO game.clan_members (user_id, clan_id, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO NOTHING
		`, targetID, clanID, RoleMember)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrAlreadyMember
		}
		_, err = tx.Exec(ctx, `DELETE FROM game.clan_requests WHERE user_id = $1`, targetID)
		return err
	})
}

// ExcludeMember removes a regular member. The leader cannot be excluded.
func (s *Service) ExcludeMember(ctx context.Context, clanID, leaderID, targetID int64) error {
	if targetID == leaderID {
		return ErrPermissionDenied
	}
	return s.inTx(ctx, "exclude_member", func(tx pgx.Tx) error {
		c, err := lockClan(ctx, tx, clanID, leaderID)
		if err != nil {
			return err
		}
		if targetID == c.LeaderID {
			return ErrPermissionDenied
		}
		cmd, err := tx.Exec(ctx, `
			DELETE FROM game.clan_members
			WHERE clan_id = $1 AND user_id = $2 AND role = $3
		`, clanID, targetID, RoleMember)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return notFound("clan member", targetID)
		}
		return nil
	})
}

// LeaveClan removes the caller's membership. Leaders have to disband instead.
func (s *Service) LeaveClan(ctx context.Context, userID int64) error {
	return s.inTx(ctx, "leave_clan", func(tx pgx.Tx) error {
		var role Role
		err := tx.QueryRow(ctx, `
			SELECT role FROM game.clan_members WHERE user_id = $1 FOR UPDATE
		`, userID).Scan(&role)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotInClan
		}
		if err != nil {
			return err
		}
		if role == RoleLeader {
			return ErrPermissionDenied
		}
		_, err = tx.Exec(ctx, `DELETE FROM game.clan_members WHERE user_id = $1`, userID)
		return err
	})
}

// DisbandClan deletes the clan with its memberships, requests and firms in a
// single transaction.
func (s *Service) DisbandClan(ctx context.Context, clanID, leaderID int64) (Disbandment, error) {
	out := Disbandment{ClanID: clanID}
	err := s.inTx(ctx, "disband_clan", func(tx pgx.Tx) error {
		c, err := lockClan(ctx, tx, clanID, leaderID)
		if err != nil {
			return err
		}
		out.Treasury = c.Treasury

		cmd, err := tx.Exec(ctx, `DELETE FROM game.firms WHERE owner_clan_id = $1`, clanID)
		if err != nil {
			return err
		}
		out.Firms = cmd.RowsAffected()
		if cmd, err = tx.Exec(ctx, `DELETE FROM game.clan_members WHERE clan_id = $1`, clanID); err != nil {
			return err
		}
		out.Members = cmd.RowsAffected()
		if _, err := tx.Exec(ctx, `DELETE FROM game.clan_requests WHERE clan_id = $1`, clanID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM game.clans WHERE id = $1`, clanID); err != nil {
			return err
		}
		if c.Treasury > 0 {
			return appendLedger(ctx, tx, "clan_disbanded",
				ledgerEntry{ledgerTreasury, clanID, -c.Treasury},
				ledgerEntry{ledgerMint, 0, c.Treasury},
			)
		}
		return nil
	})
	if err != nil {
		return Disbandment{}, err
	}
	s.log.Info("clan disbanded", "clan_id", clanID, "members", out.Members, "firms", out.Firms)
	return out, nil
}

// ContributeTreasury moves amount from the member's balance to their clan.
func (s *Service) ContributeTreasury(ctx context.Context, userID, amount int64) (Contribution, error) {
	if amount <= 0 {
		return Contribution{}, invalid("amount must be > 0")
	}
	out := Contribution{Amount: amount}
	err := s.inTx(ctx, "contribute_treasury", func(tx pgx.Tx) error {
		if err := lockAccounts(ctx, tx, userID); err != nil {
			return err
		}
		clanID, _, err := membershipTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		out.ClanID = clanID
		if out.Balance, err = debitWalletTx(ctx, tx, userID, amount); err != nil {
			return err
		}
		out.Treasury, err = creditTreasuryTx(ctx, tx, clanID, amount)
		if errors.Is(err, ErrNotFound) {
			return ErrNotInClan
		}
		if err != nil {
			return err
		}
		return appendLedger(ctx, tx, "treasury_contribution",
			ledgerEntry{ledgerWallet, userID, -amount},
			ledgerEntry{ledgerTreasury, clanID, amount},
		)
	})
	if err != nil {
		return Contribution{}, err
	}
	return out, nil
}

func (s *Service) GetClan(ctx context.Context, clanID int64) (Clan, error) {
	c, err := scanClan(s.db.QueryRow(ctx, `SELECT `+clanColumns+` FROM game.clans WHERE id = $1`, clanID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Clan{}, notFound("clan", clanID)
	}
	return c, err
}

// ClanOf returns the clan the user belongs to, or ErrNotInClan.
func (s *Service) ClanOf(ctx context.Context, userID int64) (Clan, Role, error) {
	clanID, role, err := membershipTx(ctx, s.db, userID)
	if err != nil {
		return Clan{}, "", err
	}
	c, err := s.GetClan(ctx, clanID)
	if errors.Is(err, ErrNotFound) {
		return Clan{}, "", ErrNotInClan
	}
	return c, role, err
}

// GetClanProfile describes the caller's clan. Pending requests are only
// included for the leader.
func (s *Service) GetClanProfile(ctx context.Context, userID int64) (ClanProfile, error) {
	var out ClanProfile
	err := s.inReadTx(ctx, func(tx pgx.Tx) error {
		clanID, role, err := membershipTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		c, err := scanClan(tx.QueryRow(ctx, `SELECT `+clanColumns+` FROM game.clans WHERE id = $1`, clanID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotInClan
		}
		if err != nil {
			return err
		}
		out.Clan = c

		rows, err := tx.Query(ctx, `
			SELECT user_id, role, joined_at
			FROM game.clan_members
			WHERE clan_id = $1
			ORDER BY role = 'leader' DESC, joined_at, user_id
		`, clanID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var m ClanMember
			if err := rows.Scan(&m.UserID, &m.Role, &m.JoinedAt); err != nil {
				rows.Close()
				return err
			}
			out.Members = append(out.Members, m)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if role == RoleLeader {
			reqRows, err := tx.Query(ctx, `
				SELECT user_id FROM game.clan_requests WHERE clan_id = $1 ORDER BY created_at, user_id
			`, clanID)
			if err != nil {
				return err
			}
			for reqRows.Next() {
				var id int64
				if err := reqRows.Scan(&id); err != nil {
					reqRows.Close()
					return err
				}
				out.Requests = append(out.Requests, id)
			}
			reqRows.Close()
			if err := reqRows.Err(); err != nil {
				return err
			}
		}

		out.Income, err = clanIncomeTx(ctx, tx, clanID)
		return err
	})
	return out, err
}

// ListClans lists clans for the join menu.
func (s *Service) ListClans(ctx context.Context, limit int) ([]ClanSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `SELECT id, name, emblem FROM game.clans ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ClanSummary
	for rows.Next() {
		var c ClanSummary
		if err := rows.Scan(&c.ID, &c.Name, &c.Emblem); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
