package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"empires/internal/game"
)

// Core is the slice of the game service the dispatcher drives.
type Core interface {
	Register(ctx context.Context, userID int64, username string, referrer *int64) (game.Account, error)
	GetAccount(ctx context.Context, userID int64) (game.Account, error)
	GetProfile(ctx context.Context, userID int64) (game.Profile, error)
	Credit(ctx context.Context, userID, amount int64) (int64, error)
	Debit(ctx context.Context, userID, amount int64) (int64, error)
	ClaimDaily(ctx context.Context, userID int64) (game.DailyClaim, error)
	SetBanned(ctx context.Context, userID int64, banned bool) error
	Leaderboard(ctx context.Context, limit int) ([]game.LeaderboardRow, error)

	PurchaseFirm(ctx context.Context, userID int64, firmType int) (game.Firm, error)
	AddWorkers(ctx context.Context, firmID, userID int64, qty int) (game.Firm, error)
	ListFirms(ctx context.Context, userID int64) ([]game.Firm, error)
	GetFirm(ctx context.Context, firmID int64) (game.Firm, error)
	ListClanFirms(ctx context.Context, clanID int64) ([]game.Firm, error)

	CreateClan(ctx context.Context, name, emblem string, leaderID int64) (game.Clan, error)
	ListClans(ctx context.Context, limit int) ([]game.ClanSummary, error)
	ClanOf(ctx context.Context, userID int64) (game.Clan, game.Role, error)
	GetClanProfile(ctx context.Context, userID int64) (game.ClanProfile, error)
	RequestJoin(ctx context.Context, clanID, userID int64) (game.JoinRequest, error)
	AcceptRequest(ctx context.Context, clanID, leaderID, targetID int64) error
	ExcludeMember(ctx context.Context, clanID, leaderID, targetID int64) error
	LeaveClan(ctx context.Context, userID int64) error
	DisbandClan(ctx context.Context, clanID, leaderID int64) (game.Disbandment, error)
	ContributeTreasury(ctx context.Context, userID, amount int64) (game.Contribution, error)

	CreateAuction(ctx context.Context, in game.CreateAuctionInput) (game.Auction, error)
	ListAuctions(ctx context.Context, isClan bool) ([]game.Auction, error)
	GetAuction(ctx context.Context, auctionID int64) (game.Auction, error)
	PlaceBid(ctx context.Context, auctionID, userID, amount int64) (game.Auction, error)
	Settle(ctx context.Context, auctionID int64) (game.SettleOutcome, error)
}

// Observer receives one call per executed command.
type Observer interface {
	ObserveCommand(name string, code string)
}

// Actor is the authenticated caller.
type Actor struct {
	ID       int64
	Username string
}

// Balance is returned by ledger adjustments.
type Balance struct {
	UserID  int64 `json:"user_id"`
	Balance int64 `json:"balance"`
}

// Ack is returned by commands with nothing else to report.
type Ack struct {
	OK bool `json:"ok"`
}

type BanState struct {
	UserID int64 `json:"user_id"`
	Banned bool  `json:"banned"`
}

type Dispatcher struct {
	core   Core
	admins map[int64]struct{}
	log    *slog.Logger
	obs    Observer
}

type DispatcherOption func(*Dispatcher)

func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.obs = o }
}

func NewDispatcher(core Core, adminIDs []int64, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		core:   core,
		admins: make(map[int64]struct{}, len(adminIDs)),
		log:    logger,
	}
	for _, id := range adminIDs {
		d.admins[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) IsAdmin(userID int64) bool {
	_, ok := d.admins[userID]
	return ok
}

// Execute applies caller policy and runs cmd. Admin commands only require
// the actor to be a configured admin; every other command except Register
// requires a registered, non-banned actor.
func (d *Dispatcher) Execute(ctx context.Context, actor Actor, cmd Command) (any, error) {
	if cmd == nil {
		return nil, fmt.Errorf("%w: empty command", game.ErrInvalidInput)
	}
	out, err := d.execute(ctx, actor, cmd)
	if d.obs != nil {
		d.obs.ObserveCommand(cmd.Name(), Code(err))
	}
	if err != nil && Code(err) == CodeInternal {
		d.log.Error("command failed", "command", cmd.Name(), "actor", actor.ID, "err", err)
	}
	return out, err
}

func (d *Dispatcher) execute(ctx context.Context, actor Actor, cmd Command) (any, error) {
	if IsAdmin(cmd) {
		if !d.IsAdmin(actor.ID) {
			return nil, game.ErrPermissionDenied
		}
	} else if _, ok := cmd.(Register); !ok {
		if err := d.admit(ctx, actor.ID); err != nil {
			return nil, err
		}
	}

	switch c := cmd.(type) {
	case Register:
		username := c.Username
		if username == "" {
			username = actor.Username
		}
		return d.core.Register(ctx, actor.ID, username, c.Referrer)
	case GetProfile:
		return d.core.GetProfile(ctx, actor.ID)
	case ListFirms:
		return d.core.ListFirms(ctx, actor.ID)
	case GetFirm:
		return d.core.GetFirm(ctx, c.FirmID)
	case PurchaseFirm:
		return d.core.PurchaseFirm(ctx, actor.ID, c.FirmType)
	case AddWorkers:
		return d.core.AddWorkers(ctx, c.FirmID, actor.ID, c.Qty)
	case ClaimDaily:
		return d.core.ClaimDaily(ctx, actor.ID)
	case Leaderboard:
		return d.core.Leaderboard(ctx, c.Limit)

	case CreateClan:
		return d.core.CreateClan(ctx, c.ClanName, c.Emblem, actor.ID)
	case ListClans:
		return d.core.ListClans(ctx, c.Limit)
	case GetClanProfile:
		return d.core.GetClanProfile(ctx, actor.ID)
	case ListClanFirms:
		clan, _, err := d.core.ClanOf(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		return d.core.ListClanFirms(ctx, clan.ID)
	case RequestJoinClan:
		return d.core.RequestJoin(ctx, c.ClanID, actor.ID)
	case AcceptMember:
		return ack(d.core.AcceptRequest(ctx, c.ClanID, actor.ID, c.Target))
	case ExcludeMember:
		return ack(d.core.ExcludeMember(ctx, c.ClanID, actor.ID, c.Target))
	case LeaveClan:
		return ack(d.core.LeaveClan(ctx, actor.ID))
	case DisbandClan:
		return d.core.DisbandClan(ctx, c.ClanID, actor.ID)
	case ContributeTreasury:
		return d.core.ContributeTreasury(ctx, actor.ID, c.Amount)

	case ListAuctions:
		return d.core.ListAuctions(ctx, c.IsClan)
	case GetAuction:
		return d.core.GetAuction(ctx, c.AuctionID)
	case PlaceBid:
		return d.core.PlaceBid(ctx, c.AuctionID, actor.ID, c.Amount)

	case Ban:
		return d.setBanned(ctx, actor, c.Target, true)
	case Unban:
		return d.setBanned(ctx, actor, c.Target, false)
	case Reward:
		balance, err := d.core.Credit(ctx, c.Target, c.Amount)
		if err != nil {
			return nil, err
		}
		d.log.Info("admin reward", "admin", actor.ID, "target", c.Target, "amount", c.Amount)
		return Balance{UserID: c.Target, Balance: balance}, nil
	case Withdraw:
		balance, err := d.core.Debit(ctx, c.Target, c.Amount)
		if err != nil {
			return nil, err
		}
		d.log.Info("admin withdraw", "admin", actor.ID, "target", c.Target, "amount", c.Amount)
		return Balance{UserID: c.Target, Balance: balance}, nil
	case CreateAuction:
		return d.core.CreateAuction(ctx, c.CreateAuctionInput)
	case SettleAuction:
		return d.core.Settle(ctx, c.AuctionID)
	default:
		return nil, fmt.Errorf("%w: unsupported command %T", game.ErrInvalidInput, cmd)
	}
}

// admit rejects unknown and banned actors.
func (d *Dispatcher) admit(ctx context.Context, userID int64) error {
	acct, err := d.core.GetAccount(ctx, userID)
	if err != nil {
		return err
	}
	if acct.Banned {
		return game.ErrBanned
	}
	return nil
}

func (d *Dispatcher) setBanned(ctx context.Context, actor Actor, target int64, banned bool) (any, error) {
	if target == actor.ID && banned {
		return nil, fmt.Errorf("%w: admins cannot ban themselves", game.ErrInvalidInput)
	}
	if err := d.core.SetBanned(ctx, target, banned); err != nil {
		return nil, err
	}
	d.log.Info("admin ban change", "admin", actor.ID, "target", target, "banned", banned)
	return BanState{UserID: target, Banned: banned}, nil
}

func ack(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return Ack{OK: true}, nil
}

// Machine-readable error codes shared by the HTTP adapter and metrics.
const (
	CodeOK                = "ok"
	CodeNotRegistered     = "not_registered"
	CodeBanned            = "banned"
	CodeAlreadyExists     = "already_exists"
	CodeInsufficientFunds = "insufficient_funds"
	CodeCapExceeded       = "cap_exceeded"
	CodeNotFound          = "not_found"
	CodeAlreadyMember     = "already_member"
	CodeNotInClan         = "not_in_clan"
	CodePermissionDenied  = "permission_denied"
	CodeDuplicateName     = "duplicate_name"
	CodeAuctionInactive   = "auction_inactive"
	CodeAuctionNotEnded   = "auction_not_ended"
	CodeBidTooLow         = "bid_too_low"
	CodeTooSoon           = "too_soon"
	CodeAlreadySettled    = "already_settled"
	CodeInvalidInput      = "invalid_input"
	CodeDuplicateRequest  = "duplicate_request"
	CodeConflict          = "conflict"
	CodeCanceled          = "canceled"
	CodeInternal          = "internal"
)

// Code maps an error returned by Execute to its stable code. NotRegistered is
// checked before NotFound because missing accounts carry both.
func Code(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, game.ErrNotRegistered):
		return CodeNotRegistered
	case errors.Is(err, game.ErrBanned):
		return CodeBanned
	case errors.Is(err, game.ErrAlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, game.ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, game.ErrCapExceeded):
		return CodeCapExceeded
	case errors.Is(err, game.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, game.ErrAlreadyMember):
		return CodeAlreadyMember
	case errors.Is(err, game.ErrNotInClan):
		return CodeNotInClan
	case errors.Is(err, game.ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, game.ErrDuplicateName):
		return CodeDuplicateName
	case errors.Is(err, game.ErrAuctionInactive):
		return CodeAuctionInactive
	case errors.Is(err, game.ErrAuctionNotEnded):
		return CodeAuctionNotEnded
	case errors.Is(err, game.ErrBidTooLow):
		return CodeBidTooLow
	case errors.Is(err, game.ErrTooSoon):
		return CodeTooSoon
	case errors.Is(err, game.ErrAlreadySettled):
		return CodeAlreadySettled
	case errors.Is(err, game.ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, game.ErrDuplicateIdempotency):
		return CodeDuplicateRequest
	case errors.Is(err, game.ErrTxConflict):
		return CodeConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	default:
		return CodeInternal
	}
}
