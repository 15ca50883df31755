package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"empires/internal/game"
)

// fakeCore implements the calls the tests reach; anything else panics through
// the nil embedded interface.
type fakeCore struct {
	Core
	accounts map[int64]game.Account
	calls    []string
	bidErr   error
}

func newFakeCore() *fakeCore {
	return &fakeCore{accounts: map[int64]game.Account{}}
}

func (f *fakeCore) GetAccount(_ context.Context, userID int64) (game.Account, error) {
	a, ok := f.accounts[userID]
	if !ok {
		return game.Account{}, fmt.Errorf("%w: %w", game.ErrNotRegistered, game.NotFoundError{Entity: "account", ID: userID})
	}
	return a, nil
}

func (f *fakeCore) Register(_ context.Context, userID int64, username string, _ *int64) (game.Account, error) {
	f.calls = append(f.calls, "register")
	if _, ok := f.accounts[userID]; ok {
		return game.Account{}, game.ErrAlreadyExists
	}
	a := game.Account{UserID: userID, Username: username, Balance: game.StartingBalance}
	f.accounts[userID] = a
	return a, nil
}

func (f *fakeCore) PurchaseFirm(_ context.Context, userID int64, firmType int) (game.Firm, error) {
	f.calls = append(f.calls, "purchase_firm")
	return game.Firm{ID: 1, Owner: game.UserOwner(userID), FirmType: firmType}, nil
}

func (f *fakeCore) PlaceBid(_ context.Context, auctionID, _ int64, amount int64) (game.Auction, error) {
	f.calls = append(f.calls, "place_bid")
	if f.bidErr != nil {
		return game.Auction{}, f.bidErr
	}
	return game.Auction{ID: auctionID, HighestBid: amount, Active: true}, nil
}

func (f *fakeCore) GetFirm(_ context.Context, firmID int64) (game.Firm, error) {
	f.calls = append(f.calls, fmt.Sprintf("get_firm:%d", firmID))
	if firmID != 9 {
		return game.Firm{}, game.NotFoundError{Entity: "firm", ID: firmID}
	}
	return game.Firm{ID: 9, Owner: game.ClanOwner(3), FirmType: game.CustomFirmType}, nil
}

func (f *fakeCore) GetAuction(_ context.Context, auctionID int64) (game.Auction, error) {
	f.calls = append(f.calls, fmt.Sprintf("get_auction:%d", auctionID))
	return game.Auction{ID: auctionID}, nil
}

func (f *fakeCore) LeaveClan(context.Context, int64) error {
	f.calls = append(f.calls, "leave_clan")
	return nil
}

func (f *fakeCore) ClanOf(_ context.Context, userID int64) (game.Clan, game.Role, error) {
	if userID == 7 {
		return game.Clan{ID: 3}, game.RoleMember, nil
	}
	return game.Clan{}, "", game.ErrNotInClan
}

func (f *fakeCore) ListClanFirms(_ context.Context, clanID int64) ([]game.Firm, error) {
	f.calls = append(f.calls, fmt.Sprintf("list_clan_firms:%d", clanID))
	return []game.Firm{{ID: 9, Owner: game.ClanOwner(clanID)}}, nil
}

func (f *fakeCore) Credit(_ context.Context, userID, amount int64) (int64, error) {
	f.calls = append(f.calls, "credit")
	a := f.accounts[userID]
	a.Balance += amount
	f.accounts[userID] = a
	return a.Balance, nil
}

func (f *fakeCore) SetBanned(_ context.Context, userID int64, banned bool) error {
	f.calls = append(f.calls, "set_banned")
	a, ok := f.accounts[userID]
	if !ok {
		return game.ErrNotRegistered
	}
	a.Banned = banned
	f.accounts[userID] = a
	return nil
}

type recordingObserver struct {
	seen []string
}

func (r *recordingObserver) ObserveCommand(name, code string) {
	r.seen = append(r.seen, name+":"+code)
}

func newTestDispatcher(core Core, obs Observer, admins ...int64) *Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var opts []DispatcherOption
	if obs != nil {
		opts = append(opts, WithObserver(obs))
	}
	return NewDispatcher(core, admins, logger, opts...)
}

func TestExecuteRequiresRegistration(t *testing.T) {
	core := newFakeCore()
	d := newTestDispatcher(core, nil)
	ctx := context.Background()

	_, err := d.Execute(ctx, Actor{ID: 5}, PurchaseFirm{FirmType: 1})
	assert.ErrorIs(t, err, game.ErrNotRegistered)
	assert.Equal(t, CodeNotRegistered, Code(err))
	assert.Empty(t, core.calls)

	out, err := d.Execute(ctx, Actor{ID: 5, Username: "ivan"}, Register{})
	require.NoError(t, err)
	acct, ok := out.(game.Account)
	require.True(t, ok)
	assert.Equal(t, "ivan", acct.Username)

	out, err = d.Execute(ctx, Actor{ID: 5}, PurchaseFirm{FirmType: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(game.Firm).FirmType)
}

func TestExecuteRejectsBannedActors(t *testing.T) {
	core := newFakeCore()
	core.accounts[5] = game.Account{UserID: 5, Banned: true}
	d := newTestDispatcher(core, nil)

	_, err := d.Execute(context.Background(), Actor{ID: 5}, LeaveClan{})
	assert.ErrorIs(t, err, game.ErrBanned)
	assert.Empty(t, core.calls)
}

func TestExecuteAdminCommands(t *testing.T) {
	core := newFakeCore()
	core.accounts[5] = game.Account{UserID: 5, Balance: 100}
	d := newTestDispatcher(core, nil, 1)
	ctx := context.Background()

	_, err := d.Execute(ctx, Actor{ID: 5}, Reward{Target: 5, Amount: 10})
	assert.ErrorIs(t, err, game.ErrPermissionDenied)

	out, err := d.Execute(ctx, Actor{ID: 1}, Reward{Target: 5, Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, Balance{UserID: 5, Balance: 110}, out)

	out, err = d.Execute(ctx, Actor{ID: 1}, Ban{Target: 5})
	require.NoError(t, err)
	assert.Equal(t, BanState{UserID: 5, Banned: true}, out)
	assert.True(t, core.accounts[5].Banned)

	_, err = d.Execute(ctx, Actor{ID: 1}, Ban{Target: 1})
	assert.ErrorIs(t, err, game.ErrInvalidInput)

	assert.True(t, IsAdmin(SettleAuction{}))
	assert.True(t, IsAdmin(CreateAuction{}))
	assert.False(t, IsAdmin(PlaceBid{}))
}

func TestExecuteListClanFirmsResolvesCallerClan(t *testing.T) {
	core := newFakeCore()
	core.accounts[7] = game.Account{UserID: 7}
	core.accounts[8] = game.Account{UserID: 8}
	d := newTestDispatcher(core, nil)
	ctx := context.Background()

	out, err := d.Execute(ctx, Actor{ID: 7}, ListClanFirms{})
	require.NoError(t, err)
	assert.Len(t, out.([]game.Firm), 1)
	assert.Contains(t, core.calls, "list_clan_firms:3")

	_, err = d.Execute(ctx, Actor{ID: 8}, ListClanFirms{})
	assert.ErrorIs(t, err, game.ErrNotInClan)
}

func TestExecuteLookups(t *testing.T) {
	core := newFakeCore()
	core.accounts[5] = game.Account{UserID: 5}
	d := newTestDispatcher(core, nil)
	ctx := context.Background()

	out, err := d.Execute(ctx, Actor{ID: 5}, GetFirm{FirmID: 9})
	require.NoError(t, err)
	assert.Equal(t, int64(9), out.(game.Firm).ID)

	_, err = d.Execute(ctx, Actor{ID: 5}, GetFirm{FirmID: 10})
	assert.ErrorIs(t, err, game.ErrNotFound)
	assert.Equal(t, CodeNotFound, Code(err))

	out, err = d.Execute(ctx, Actor{ID: 5}, GetAuction{AuctionID: 4})
	require.NoError(t, err)
	assert.Equal(t, game.AuctionSettled, out.(game.Auction).State())
	assert.Equal(t, []string{"get_firm:9", "get_firm:10", "get_auction:4"}, core.calls)

	_, err = d.Execute(ctx, Actor{ID: 6}, GetAuction{AuctionID: 4})
	assert.ErrorIs(t, err, game.ErrNotRegistered)
}

func TestExecuteReportsOutcomeCodes(t *testing.T) {
	core := newFakeCore()
	core.accounts[5] = game.Account{UserID: 5}
	obs := &recordingObserver{}
	d := newTestDispatcher(core, obs)
	ctx := context.Background()

	_, err := d.Execute(ctx, Actor{ID: 5}, PlaceBid{AuctionID: 1, Amount: 10})
	require.NoError(t, err)

	core.bidErr = game.ErrBidTooLow
	_, err = d.Execute(ctx, Actor{ID: 5}, PlaceBid{AuctionID: 1, Amount: 10})
	require.Error(t, err)

	out, err := d.Execute(ctx, Actor{ID: 5}, LeaveClan{})
	require.NoError(t, err)
	assert.Equal(t, Ack{OK: true}, out)

	assert.Equal(t, []string{"place_bid:ok", "place_bid:bid_too_low", "leave_clan:ok"}, obs.seen)
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, CodeOK},
		{fmt.Errorf("%w: %w", game.ErrNotRegistered, game.NotFoundError{Entity: "account", ID: 1}), CodeNotRegistered},
		{game.NotFoundError{Entity: "firm", ID: 1}, CodeNotFound},
		{game.CapExceededError{Kind: game.CapFirmsPerType, Limit: 5}, CodeCapExceeded},
		{game.TooSoonError{}, CodeTooSoon},
		{fmt.Errorf("wrap: %w", game.ErrDuplicateIdempotency), CodeDuplicateRequest},
		{context.DeadlineExceeded, CodeCanceled},
		{errors.New("boom"), CodeInternal},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Code(tc.err), "err=%v", tc.err)
	}
}
