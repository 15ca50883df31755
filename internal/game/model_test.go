package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirmCatalog(t *testing.T) {
	types := FirmTypes()
	require.Len(t, types, 5)
	for i, ft := range types {
		assert.Equal(t, i+1, ft.ID)
	}

	mini, ok := LookupFirmType(1)
	require.True(t, ok)
	assert.Equal(t, "Мини цех", mini.Name)
	assert.Equal(t, int64(200), mini.Price)
	assert.Equal(t, int64(20), mini.Income)

	_, ok = LookupFirmType(CustomFirmType)
	assert.False(t, ok, "custom firms are not purchasable")
	_, ok = LookupFirmType(6)
	assert.False(t, ok)
}

func TestFirmIncome(t *testing.T) {
	custom := int64(777)
	tests := []struct {
		name     string
		firmType int
		custom   *int64
		workers  int
		want     int64
	}{
		{name: "catalog", firmType: 1, want: 20},
		{name: "catalog with workers", firmType: 5, workers: 10, want: 500 + 10*WorkerIncome},
		{name: "custom", firmType: CustomFirmType, custom: &custom, workers: 2, want: 777 + 2*WorkerIncome},
		{name: "custom without income", firmType: CustomFirmType, want: 0},
		{name: "unknown type", firmType: 9, workers: 1, want: WorkerIncome},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FirmIncome(tc.firmType, tc.custom, tc.workers))
		})
	}
}

func TestFirmDisplayName(t *testing.T) {
	name := "Нефтяная вышка"
	assert.Equal(t, name, Firm{FirmType: 0, CustomName: &name}.DisplayName())
	assert.Equal(t, "Ателье", Firm{FirmType: 3}.DisplayName())
	assert.Equal(t, "firm #12", Firm{ID: 12, FirmType: 0}.DisplayName())
}

func TestOwnerUnion(t *testing.T) {
	u := UserOwner(7)
	id, ok := u.User()
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
	_, ok = u.Clan()
	assert.False(t, ok)

	c := ClanOwner(3)
	assert.Equal(t, OwnerClan, c.Kind())
	userCol, clanCol := c.columns()
	assert.Nil(t, userCol)
	require.NotNil(t, clanCol)
	assert.Equal(t, int64(3), *clanCol)

	assert.False(t, Owner{}.Valid())

	raw, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"clan","id":3}`, string(raw))

	var back Owner
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, c, back)
	assert.Error(t, json.Unmarshal([]byte(`{"kind":"guild","id":3}`), &back))
}

func TestOwnerFromColumns(t *testing.T) {
	one, two := int64(1), int64(2)

	o, err := ownerFromColumns(&one, nil)
	require.NoError(t, err)
	assert.Equal(t, UserOwner(1), o)

	o, err = ownerFromColumns(nil, &two)
	require.NoError(t, err)
	assert.Equal(t, ClanOwner(2), o)

	_, err = ownerFromColumns(&one, &two)
	assert.Error(t, err)
	_, err = ownerFromColumns(nil, nil)
	assert.Error(t, err)
}

func TestAuctionCurrentPrice(t *testing.T) {
	a := Auction{MinPrice: 1000}
	assert.Equal(t, int64(1000), a.CurrentPrice())
	a.HighestBid = 1500
	assert.Equal(t, int64(1500), a.CurrentPrice())
	assert.Equal(t, AuctionSettled, a.State())
	a.Active = true
	assert.Equal(t, AuctionActive, a.State())
}

func TestAuctionJSONCarriesState(t *testing.T) {
	raw, err := json.Marshal(Auction{ID: 4, MinPrice: 10, Active: true})
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "active", out["state"])
	assert.Equal(t, float64(4), out["id"])

	var back Auction
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, int64(4), back.ID)
	assert.True(t, back.Active)

	raw, err = json.Marshal(&Auction{ID: 5})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"state":"settled"`)
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	capErr := fmt.Errorf("purchase: %w", CapExceededError{Kind: CapFirmsPerType, Limit: MaxFirmsPerType})
	assert.ErrorIs(t, capErr, ErrCapExceeded)
	var ce CapExceededError
	require.True(t, errors.As(capErr, &ce))
	assert.Equal(t, CapFirmsPerType, ce.Kind)

	missing := fmt.Errorf("%w: %w", ErrNotRegistered, notFound("account", 5))
	assert.ErrorIs(t, missing, ErrNotRegistered)
	assert.ErrorIs(t, missing, ErrNotFound)
	var nf NotFoundError
	require.True(t, errors.As(missing, &nf))
	assert.Equal(t, "account", nf.Entity)

	next := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	soon := TooSoonError{Next: next}
	assert.ErrorIs(t, soon, ErrTooSoon)
	assert.Contains(t, soon.Error(), "2026-01-02T03:04:05Z")

	assert.ErrorIs(t, invalid("bad %d", 1), ErrInvalidInput)
}

func TestValidateClanName(t *testing.T) {
	assert.NoError(t, validateClanName("Северяне"))
	assert.ErrorIs(t, validateClanName("   "), ErrInvalidInput)
	assert.ErrorIs(t, validateClanName(strings.Repeat("я", maxClanNameRunes+1)), ErrInvalidInput)
	assert.NoError(t, validateClanName(strings.Repeat("я", maxClanNameRunes)))
}
