package game

import (
	"encoding/json"
	"fmt"
	"time"
)

type OwnerKind uint8

const (
	OwnerUser OwnerKind = iota + 1
	OwnerClan
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerUser:
		return "user"
	case OwnerClan:
		return "clan"
	default:
		return "unknown"
	}
}

// Owner is either a user or a clan, never both. The zero value is invalid.
type Owner struct {
	kind OwnerKind
	id   int64
}

func UserOwner(userID int64) Owner { return Owner{kind: OwnerUser, id: userID} }
func ClanOwner(clanID int64) Owner { return Owner{kind: OwnerClan, id: clanID} }

func (o Owner) Kind() OwnerKind { return o.kind }
func (o Owner) ID() int64       { return o.id }
func (o Owner) Valid() bool     { return o.kind == OwnerUser || o.kind == OwnerClan }

func (o Owner) User() (int64, bool) { return o.id, o.kind == OwnerUser }
func (o Owner) Clan() (int64, bool) { return o.id, o.kind == OwnerClan }

// columns maps the owner to the (owner_user_id, owner_clan_id) pair.
func (o Owner) columns() (*int64, *int64) {
	id := o.id
	if o.kind == OwnerClan {
		return nil, &id
	}
	return &id, nil
}

func ownerFromColumns(userID, clanID *int64) (Owner, error) {
	switch {
	case userID != nil && clanID == nil:
		return UserOwner(*userID), nil
	case clanID != nil && userID == nil:
		return ClanOwner(*clanID), nil
	default:
		return Owner{}, fmt.Errorf("firm row has invalid owner columns")
	}
}

func (o Owner) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind string `json:"kind"`
		ID   int64  `json:"id"`
	}{Kind: o.kind.String(), ID: o.id})
}

func (o *Owner) UnmarshalJSON(raw []byte) error {
	var in struct {
		Kind string `json:"kind"`
		ID   int64  `json:"id"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}
	switch in.Kind {
	case "user":
		*o = UserOwner(in.ID)
	case "clan":
		*o = ClanOwner(in.ID)
	default:
		return fmt.Errorf("unknown owner kind %q", in.Kind)
	}
	return nil
}

type Account struct {
	UserID         int64      `json:"user_id"`
	Username       string     `json:"username"`
	Balance        int64      `json:"balance"`
	DonationTokens int64      `json:"donation_tokens"`
	Banned         bool       `json:"banned"`
	LastDailyClaim *time.Time `json:"last_daily_claim,omitempty"`
	ReferredBy     *int64     `json:"referred_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type Firm struct {
	ID           int64     `json:"id"`
	Owner        Owner     `json:"owner"`
	FirmType     int       `json:"firm_type"`
	PurchaseTime time.Time `json:"purchase_time"`
	Workers      int       `json:"workers"`
	CustomName   *string   `json:"custom_name,omitempty"`
	CustomIncome *int64    `json:"custom_income,omitempty"`
}

// Income is the firm's per-tick contribution.
func (f Firm) Income() int64 {
	return FirmIncome(f.FirmType, f.CustomIncome, f.Workers)
}

// DisplayName is the catalog name, or the auction name for custom firms.
func (f Firm) DisplayName() string {
	if f.CustomName != nil && *f.CustomName != "" {
		return *f.CustomName
	}
	if ft, ok := firmTypes[f.FirmType]; ok {
		return ft.Name
	}
	return fmt.Sprintf("firm #%d", f.ID)
}

type AuctionState string

const (
	AuctionActive  AuctionState = "active"
	AuctionSettled AuctionState = "settled"
)

type Auction struct {
	ID              int64      `json:"id"`
	FirmType        int        `json:"firm_type"`
	MinPrice        int64      `json:"min_price"`
	DurationMinutes int        `json:"duration_minutes"`
	EndTime         time.Time  `json:"end_time"`
	HighestBid      int64      `json:"highest_bid"`
	HighestBidder   *int64     `json:"highest_bidder,omitempty"`
	Active          bool       `json:"active"`
	CustomName      string     `json:"custom_name"`
	CustomIncome    int64      `json:"custom_income"`
	IsClan          bool       `json:"is_clan"`
	SettledAt       *time.Time `json:"settled_at,omitempty"`
}

func (a Auction) State() AuctionState {
	if a.Active {
		return AuctionActive
	}
	return AuctionSettled
}

// MarshalJSON adds the derived state so clients need not interpret the flag.
func (a Auction) MarshalJSON() ([]byte, error) {
	type plain Auction
	return json.Marshal(struct {
		plain
		State AuctionState `json:"state"`
	}{plain(a), a.State()})
}

// CurrentPrice is the amount a new bid has to exceed.
func (a Auction) CurrentPrice() int64 {
	if a.HighestBid > a.MinPrice {
		return a.HighestBid
	}
	return a.MinPrice
}

type CreateAuctionInput struct {
	FirmType        int    `json:"firm_type"`
	MinPrice        int64  `json:"min_price"`
	DurationMinutes int    `json:"duration_minutes"`
	CustomName      string `json:"custom_name"`
	CustomIncome    int64  `json:"custom_income"`
	IsClan          bool   `json:"is_clan"`
}

// SettleOutcome describes a completed settlement. Refunded is set when a clan
// auction's winner had left every clan and the escrow went back to them.
type SettleOutcome struct {
	AuctionID int64  `json:"auction_id"`
	Winner    *int64 `json:"winner,omitempty"`
	FirmID    *int64 `json:"firm_id,omitempty"`
	Owner     *Owner `json:"owner,omitempty"`
	Refunded  int64  `json:"refunded,omitempty"`
}

type Role string

const (
	RoleLeader Role = "leader"
	RoleMember Role = "member"
)

type Clan struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Emblem         string    `json:"emblem"`
	LeaderID       int64     `json:"leader_id"`
	Treasury       int64     `json:"treasury"`
	DonationTokens int64     `json:"donation_tokens"`
	Exp            int64     `json:"exp"`
	CreatedAt      time.Time `json:"created_at"`
}

type ClanMember struct {
	UserID   int64     `json:"user_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type ClanProfile struct {
	Clan     Clan         `json:"clan"`
	Members  []ClanMember `json:"members"`
	Requests []int64      `json:"requests,omitempty"`
	Income   int64        `json:"income"`
}

type ClanSummary struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Emblem string `json:"emblem"`
}

type FirmTypeCount struct {
	FirmType int    `json:"firm_type"`
	Name     string `json:"name"`
	Count    int    `json:"count"`
	Max      int    `json:"max"`
}

type Profile struct {
	Account Account         `json:"account"`
	Firms   []FirmTypeCount `json:"firms"`
	Custom  int             `json:"custom_firms"`
	Income  int64           `json:"income"`
	Clan    *ClanSummary    `json:"clan,omitempty"`
}

type LeaderboardRow struct {
	Rank     int64  `json:"rank"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Balance  int64  `json:"balance"`
}

type DailyClaim struct {
	Reward  int64     `json:"reward"`
	Balance int64     `json:"balance"`
	Next    time.Time `json:"next"`
}

type IncomeReport struct {
	Users       int   `json:"users"`
	Clans       int   `json:"clans"`
	PaidToUsers int64 `json:"paid_to_users"`
	PaidToClans int64 `json:"paid_to_clans"`
	Failures    int   `json:"failures"`
}

type ExpiryReport struct {
	Due      int `json:"due"`
	Settled  int `json:"settled"`
	Skipped  int `json:"skipped"`
	Failures int `json:"failures"`
}

type JoinRequest struct {
	ClanID   int64 `json:"clan_id"`
	UserID   int64 `json:"user_id"`
	LeaderID int64 `json:"leader_id"`
}

type Contribution struct {
	ClanID   int64 `json:"clan_id"`
	Amount   int64 `json:"amount"`
	Balance  int64 `json:"balance"`
	Treasury int64 `json:"treasury"`
}

type Disbandment struct {
	ClanID   int64 `json:"clan_id"`
	Members  int64 `json:"members"`
	Firms    int64 `json:"firms"`
	Treasury int64 `json:"treasury"`
}
