// Package command is the closed set of actions a player or an operator can
// request, and the dispatcher that applies caller-side policy before handing
// them to the game core.
package command

import "empires/internal/game"

// Command is implemented only by the types in this package.
type Command interface {
	Name() string
	command()
}

// adminer marks commands restricted to configured administrators.
type adminer interface {
	admin()
}

type Register struct {
	Username string `json:"username"`
	Referrer *int64 `json:"referrer,omitempty"`
}

type GetProfile struct{}

type ListFirms struct{}

type GetFirm struct {
	FirmID int64 `json:"firm_id"`
}

type PurchaseFirm struct {
	FirmType int `json:"firm_type"`
}

type AddWorkers struct {
	FirmID int64 `json:"firm_id"`
	Qty    int   `json:"qty"`
}

type ClaimDaily struct{}

type Leaderboard struct {
	Limit int `json:"limit"`
}

type CreateClan struct {
	ClanName string `json:"name"`
	Emblem   string `json:"emblem"`
}

type ListClans struct {
	Limit int `json:"limit"`
}

type GetClanProfile struct{}

type ListClanFirms struct{}

type RequestJoinClan struct {
	ClanID int64 `json:"clan_id"`
}

type AcceptMember struct {
	ClanID int64 `json:"clan_id"`
	Target int64 `json:"target"`
}

type ExcludeMember struct {
	ClanID int64 `json:"clan_id"`
	Target int64 `json:"target"`
}

type LeaveClan struct{}

type DisbandClan struct {
	ClanID int64 `json:"clan_id"`
}

type ContributeTreasury struct {
	Amount int64 `json:"amount"`
}

type ListAuctions struct {
	IsClan bool `json:"is_clan"`
}

type GetAuction struct {
	AuctionID int64 `json:"auction_id"`
}

type PlaceBid struct {
	AuctionID int64 `json:"auction_id"`
	Amount    int64 `json:"amount"`
}

// Admin commands.

type Ban struct {
	Target int64 `json:"target"`
}

type Unban struct {
	Target int64 `json:"target"`
}

type Reward struct {
	Target int64 `json:"target"`
	Amount int64 `json:"amount"`
}

type Withdraw struct {
	Target int64 `json:"target"`
	Amount int64 `json:"amount"`
}

type CreateAuction struct {
	game.CreateAuctionInput
}

type SettleAuction struct {
	AuctionID int64 `json:"auction_id"`
}

func (Register) Name() string           { return "register" }
func (GetProfile) Name() string         { return "get_profile" }
func (ListFirms) Name() string          { return "list_firms" }
func (GetFirm) Name() string            { return "get_firm" }
func (PurchaseFirm) Name() string       { return "purchase_firm" }
func (AddWorkers) Name() string         { return "add_workers" }
func (ClaimDaily) Name() string         { return "claim_daily" }
func (Leaderboard) Name() string        { return "leaderboard" }
func (CreateClan) Name() string         { return "create_clan" }
func (ListClans) Name() string          { return "list_clans" }
func (GetClanProfile) Name() string     { return "get_clan_profile" }
func (ListClanFirms) Name() string      { return "list_clan_firms" }
func (RequestJoinClan) Name() string    { return "request_join_clan" }
func (AcceptMember) Name() string       { return "accept_member" }
func (ExcludeMember) Name() string      { return "exclude_member" }
func (LeaveClan) Name() string          { return "leave_clan" }
func (DisbandClan) Name() string        { return "disband_clan" }
func (ContributeTreasury) Name() string { return "contribute_treasury" }
func (ListAuctions) Name() string       { return "list_auctions" }
func (GetAuction) Name() string         { return "get_auction" }
func (PlaceBid) Name() string           { return "place_bid" }
func (Ban) Name() string                { return "ban" }
func (Unban) Name() string              { return "unban" }
func (Reward) Name() string             { return "reward" }
func (Withdraw) Name() string           { return "withdraw" }
func (CreateAuction) Name() string      { return "create_auction" }
func (SettleAuction) Name() string      { return "settle_auction" }

func (Register) command()           {}
func (GetProfile) command()         {}
func (ListFirms) command()          {}
func (GetFirm) command()            {}
func (PurchaseFirm) command()       {}
func (AddWorkers) command()         {}
func (ClaimDaily) command()         {}
func (Leaderboard) command()        {}
func (CreateClan) command()         {}
func (ListClans) command()          {}
func (GetClanProfile) command()     {}
func (ListClanFirms) command()      {}
func (RequestJoinClan) command()    {}
func (AcceptMember) command()       {}
func (ExcludeMember) command()      {}
func (LeaveClan) command()          {}
func (DisbandClan) command()        {}
func (ContributeTreasury) command() {}
func (ListAuctions) command()       {}
func (GetAuction) command()         {}
func (PlaceBid) command()           {}
func (Ban) command()                {}
func (Unban) command()              {}
func (Reward) command()             {}
func (Withdraw) command()           {}
func (CreateAuction) command()      {}
func (SettleAuction) command()      {}

func (Ban) admin()           {}
func (Unban) admin()         {}
func (Reward) admin()        {}
func (Withdraw) admin()      {}
func (CreateAuction) admin() {}
func (SettleAuction) admin() {}

// IsAdmin reports whether cmd requires an administrator.
func IsAdmin(cmd Command) bool {
	_, ok := cmd.(adminer)
	return ok
}
