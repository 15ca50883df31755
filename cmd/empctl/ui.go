package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"

	"empires/internal/command"
	"empires/internal/game"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

// newTable styles a table; columns listed in numeric are right-aligned.
func newTable(headers []string, numeric ...int) *table.Table {
	right := make(map[int]bool, len(numeric))
	for _, c := range numeric {
		right[c] = true
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case right[col]:
				return numberStyle
			default:
				return cellStyle
			}
		})
}

func renderBanState(out command.BanState) {
	if out.Banned {
		warn.Printf("Player %d is banned.\n", out.UserID)
		return
	}
	printSuccess(fmt.Sprintf("Player %d is unbanned.", out.UserID))
}

func renderBalance(out command.Balance) {
	printSuccess(fmt.Sprintf("Player %d balance: %s", out.UserID, comma(out.Balance)))
}

func renderSettle(out game.SettleOutcome) {
	switch {
	case out.Winner == nil:
		printInfo(fmt.Sprintf("Auction %d closed without bids.", out.AuctionID))
	case out.Refunded > 0:
		warn.Printf("Auction %d: winner %d has no clan, refunded %s.\n", out.AuctionID, *out.Winner, comma(out.Refunded))
	default:
		owner := "?"
		if out.Owner != nil {
			owner = fmt.Sprintf("%s %d", out.Owner.Kind(), out.Owner.ID())
		}
		firmID := int64(0)
		if out.FirmID != nil {
			firmID = *out.FirmID
		}
		printSuccess(fmt.Sprintf("Auction %d settled: firm %d goes to %s.", out.AuctionID, firmID, owner))
	}
}

func renderAuctions(rows []game.Auction, title string) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(title))
	if len(rows) == 0 {
		printInfo("No open auctions.")
		return
	}
	t := newTable([]string{"ID", "FIRM", "INCOME", "PRICE", "LEADER", "ENDS IN"}, 2, 3)
	now := time.Now()
	for _, a := range rows {
		leader := "-"
		if a.HighestBidder != nil {
			leader = strconv.FormatInt(*a.HighestBidder, 10)
		}
		t.Row(
			strconv.FormatInt(a.ID, 10),
			truncate(a.CustomName, 24),
			comma(a.CustomIncome),
			comma(a.CurrentPrice()),
			leader,
			remaining(a.EndTime, now),
		)
	}
	fmt.Println(t.Render())
}

func renderAuction(a game.Auction, now time.Time) {
	accent.Printf("\n== AUCTION %d ==\n", a.ID)
	fmt.Printf("firm     %s\n", a.CustomName)
	fmt.Printf("income   %s per tick\n", comma(a.CustomIncome))
	fmt.Printf("price    %s\n", comma(a.CurrentPrice()))
	if a.HighestBidder != nil {
		fmt.Printf("leader   %d\n", *a.HighestBidder)
	}
	if a.IsClan {
		fmt.Println("kind     clan")
	}
	if a.State() == game.AuctionSettled {
		warn.Println("settled")
		return
	}
	success.Printf("open, ends in %s\n", remaining(a.EndTime, now))
}

func renderProfile(p game.Profile) {
	accent.Printf("\n== %s ==\n", strings.ToUpper(p.Account.Username))
	fmt.Printf("balance  %s\n", comma(p.Account.Balance))
	fmt.Printf("income   %s per tick\n", comma(p.Income))
	fmt.Printf("tokens   %s\n", comma(p.Account.DonationTokens))
	if p.Clan != nil {
		fmt.Printf("clan     %s %s\n", p.Clan.Emblem, p.Clan.Name)
	}
	if p.Account.Banned {
		danger.Println("banned")
	}

	t := newTable([]string{"FIRM", "OWNED", "CAP"}, 1, 2)
	for _, f := range p.Firms {
		t.Row(f.Name, strconv.Itoa(f.Count), strconv.Itoa(f.Max))
	}
	if p.Custom > 0 {
		t.Row("custom", strconv.Itoa(p.Custom), "-")
	}
	fmt.Println(t.Render())
}

func renderLeaderboard(rows []game.LeaderboardRow) {
	accent.Println("\n== LEADERBOARD ==")
	if len(rows) == 0 {
		printInfo("No leaderboard rows yet.")
		return
	}
	t := newTable([]string{"RANK", "PLAYER", "BALANCE"}, 0, 2)
	for _, row := range rows {
		t.Row(strconv.FormatInt(row.Rank, 10), truncate(row.Username, 18), comma(row.Balance))
	}
	fmt.Println(t.Render())
}

func remaining(end, now time.Time) string {
	d := end.Sub(now)
	if d <= 0 {
		return "ended"
	}
	return d.Round(time.Second).String()
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	b.WriteString(sign)
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
