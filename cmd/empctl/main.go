package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"empires/internal/auth"
	cl "empires/internal/cli"
	"empires/internal/config"
	"empires/internal/db"
	"empires/internal/game"
	"empires/internal/syncq"
)

type globals struct {
	cfg     config.CLIConfig
	apiBase string
	token   string
}

func main() {
	config.LoadDotEnv()
	g := &globals{cfg: config.LoadCLIFromEnv()}
	g.apiBase = g.cfg.APIBaseURL
	g.token = g.cfg.Token

	root := &cobra.Command{
		Use:          "empctl",
		Short:        "Empires operator console",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.apiBase, "api", g.apiBase, "API base URL")
	root.PersistentFlags().StringVar(&g.token, "token", g.token, "bearer token (defaults to the saved session)")

	root.AddCommand(
		newMigrateCmd(g),
		newTokenCmd(g),
		newBanCmd(g, true),
		newBanCmd(g, false),
		newBalanceCmd(g, "reward"),
		newBalanceCmd(g, "withdraw"),
		newAuctionCmd(g),
		newProfileCmd(g),
		newLeaderboardCmd(g),
		newSyncCmd(g),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (g *globals) client() (*cl.Client, error) {
	token, err := cl.ResolveToken(g.token)
	if err != nil {
		return nil, err
	}
	return cl.NewClient(strings.TrimSpace(g.apiBase), token), nil
}

// write runs an admin write through call. Requests that never reached the
// API are queued under their idempotency key for `empctl sync`.
func (g *globals) write(cmd *cobra.Command, req cl.Request, call func(ctx context.Context, client *cl.Client, idem string) error) error {
	client, err := g.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	idem := uuid.NewString()
	err = call(ctx, client, idem)
	if err == nil || !cl.IsTransport(err) {
		return err
	}
	if qErr := syncq.Push(syncq.Command{Method: req.Method, Path: req.Path, Body: req.Body, IdempotencyKey: idem}); qErr != nil {
		return fmt.Errorf("%w (queue failed: %v)", err, qErr)
	}
	printWarn(fmt.Sprintf("API unreachable, queued %s %s. Run `empctl sync` later.", req.Method, req.Path))
	return nil
}

func newMigrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			pool, err := db.Connect(ctx, g.cfg.DatabaseURL, db.PoolOptions{AppName: "empctl", MaxConns: 2, MinConns: 1})
			if err != nil {
				return err
			}
			defer pool.Close()
			applied, err := db.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				printInfo("Schema is up to date.")
				return nil
			}
			for _, name := range applied {
				printSuccess("applied " + name)
			}
			return nil
		},
	}
}

func newTokenCmd(g *globals) *cobra.Command {
	token := &cobra.Command{
		Use:   "token",
		Short: "Bearer token tools",
	}

	var userID int64
	var username string
	var ttl time.Duration
	var save bool
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a bearer token for a player id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if g.cfg.TokenSecret == "" {
				return fmt.Errorf("EMPIRES_TOKEN_SECRET is required")
			}
			tokens, err := auth.NewTokens(g.cfg.TokenSecret)
			if err != nil {
				return err
			}
			sess, err := tokens.Mint(userID, username, ttl)
			if err != nil {
				return err
			}
			if save {
				if err := cl.SaveSession(cl.Session{
					AccessToken: sess.AccessToken,
					UserID:      sess.User.ID,
					Username:    sess.User.Username,
					ExpiresAt:   sess.ExpiresAt,
				}); err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Token for user %d saved, expires %s.", userID, sess.ExpiresAt.Format(time.RFC3339)))
				return nil
			}
			fmt.Println(sess.AccessToken)
			return nil
		},
	}
	mint.Flags().Int64Var(&userID, "user", 0, "player id")
	mint.Flags().StringVar(&username, "name", "", "display name")
	mint.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	mint.Flags().BoolVar(&save, "save", false, "store the token in ~/.empctl")
	_ = mint.MarkFlagRequired("user")

	logout := &cobra.Command{
		Use:   "clear",
		Short: "Remove the saved token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Saved token removed.")
			return nil
		},
	}

	token.AddCommand(mint, logout)
	return token
}

func newBanCmd(g *globals, ban bool) *cobra.Command {
	verb := "unban"
	if ban {
		verb = "ban"
	}
	return &cobra.Command{
		Use:   verb + " <user-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parsePositive("user id", args[0])
			if err != nil {
				return err
			}
			return g.write(cmd, cl.BanRequest(userID, ban), func(ctx context.Context, client *cl.Client, idem string) error {
				call := client.Unban
				if ban {
					call = client.Ban
				}
				out, err := call(ctx, userID, idem)
				if err != nil {
					return err
				}
				renderBanState(out)
				return nil
			})
		},
	}
}

func newBalanceCmd(g *globals, verb string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <user-id> <amount>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " currency for a player",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parsePositive("user id", args[0])
			if err != nil {
				return err
			}
			amount, err := parsePositive("amount", args[1])
			if err != nil {
				return err
			}
			req, call := cl.RewardRequest(userID, amount), (*cl.Client).Reward
			if verb == "withdraw" {
				req, call = cl.WithdrawRequest(userID, amount), (*cl.Client).Withdraw
			}
			return g.write(cmd, req, func(ctx context.Context, client *cl.Client, idem string) error {
				out, err := call(client, ctx, userID, amount, idem)
				if err != nil {
					return err
				}
				renderBalance(out)
				return nil
			})
		},
	}
}

func newAuctionCmd(g *globals) *cobra.Command {
	auction := &cobra.Command{
		Use:     "auction",
		Short:   "Custom firm auctions",
		Aliases: []string{"auctions"},
	}

	var in game.CreateAuctionInput
	create := &cobra.Command{
		Use:   "create",
		Short: "List a custom firm for auction",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.write(cmd, cl.CreateAuctionRequest(in), func(ctx context.Context, client *cl.Client, idem string) error {
				a, err := client.CreateAuction(ctx, in, idem)
				if err != nil {
					return err
				}
				renderAuctions([]game.Auction{a}, "auction created")
				return nil
			})
		},
	}
	create.Flags().StringVar(&in.CustomName, "name", "", "firm name")
	create.Flags().Int64Var(&in.CustomIncome, "income", 0, "income per tick")
	create.Flags().Int64Var(&in.MinPrice, "min-price", 0, "minimum price")
	create.Flags().IntVar(&in.DurationMinutes, "minutes", 60, "duration in minutes")
	create.Flags().IntVar(&in.FirmType, "firm-type", game.CustomFirmType, "catalog firm type, 0 for custom")
	create.Flags().BoolVar(&in.IsClan, "clan", false, "clan auction")
	_ = create.MarkFlagRequired("name")

	var listClan bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Show open auctions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rows, err := client.ListAuctions(ctx, listClan)
			if err != nil {
				return err
			}
			title := "player auctions"
			if listClan {
				title = "clan auctions"
			}
			renderAuctions(rows, title)
			return nil
		},
	}
	list.Flags().BoolVar(&listClan, "clan", false, "show clan auctions")

	show := &cobra.Command{
		Use:   "show <auction-id>",
		Short: "Show one auction, settled or not",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auctionID, err := parsePositive("auction id", args[0])
			if err != nil {
				return err
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			a, err := client.Auction(ctx, auctionID)
			if err != nil {
				return err
			}
			renderAuction(a, time.Now())
			return nil
		},
	}

	settle := &cobra.Command{
		Use:   "settle <auction-id>",
		Short: "Settle an ended auction now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auctionID, err := parsePositive("auction id", args[0])
			if err != nil {
				return err
			}
			return g.write(cmd, cl.SettleAuctionRequest(auctionID), func(ctx context.Context, client *cl.Client, idem string) error {
				out, err := client.SettleAuction(ctx, auctionID, idem)
				if err != nil {
					return err
				}
				renderSettle(out)
				return nil
			})
		},
	}

	auction.AddCommand(create, list, show, settle)
	return auction
}

func newProfileCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show the token holder's profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			p, err := client.Profile(ctx)
			if err != nil {
				return err
			}
			renderProfile(p)
			return nil
		},
	}
}

func newLeaderboardCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "leaderboard",
		Short:   "Show the richest players",
		Aliases: []string{"lb"},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rows, err := client.Leaderboard(ctx, limit)
			if err != nil {
				return err
			}
			renderLeaderboard(rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "rows to show")
	return cmd
}

func newSyncCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay writes queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			res, err := syncq.Replay(ctx, func(ctx context.Context, q syncq.Command) error {
				_, err := client.Do(ctx, q.Method, q.Path, q.Body, q.IdempotencyKey)
				if cl.IsDuplicate(err) {
					printInfo(fmt.Sprintf("Already applied: %s %s", q.Method, q.Path))
				}
				return err
			}, cl.IsDuplicate)
			if err != nil {
				printError(fmt.Sprintf("Sync stopped: %v", err))
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", res.Sent, res.Remaining))
			return nil
		},
	}
}

func parsePositive(name, raw string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return v, nil
}
