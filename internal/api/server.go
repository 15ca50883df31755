package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"empires/internal/auth"
	"empires/internal/command"
	"empires/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Executor runs one command for an authenticated actor.
type Executor interface {
	Execute(ctx context.Context, actor command.Actor, cmd command.Command) (any, error)
}

type Verifier interface {
	VerifyAccessToken(ctx context.Context, accessToken string) (auth.User, error)
}

// Observer records request outcomes. *metrics.Metrics implements it.
type Observer interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

type Options struct {
	Middleware   []func(http.Handler) http.Handler
	Metrics      http.Handler
	Observer     Observer
	Health       func(ctx context.Context) error
	RequestLimit time.Duration
}

type Server struct {
	log  *slog.Logger
	auth Verifier
	exec Executor
	opts Options
	mux  *chi.Mux
}

func New(logger *slog.Logger, verifier Verifier, exec Executor, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RequestLimit <= 0 {
		opts.RequestLimit = 60 * time.Second
	}
	s := &Server{
		log:  logger,
		auth: verifier,
		exec: exec,
		opts: opts,
		mux:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestLimit))
	r.Use(s.opts.Middleware...)

	r.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(idempotencyMiddleware)

		r.Post("/register", s.handleRegister)
		r.Get("/me", s.handleProfile)
		r.Post("/daily", s.handleClaimDaily)
		r.Get("/leaderboard", s.handleLeaderboard)

		r.Get("/firms", s.handleListFirms)
		r.Post("/firms", s.handlePurchaseFirm)
		r.Get("/firms/{id}", s.handleGetFirm)
		r.Post("/firms/{id}/workers", s.handleAddWorkers)

		r.Get("/clans", s.handleListClans)
		r.Post("/clans", s.handleCreateClan)
		r.Delete("/clans/{id}", s.handleDisbandClan)
		r.Post("/clans/{id}/requests", s.handleRequestJoin)
		r.Post("/clans/{id}/members", s.handleAcceptMember)
		r.Delete("/clans/{id}/members/{user_id}", s.handleExcludeMember)
		r.Get("/clan", s.handleClanProfile)
		r.Get("/clan/firms", s.handleClanFirms)
		r.Post("/clan/leave", s.handleLeaveClan)
		r.Post("/clan/contribute", s.handleContribute)

		r.Get("/auctions", s.handleListAuctions)
		r.Get("/auctions/{id}", s.handleGetAuction)
		r.Post("/auctions/{id}/bids", s.handlePlaceBid)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/users/{id}/ban", s.handleBan)
			r.Post("/users/{id}/unban", s.handleUnban)
			r.Post("/users/{id}/reward", s.handleReward)
			r.Post("/users/{id}/withdraw", s.handleWithdraw)
			r.Post("/auctions", s.handleCreateAuction)
			r.Post("/auctions/{id}/settle", s.handleSettleAuction)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Health(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// run executes cmd for the caller and writes the result or the mapped error.
func (s *Server) run(w http.ResponseWriter, r *http.Request, status int, cmd command.Command) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
		return
	}
	out, err := s.exec.Execute(r.Context(), actor, cmd)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, status, out)
}

// list wraps slice results so clients always see an object.
func (s *Server) list(w http.ResponseWriter, r *http.Request, field string, cmd command.Command) {
	actor, err := actorFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, err.Error())
		return
	}
	out, err := s.exec.Execute(r.Context(), actor, cmd)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{field: nonNil(out)})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in command.Register
	if !decodeBody(w, r, &in) {
		return
	}
	s.run(w, r, http.StatusCreated, in)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, http.StatusOK, command.GetProfile{})
}

func (s *Server) handleClaimDaily(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, http.StatusOK, command.ClaimDaily{})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	s.list(w, r, "rows", command.Leaderboard{Limit: limit})
}

func (s *Server) handleListFirms(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, "firms", command.ListFirms{})
}

func (s *Server) handleGetFirm(w http.ResponseWriter, r *http.Request) {
	if firmID, ok := pathID(w, r, "id"); ok {
		s.run(w, r, http.StatusOK, command.GetFirm{FirmID: firmID})
	}
}

func (s *Server) handlePurchaseFirm(w http.ResponseWriter, r *http.Request) {
	var in command.PurchaseFirm
	if !decodeBody(w, r, &in) {
		return
	}
	s.run(w, r, http.StatusCreated, in)
}

func (s *Server) handleAddWorkers(w http.ResponseWriter, r *http.Request) {
	firmID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in struct {
		Qty int `json:"qty"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	s.run(w, r, http.StatusOK, command.AddWorkers{FirmID: firmID, Qty: in.Qty})
}

func (s *Server) handleListClans(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	s.list(w, r, "clans", command.ListClans{Limit: limit})
}

func (s *Server) handleCreateClan(w http.ResponseWriter, r *http.Request) {
	var in command.CreateClan
	if !decodeBody(w, r, &in) {
		return
	}
	s.run(w, r, http.StatusCreated, in)
}

func (s *Server) handleDisbandClan(w http.ResponseWriter, r *http.Request) {
	clanID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	s.run(w, r, http.StatusOK, command.DisbandClan{ClanID: clanID})
}

func (s *Server) handleRequestJoin(w http.ResponseWriter, r *http.Request) {
	clanID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	s.run(w, r, http.StatusCreated, command.RequestJoinClan{ClanID: clanID})
}

func (s *Server) handleAcceptMember(w http.ResponseWriter, r *http.Request) {
	clanID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in struct {
		Target int64 `json:"target"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	s.run(w, r, http.StatusOK, command.AcceptMember{ClanID: clanID, Target: in.Target})
}

func (s *Server) handleExcludeMember(w http.ResponseWriter, r *http.Request) {
	clanID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	target, ok := pathID(w, r, "user_id")
	if !ok {
		return
	}
	s.run(w, r, http.StatusOK, command.ExcludeMember{ClanID: clanID, Target: target})
}

func (s *Server) handleClanProfile(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, http.StatusOK, command.GetClanProfile{})
}

func (s *Server) handleClanFirms(w http.ResponseWriter, r *http.Request) {
	s.list(w, r, "firms", command.ListClanFirms{})
}

func (s *Server) handleLeaveClan(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, http.StatusOK, command.LeaveClan{})
}

func (s *Server) handleContribute(w http.ResponseWriter, r *http.Request) {
	var in command.ContributeTreasury
	if !decodeBody(w, r, &in) {
		return
	}
	s.run(w, r, http.StatusOK, in)
}

func (s *Server) handleListAuctions(w http.ResponseWriter, r *http.Request) {
	isClan := r.URL.Query().Get("clan") == "1"
	s.list(w, r, "auctions", command.ListAuctions{IsClan: isClan})
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	if auctionID, ok := pathID(w, r, "id"); ok {
		s.run(w, r, http.StatusOK, command.GetAuction{AuctionID: auctionID})
	}
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in struct {
		Amount int64 `json:"amount"`
	}
	if !decodeBody(w, r, &in) {
		return
	}
	s.run(w, r, http.StatusOK, command.PlaceBid{AuctionID: auctionID, Amount: in.Amount})
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	if target, ok := pathID(w, r, "id"); ok {
		s.run(w, r, http.StatusOK, command.Ban{Target: target})
	}
}

func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	if target, ok := pathID(w, r, "id"); ok {
		s.run(w, r, http.StatusOK, command.Unban{Target: target})
	}
}

type amountBody struct {
	Amount int64 `json:"amount"`
}

func (s *Server) handleReward(w http.ResponseWriter, r *http.Request) {
	target, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in amountBody
	if !decodeBody(w, r, &in) {
		return
	}
	s.run(w, r, http.StatusOK, command.Reward{Target: target, Amount: in.Amount})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	target, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in amountBody
	if !decodeBody(w, r, &in) {
		return
	}
	s.run(w, r, http.StatusOK, command.Withdraw{Target: target, Amount: in.Amount})
}

func (s *Server) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	var in game.CreateAuctionInput
	if !decodeBody(w, r, &in) {
		return
	}
	s.run(w, r, http.StatusCreated, command.CreateAuction{CreateAuctionInput: in})
}

func (s *Server) handleSettleAuction(w http.ResponseWriter, r *http.Request) {
	if auctionID, ok := pathID(w, r, "id"); ok {
		s.run(w, r, http.StatusOK, command.SettleAuction{AuctionID: auctionID})
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	code := command.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case command.CodeInvalidInput, command.CodeInsufficientFunds:
		status = http.StatusBadRequest
	case command.CodeNotRegistered, command.CodeBanned, command.CodePermissionDenied, command.CodeNotInClan:
		status = http.StatusForbidden
	case command.CodeNotFound:
		status = http.StatusNotFound
	case command.CodeAlreadyExists, command.CodeAlreadyMember, command.CodeDuplicateName,
		command.CodeCapExceeded, command.CodeAuctionInactive, command.CodeAuctionNotEnded,
		command.CodeBidTooLow, command.CodeAlreadySettled, command.CodeDuplicateRequest, command.CodeConflict:
		status = http.StatusConflict
	case command.CodeTooSoon:
		status = http.StatusTooManyRequests
	case command.CodeCanceled:
		status = http.StatusServiceUnavailable
	}

	body := map[string]any{"error": strings.TrimSpace(err.Error()), "code": code}
	var soon game.TooSoonError
	if errors.As(err, &soon) {
		body["retry_at"] = soon.Next.UTC()
	}
	var capErr game.CapExceededError
	if errors.As(err, &capErr) {
		body["cap"] = capErr.Kind
		body["limit"] = capErr.Limit
	}
	if status == http.StatusInternalServerError {
		body["error"] = "internal error"
	}
	writeJSON(w, status, body)
}

// decodeBody reads a JSON body. An empty body leaves out untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := decodeJSON(r, out); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, command.CodeInvalidInput, err.Error())
		return false
	}
	return true
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, command.CodeInvalidInput, fmt.Sprintf("invalid %s %q", name, raw))
		return 0, false
	}
	return id, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, command.CodeInvalidInput, fmt.Sprintf("invalid %s %q", name, raw))
		return 0, false
	}
	return v, true
}

// nonNil keeps empty lists from encoding as null.
func nonNil(v any) any {
	switch x := v.(type) {
	case []game.Firm:
		if x == nil {
			return []game.Firm{}
		}
	case []game.ClanSummary:
		if x == nil {
			return []game.ClanSummary{}
		}
	case []game.Auction:
		if x == nil {
			return []game.Auction{}
		}
	case []game.LeaderboardRow:
		if x == nil {
			return []game.LeaderboardRow{}
		}
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message), "code": code})
}
