package game

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	StartingBalance    = int64(500)
	ReferralBonus      = int64(1000)
	ReferralTokenBonus = int64(3)
	DailyReward        = int64(100)
	DailyCooldown      = 24 * time.Hour

	MaxFirmsPerType   = 5
	MaxWorkersPerFirm = 100
	WorkerCost        = int64(50)
	WorkerIncome      = int64(5)

	// CustomFirmType marks firms won at auction; their income is stored on the row.
	CustomFirmType = 0

	maxClanNameRunes = 32
)

type FirmType struct {
	ID     int
	Name   string
	Price  int64
	Income int64
}

var firmTypes = map[int]FirmType{
	1: {ID: 1, Name: "Мини цех", Price: 200, Income: 20},
	2: {ID: 2, Name: "Мастерская", Price: 5000, Income: 50},
	3: {ID: 3, Name: "Ателье", Price: 10000, Income: 100},
	4: {ID: 4, Name: "Фабрика", Price: 25000, Income: 250},
	5: {ID: 5, Name: "Комбинат", Price: 50000, Income: 500},
}

// LookupFirmType returns the catalog entry for a purchasable firm type.
func LookupFirmType(id int) (FirmType, bool) {
	ft, ok := firmTypes[id]
	return ft, ok
}

// FirmTypes lists the purchasable catalog in id order.
func FirmTypes() []FirmType {
	out := make([]FirmType, 0, len(firmTypes))
	for id := 1; id <= len(firmTypes); id++ {
		out = append(out, firmTypes[id])
	}
	return out
}

// FirmIncome is the per-tick income of a single firm.
func FirmIncome(firmType int, customIncome *int64, workers int) int64 {
	var base int64
	if firmType == CustomFirmType {
		if customIncome != nil {
			base = *customIncome
		}
	} else if ft, ok := firmTypes[firmType]; ok {
		base = ft.Income
	}
	return base + int64(workers)*WorkerIncome
}

var (
	ErrNotRegistered        = errors.New("account not registered")
	ErrBanned               = errors.New("account banned")
	ErrAlreadyExists        = errors.New("account already exists")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrCapExceeded          = errors.New("cap exceeded")
	ErrNotFound             = errors.New("not found")
	ErrAlreadyMember        = errors.New("already a clan member")
	ErrNotInClan            = errors.New("not in a clan")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrDuplicateName        = errors.New("clan name already taken")
	ErrAuctionInactive      = errors.New("auction is not active")
	ErrAuctionNotEnded      = errors.New("auction has not ended yet")
	ErrBidTooLow            = errors.New("bid must exceed the current price")
	ErrTooSoon              = errors.New("too soon")
	ErrAlreadySettled       = errors.New("auction already settled")
	ErrInvalidInput         = errors.New("invalid input")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrTxConflict           = errors.New("transaction conflict, retry later")
)

// CapExceededError reports which limit a request would break.
type CapExceededError struct {
	Kind  string
	Limit int
}

func (e CapExceededError) Error() string {
	return fmt.Sprintf("%s cap exceeded (max %d)", e.Kind, e.Limit)
}

func (e CapExceededError) Is(target error) bool { return target == ErrCapExceeded }

const (
	CapFirmsPerType  = "firms_per_type"
	CapWorkersByFirm = "workers_per_firm"
)

type NotFoundError struct {
	Entity string
	ID     int64
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TooSoonError carries the moment the action becomes available again.
type TooSoonError struct {
	Next time.Time
}

func (e TooSoonError) Error() string {
	return "too soon, available at " + e.Next.UTC().Format(time.RFC3339)
}

func (e TooSoonError) Is(target error) bool { return target == ErrTooSoon }

func notFound(entity string, id int64) error {
	return NotFoundError{Entity: entity, ID: id}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func validateClanName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("clan name is required")
	}
	if utf8.RuneCountInString(name) > maxClanNameRunes {
		return invalid("clan name longer than %d characters", maxClanNameRunes)
	}
	return nil
}
