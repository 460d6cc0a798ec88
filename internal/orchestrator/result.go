package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"alpha_autotrader/internal/models"
)

var (
	ErrTradingDisabled = errors.New("trading disabled")
	ErrPDTBlocked      = errors.New("pattern day trade guard")
	ErrAccountBlocked  = errors.New("account blocked")
	ErrMarketClosed    = errors.New("market closed")
	ErrCycleRunning    = errors.New("cycle already running")
)

// Stage names used in skips and errors.
const (
	StageRotation = "rotation"
	StageScreen   = "screen"
	StageValidate = "validate"
	StageAnalyze  = "analyze"
	StageDecide   = "decide"
	StageGate     = "gate"
	StageExecute  = "execute"
	StageRecord   = "record"
)

// StageError is a fatal-to-ticker failure.
type StageError struct {
	Ticker string
	Stage  string
	Err    error
}

func (e StageError) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Ticker, e.Stage, e.Err)
}

func (e StageError) Unwrap() error { return e.Err }

// Skip is a ticker that was deliberately not traded.
type Skip struct {
	Ticker string
	Stage  string
	Reason string
}

// CycleResult tallies one cycle.
type CycleResult struct {
	CycleID   string
	Started   time.Time
	Finished  time.Time
	Screened  int
	Validated int
	Analyzed  int
	Decided   int
	Executed  int
	Rotation  string

	Validations map[string]models.ValidationResult
	Decisions   map[string]models.PortfolioDecision
	Trades      []models.TradeRecord
	Skips       []Skip
	Errors      []StageError
}

func newCycleResult(id string, started time.Time) *CycleResult {
	return &CycleResult{
		CycleID:     id,
		Started:     started,
		Validations: make(map[string]models.ValidationResult),
		Decisions:   make(map[string]models.PortfolioDecision),
	}
}

func (r *CycleResult) skip(ticker, stage, reason string) {
	r.Skips = append(r.Skips, Skip{Ticker: ticker, Stage: stage, Reason: reason})
}

func (r *CycleResult) fail(ticker, stage string, err error) {
	r.Errors = append(r.Errors, StageError{Ticker: ticker, Stage: stage, Err: err})
}

// Summary is a one-line operator view.
func (r *CycleResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cycle %s: screened=%d validated=%d analyzed=%d decided=%d executed=%d skips=%d errors=%d",
		shortID(r.CycleID), r.Screened, r.Validated, r.Analyzed, r.Decided, r.Executed, len(r.Skips), len(r.Errors))
	if r.Rotation != "" {
		b.WriteString(" | " + r.Rotation)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
