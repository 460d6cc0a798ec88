// Package validation checks screening signals against independent research
// before the costly analysis stage.
package validation

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"alpha_autotrader/internal/models"
	"alpha_autotrader/internal/research"

	"go.uber.org/zap"
)

// Researcher is the research collaborator; *research.Client satisfies it.
type Researcher interface {
	Research(ctx context.Context, query string) research.Response
}

// Policy thresholds, in screening confidence points.
type Policy struct {
	// NeutralMinConfidence lets a neutral verdict pass.
	NeutralMinConfidence float64
	// BypassMinConfidence lets a signal pass when research is unavailable.
	BypassMinConfidence float64
}

// Outcome is the pass/drop verdict for one signal.
type Outcome struct {
	Pass   bool
	Reason string
}

// Validator classifies research answers and applies Policy.
type Validator struct {
	researcher Researcher
	policy     Policy
	logger     *zap.Logger
}

// New creates a validator.
func New(r Researcher, p Policy, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{researcher: r, policy: p, logger: logger}
}

// Validate queries research for one signal. It fails open: an unavailable
// service drops the signal only when its own confidence is too low.
func (v *Validator) Validate(ctx context.Context, sig models.TradingSignal) (models.ValidationResult, Outcome) {
	resp := v.researcher.Research(ctx, Query(sig))

	res := models.ValidationResult{Ticker: sig.Ticker, RawResponse: resp.Answer}
	if !resp.Success {
		res.Sentiment = models.Unavailable
		res.ConfidenceBucket = "unknown"
		res.RawResponse = resp.Error
	} else {
		res.Sentiment, res.ConfidenceBucket = Classify(resp.Answer)
		res.KeyPoints = KeyPoints(resp.Answer, 5)
		res.Agrees = agrees(sig.Direction, res.Sentiment)
	}

	out := v.apply(sig, &res, resp.Error)
	v.logger.Debug("validated signal",
		zap.String("ticker", sig.Ticker),
		zap.String("sentiment", string(res.Sentiment)),
		zap.Bool("pass", out.Pass),
		zap.String("reason", out.Reason))
	return res, out
}

func (v *Validator) apply(sig models.TradingSignal, res *models.ValidationResult, errText string) Outcome {
	switch {
	case res.Sentiment == models.Unavailable:
		if sig.Confidence >= v.policy.BypassMinConfidence {
			res.BypassReason = fmt.Sprintf("validator unavailable (%s); passed on screening confidence %.0f >= %.0f",
				errText, sig.Confidence, v.policy.BypassMinConfidence)
			return Outcome{Pass: true, Reason: res.BypassReason}
		}
		return Outcome{Reason: fmt.Sprintf("validator unavailable and screening confidence %.0f below bypass threshold %.0f",
			sig.Confidence, v.policy.BypassMinConfidence)}
	case res.Agrees:
		return Outcome{Pass: true, Reason: fmt.Sprintf("validator %s agrees with %s", res.Sentiment, sig.Direction)}
	case res.Sentiment == models.Neutral:
		if sig.Confidence >= v.policy.NeutralMinConfidence {
			return Outcome{Pass: true, Reason: fmt.Sprintf("validator neutral; screening confidence %.0f >= %.0f",
				sig.Confidence, v.policy.NeutralMinConfidence)}
		}
		return Outcome{Reason: fmt.Sprintf("validator neutral and screening confidence %.0f below %.0f",
			sig.Confidence, v.policy.NeutralMinConfidence)}
	default:
		return Outcome{Reason: fmt.Sprintf("validator %s disagrees with %s", res.Sentiment, sig.Direction)}
	}
}

// Query phrases the research question for a signal.
func Query(sig models.TradingSignal) string {
	side := "long"
	if sig.Direction == models.Short {
		side = "short"
	}
	return fmt.Sprintf("Give a brief current assessment of %s stock for a %s position over the next few weeks "+
		"(screening strategy: %s). Consider recent news, earnings and analyst actions.", sig.Ticker, side, sig.StrategyName)
}

func agrees(d models.Direction, s models.Sentiment) bool {
	return (d == models.Long && s == models.Bullish) || (d == models.Short && s == models.Bearish)
}

var (
	explicitSentiment = regexp.MustCompile(`(?i)sentiment\s*[:\-]\s*\**\s*(bullish|bearish|neutral)`)
	explicitConf      = regexp.MustCompile(`(?i)confidence\s*[:\-]\s*\**\s*(high|medium|moderate|low)`)

	bullishWords = []string{"bullish", "upside", "outperform", "upgrade", "buy rating", "beat expectations", "strong growth", "positive"}
	bearishWords = []string{"bearish", "downside", "underperform", "downgrade", "sell rating", "missed expectations", "headwind", "negative"}
)

// Classify derives sentiment and a confidence bucket from free text. An
// explicit "Sentiment: x" line wins over keyword counting.
func Classify(answer string) (models.Sentiment, string) {
	lower := strings.ToLower(answer)
	bull, bear := 0, 0
	for _, w := range bullishWords {
		bull += strings.Count(lower, w)
	}
	for _, w := range bearishWords {
		bear += strings.Count(lower, w)
	}

	var sentiment models.Sentiment
	if m := explicitSentiment.FindStringSubmatch(answer); m != nil {
		sentiment = models.Sentiment(strings.ToLower(m[1]))
	} else {
		switch {
		case bull > bear:
			sentiment = models.Bullish
		case bear > bull:
			sentiment = models.Bearish
		default:
			sentiment = models.Neutral
		}
	}

	if m := explicitConf.FindStringSubmatch(answer); m != nil {
		b := strings.ToLower(m[1])
		if b == "moderate" {
			b = "medium"
		}
		return sentiment, b
	}
	margin := bull - bear
	if margin < 0 {
		margin = -margin
	}
	switch {
	case margin >= 3:
		return sentiment, "high"
	case margin >= 1:
		return sentiment, "medium"
	default:
		return sentiment, "low"
	}
}

var bulletPrefix = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)

// KeyPoints returns up to n bullet lines, or the first sentences when the
// answer has no bullets.
func KeyPoints(answer string, n int) []string {
	var points []string
	for _, line := range strings.Split(answer, "\n") {
		if bulletPrefix.MatchString(line) {
			p := strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
			if p != "" {
				points = append(points, p)
			}
			if len(points) == n {
				return points
			}
		}
	}
	if len(points) > 0 {
		return points
	}
	for _, s := range strings.SplitAfter(strings.ReplaceAll(answer, "\n", " "), ". ") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		points = append(points, s)
		if len(points) == min(n, 3) {
			break
		}
	}
	return points
}
