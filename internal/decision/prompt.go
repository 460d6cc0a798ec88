package decision

import (
	"fmt"
	"sort"
	"strings"

	"alpha_autotrader/internal/risk"
)

const systemInstruction = `You are a portfolio manager making final trading decisions for several tickers.
For each ticker you receive analyst signals, the current position, available cash and
the maximum quantity permitted for each action. Never exceed the permitted quantity.
Actions: buy, sell, short, cover, hold, cancel.
Respond with a single JSON object keyed by ticker:
{"TICKER": {"action": "buy", "quantity": 0, "confidence": 0-100, "reasoning": "short explanation"}}`

// buildPrompt renders one batch. Research text is cut to maxResearch runes.
func buildPrompt(batch []Input, maxResearch int) string {
	var sb strings.Builder
	sb.WriteString("Decide for the following tickers.\n")
	for _, in := range batch {
		sb.WriteString("\n## ")
		sb.WriteString(in.Ticker)
		sb.WriteByte('\n')
		fmt.Fprintf(&sb, "Price: %s | Position: long %s, short %s | Cash: %s\n",
			in.Price.StringFixed(2), in.Holding.Long.String(), in.Holding.Short.String(), in.Cash.StringFixed(2))
		sb.WriteString("Signals: ")
		sb.WriteString(signalSummary(in))
		sb.WriteByte('\n')
		sb.WriteString("Allowed: ")
		sb.WriteString(risk.Table(in.Allowed))
		sb.WriteByte('\n')
		if in.Allowed.BlockReason != "" {
			fmt.Fprintf(&sb, "Constraints: %s\n", in.Allowed.BlockReason)
		}
		if r := truncateRunes(strings.TrimSpace(in.Research), maxResearch); r != "" {
			fmt.Fprintf(&sb, "Research: %s\n", r)
		}
	}
	return sb.String()
}

// signalSummary is a compact "consensus bullish (66.7); trend=bullish(70)" line.
func signalSummary(in Input) string {
	a := in.Analysis
	parts := []string{fmt.Sprintf("consensus %s (%.1f)", orDash(a.ConsensusDirection), a.ConsensusConfidence)}

	sources := make([]string, 0, len(a.Signals))
	for name := range a.Signals {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	for _, name := range sources {
		s := a.Signals[name]
		parts = append(parts, fmt.Sprintf("%s=%s(%.0f)", name, s.Direction, s.Confidence))
	}
	return strings.Join(parts, "; ")
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
