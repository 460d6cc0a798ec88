package decision

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"alpha_autotrader/internal/models"

	"github.com/shopspring/decimal"
)

// Outcome classifies one decoded decision.
type Outcome int

const (
	// Valid items had the expected types throughout.
	Valid Outcome = iota
	// Repairable items needed coercion but yielded a usable decision.
	Repairable
	// Invalid items are replaced by a hold.
	Invalid
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Repairable:
		return "repairable"
	default:
		return "invalid"
	}
}

// Item is one ticker's decoded decision.
type Item struct {
	Ticker   string
	Outcome  Outcome
	Decision models.PortfolioDecision
	// HasQuantity is false when the model omitted a quantity.
	HasQuantity bool
	Problems    []string
}

var errNoJSON = errors.New("no JSON object or array in response")

var actionSynonyms = map[string]models.Action{
	"long":         models.ActionBuy,
	"open_long":    models.ActionBuy,
	"enter_long":   models.ActionBuy,
	"close_long":   models.ActionSell,
	"exit_long":    models.ActionSell,
	"close":        models.ActionSell,
	"exit":         models.ActionSell,
	"open_short":   models.ActionShort,
	"sell_short":   models.ActionShort,
	"close_short":  models.ActionCover,
	"buy_to_cover": models.ActionCover,
	"wait":         models.ActionHold,
	"none":         models.ActionHold,
	"no_action":    models.ActionHold,
	"cancel_order": models.ActionCancel,
}

// Decode extracts per-ticker decisions from untrusted model output. Accepted
// shapes: a map keyed by ticker (top level or under "decisions"), a list of
// objects carrying "ticker" or "symbol", or a single such object. Anything
// else is an error and the caller falls back to holds.
func Decode(raw string) (map[string]Item, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}

	out := make(map[string]Item)
	if err := decodeShape(v, out, 0); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeShape(v any, out map[string]Item, depth int) error {
	if depth > 2 {
		return fmt.Errorf("unrecognized decision shape")
	}
	switch t := v.(type) {
	case map[string]any:
		if inner, ok := lookup(t, "decisions", "portfolio_decisions", "results"); ok {
			return decodeShape(inner, out, depth+1)
		}
		if ticker, ok := tickerOf(t); ok {
			item := decodeItem(ticker, t)
			item.Problems = append(item.Problems, "single object instead of map")
			if item.Outcome == Valid {
				item.Outcome = Repairable
			}
			out[ticker] = item
			return nil
		}
		for k, val := range t {
			ticker := normalizeTicker(k)
			if ticker == "" {
				continue
			}
			out[ticker] = decodeValue(ticker, val)
		}
		return nil
	case []any:
		for _, el := range t {
			obj, ok := el.(map[string]any)
			if !ok {
				continue
			}
			ticker, ok := tickerOf(obj)
			if !ok {
				continue
			}
			item := decodeItem(ticker, obj)
			item.Problems = append(item.Problems, "list instead of map")
			if item.Outcome == Valid {
				item.Outcome = Repairable
			}
			out[ticker] = item
		}
		return nil
	default:
		return fmt.Errorf("unrecognized decision shape %T", v)
	}
}

// decodeValue handles the value under a ticker key: an object, or a
// positional list [action, quantity, confidence, reasoning].
func decodeValue(ticker string, v any) Item {
	switch t := v.(type) {
	case map[string]any:
		return decodeItem(ticker, t)
	case []any:
		obj := map[string]any{}
		keys := []string{"action", "quantity", "confidence", "reasoning"}
		for i, el := range t {
			if i < len(keys) {
				obj[keys[i]] = el
			}
		}
		item := decodeItem(ticker, obj)
		item.Problems = append(item.Problems, "positional list instead of object")
		if item.Outcome == Valid {
			item.Outcome = Repairable
		}
		return item
	case string:
		// "buy" or "hold" alone.
		item := decodeItem(ticker, map[string]any{"action": t})
		item.Problems = append(item.Problems, "bare string instead of object")
		if item.Outcome == Valid {
			item.Outcome = Repairable
		}
		return item
	default:
		return Item{Ticker: ticker, Outcome: Invalid, Problems: []string{fmt.Sprintf("unexpected value type %T", v)}}
	}
}

func decodeItem(ticker string, obj map[string]any) Item {
	item := Item{Ticker: ticker, Outcome: Valid}
	repaired := func(msg string) {
		item.Problems = append(item.Problems, msg)
		if item.Outcome == Valid {
			item.Outcome = Repairable
		}
	}
	invalid := func(msg string) {
		item.Problems = append(item.Problems, msg)
		item.Outcome = Invalid
	}

	// Action
	rawAction, ok := lookup(obj, "action", "decision", "signal")
	if !ok {
		invalid("missing action")
		return item
	}
	actionStr, ok := rawAction.(string)
	if !ok {
		invalid(fmt.Sprintf("action has type %T", rawAction))
		return item
	}
	action, exact := parseAction(actionStr)
	if action == "" {
		invalid(fmt.Sprintf("unknown action %q", actionStr))
		return item
	}
	if !exact {
		repaired(fmt.Sprintf("action %q read as %s", actionStr, action))
	}
	item.Decision.Action = action

	// Quantity
	if rawQty, ok := obj["quantity"]; ok {
		q, err := toDecimal(rawQty, repaired)
		if err != nil {
			invalid("quantity: " + err.Error())
			return item
		}
		item.Decision.Quantity = q
		item.HasQuantity = true
	} else if rawQty, ok := lookup(obj, "qty", "shares", "size"); ok {
		repaired("quantity under alternate key")
		q, err := toDecimal(rawQty, repaired)
		if err != nil {
			invalid("quantity: " + err.Error())
			return item
		}
		item.Decision.Quantity = q
		item.HasQuantity = true
	}
	if item.Decision.Quantity.IsNegative() {
		repaired("negative quantity")
		item.Decision.Quantity = item.Decision.Quantity.Abs()
	}
	if !item.HasQuantity && action != models.ActionHold {
		invalid("missing quantity")
		return item
	}

	// Confidence
	if rawConf, ok := lookup(obj, "confidence", "confidence_score"); ok {
		c, err := toDecimal(rawConf, repaired)
		if err != nil {
			repaired("unreadable confidence")
		} else {
			if c.IsPositive() && c.LessThanOrEqual(decimal.NewFromInt(1)) && !c.IsInteger() {
				repaired("confidence scaled from 0-1")
				c = c.Mul(decimal.NewFromInt(100))
			}
			item.Decision.Confidence, _ = c.Float64()
		}
	} else {
		repaired("missing confidence")
	}

	// Reasoning
	if rawReason, ok := lookup(obj, "reasoning", "reason", "rationale"); ok {
		if s, ok := rawReason.(string); ok {
			item.Decision.Reasoning = s
		} else {
			repaired("reasoning not a string")
			item.Decision.Reasoning = fmt.Sprint(rawReason)
		}
	}
	return item
}

// parseAction maps model text to an Action. exact is false when the text
// needed normalisation.
func parseAction(s string) (models.Action, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(strings.ReplaceAll(norm, " ", "_"), "-", "_")
	for _, a := range models.AllActions {
		if norm == string(a) {
			return a, s == string(a)
		}
	}
	if a, ok := actionSynonyms[norm]; ok {
		return a, false
	}
	return "", false
}

// Bounds on numbers read from model output. Comparing a decimal rescales
// both sides, so an extreme exponent costs time and memory proportional to it.
const (
	maxNumberExponent = 9
	minNumberExponent = -12
	maxNumberDigits   = 20
)

func toDecimal(v any, repaired func(string)) (decimal.Decimal, error) {
	switch t := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero, err
		}
		return d, checkMagnitude(d)
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%"))
		s = strings.ReplaceAll(s, ",", "")
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("not a number: %q", t)
		}
		if err := checkMagnitude(d); err != nil {
			return decimal.Zero, err
		}
		repaired(fmt.Sprintf("numeric string %q", t))
		return d, nil
	case nil:
		repaired("null number")
		return decimal.Zero, nil
	default:
		return decimal.Zero, fmt.Errorf("unexpected type %T", v)
	}
}

func lookup(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func tickerOf(obj map[string]any) (string, bool) {
	v, ok := lookup(obj, "ticker", "symbol")
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	t := normalizeTicker(s)
	return t, t != ""
}

func normalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// extractJSON strips code fences and smart quotes and returns the first
// balanced JSON object or array in the text.
func extractJSON(raw string) (string, error) {
	s := fixQuotes(raw)
	if i := strings.Index(s, "```"); i != -1 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl != -1 && !strings.ContainsAny(rest[:nl], "{[") {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j != -1 {
			rest = rest[:j]
		}
		s = rest
	}

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return "", errNoJSON
	}
	end := findMatchingBracket(s, start)
	if end == -1 {
		return "", fmt.Errorf("unbalanced JSON starting at %d", start)
	}
	return strings.TrimSpace(s[start : end+1]), nil
}

func fixQuotes(s string) string {
	r := strings.NewReplacer("“", "\"", "”", "\"", "‘", "'", "’", "'")
	return r.Replace(s)
}

// findMatchingBracket returns the index closing the bracket at start,
// ignoring brackets inside string literals.
func findMatchingBracket(s string, start int) int {
	if start >= len(s) || (s[start] != '[' && s[start] != '{') {
		return -1
	}

	var stack bytes.Buffer
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			stack.WriteByte(c)
		case ']', '}':
			if stack.Len() == 0 {
				return -1
			}
			top := stack.Bytes()[stack.Len()-1]
			if (c == ']' && top != '[') || (c == '}' && top != '{') {
				return -1
			}
			stack.Truncate(stack.Len() - 1)
			if stack.Len() == 0 {
				return i
			}
		}
	}
	return -1
}

// checkMagnitude rejects numbers no quantity or confidence can take. It
// looks only at the parsed parts and never compares.
func checkMagnitude(d decimal.Decimal) error {
	exp := d.Exponent()
	if exp > maxNumberExponent || exp < minNumberExponent {
		return fmt.Errorf("number out of range (exponent %d)", exp)
	}
	if n := len(d.Coefficient().String()); n > maxNumberDigits {
		return fmt.Errorf("number out of range (%d digits)", n)
	}
	return nil
}
