package validation

import (
	"context"
	"strings"
	"testing"

	"alpha_autotrader/internal/models"
	"alpha_autotrader/internal/research"
)

type stubResearcher struct {
	resp    research.Response
	queries []string
}

func (s *stubResearcher) Research(ctx context.Context, query string) research.Response {
	s.queries = append(s.queries, query)
	return s.resp
}

var policy = Policy{NeutralMinConfidence: 75, BypassMinConfidence: 65}

func signal(conf float64, dir models.Direction) models.TradingSignal {
	return models.TradingSignal{Ticker: "AAPL", Direction: dir, Confidence: conf, StrategyName: "momentum"}
}

func TestValidate_UnavailableBypass(t *testing.T) {
	r := &stubResearcher{resp: research.Response{Error: "research service unavailable: timeout"}}
	v := New(r, policy, nil)

	res, out := v.Validate(context.Background(), signal(72, models.Long))
	if !out.Pass {
		t.Fatalf("Expected pass on bypass, got %q", out.Reason)
	}
	if res.Sentiment != models.Unavailable || res.ConfidenceBucket != "unknown" {
		t.Errorf("Expected unavailable/unknown, got %s/%s", res.Sentiment, res.ConfidenceBucket)
	}
	if res.BypassReason == "" || !strings.Contains(res.BypassReason, "timeout") {
		t.Errorf("Expected bypass reason recorded, got %q", res.BypassReason)
	}

	_, out = v.Validate(context.Background(), signal(58, models.Long))
	if out.Pass {
		t.Errorf("Expected 58 to be dropped")
	}
	if out.Reason == "" {
		t.Errorf("Expected a drop reason")
	}
}

func TestValidate_AgreesAndDisagrees(t *testing.T) {
	r := &stubResearcher{resp: research.Response{Success: true, Answer: "Sentiment: bullish\nConfidence: high\n- Services revenue up\n- Buyback"}}
	v := New(r, policy, nil)

	res, out := v.Validate(context.Background(), signal(61, models.Long))
	if !out.Pass || !res.Agrees {
		t.Errorf("Expected bullish to agree with long, got %+v %+v", res, out)
	}
	if res.ConfidenceBucket != "high" {
		t.Errorf("Expected high bucket, got %s", res.ConfidenceBucket)
	}
	if len(res.KeyPoints) != 2 || res.KeyPoints[0] != "Services revenue up" {
		t.Errorf("Unexpected key points %v", res.KeyPoints)
	}

	_, out = v.Validate(context.Background(), signal(90, models.Short))
	if out.Pass {
		t.Errorf("Expected bullish research to veto a short")
	}
}

func TestValidate_NeutralNeedsHighConfidence(t *testing.T) {
	r := &stubResearcher{resp: research.Response{Success: true, Answer: "Sentiment: neutral. Mixed picture."}}
	v := New(r, policy, nil)

	if _, out := v.Validate(context.Background(), signal(80, models.Long)); !out.Pass {
		t.Errorf("Expected neutral with 80 to pass: %s", out.Reason)
	}
	if _, out := v.Validate(context.Background(), signal(70, models.Long)); out.Pass {
		t.Errorf("Expected neutral with 70 to drop")
	}
}

func TestClassify_Keywords(t *testing.T) {
	tests := []struct {
		answer string
		want   models.Sentiment
	}{
		{"Analysts see upside after the upgrade; outlook positive.", models.Bullish},
		{"A downgrade and a sell rating point to more downside.", models.Bearish},
		{"Nothing notable this week.", models.Neutral},
		{"Some upside but also downside.", models.Neutral},
	}
	for _, tc := range tests {
		if got, _ := Classify(tc.answer); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.answer, got, tc.want)
		}
	}
}

func TestKeyPoints_FallsBackToSentences(t *testing.T) {
	pts := KeyPoints("First point. Second point. Third. Fourth.", 5)
	if len(pts) != 3 || pts[0] != "First point." {
		t.Errorf("Unexpected sentences %v", pts)
	}
}
