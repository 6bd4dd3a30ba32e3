package insight

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/observation"
)

// Config holds the analysis rule thresholds. All values are heuristics
// surfaced as configuration, not verified domain truths.
type Config struct {
	// DispersionThreshold is the (max-min)/mean ratio above which the
	// market is flagged as fragmented.
	DispersionThreshold float64
	// CompetitorGapThreshold is the pairwise price gap, as a fraction of
	// the market mean, above which a gap insight fires.
	CompetitorGapThreshold float64
	// HighDemandMonths are calendar months flagged as high-demand season.
	HighDemandMonths []time.Month
}

func DefaultConfig() Config {
	return Config{
		DispersionThreshold:    0.3,
		CompetitorGapThreshold: 0.2,
		HighDemandMonths:       []time.Month{time.November, time.December},
	}
}

// Input is one product's observation set: the current cross-section
// (latest observation per source) plus the time-ordered trailing history.
// YourPrice is the organization's own price; without it the position and
// price-band rules are skipped.
type Input struct {
	ProductID string
	YourPrice *float64
	Current   []observation.Observation
	History   []observation.Observation
}

// Engine runs the analysis rules. It holds configuration only — no
// mutable state — so Analyze is safe to call concurrently.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.DispersionThreshold <= 0 {
		cfg.DispersionThreshold = def.DispersionThreshold
	}
	if cfg.CompetitorGapThreshold <= 0 {
		cfg.CompetitorGapThreshold = def.CompetitorGapThreshold
	}
	if len(cfg.HighDemandMonths) == 0 {
		cfg.HighDemandMonths = def.HighDemandMonths
	}
	return &Engine{cfg: cfg}
}

// Analyze produces a full report. Sparse data degrades the report
// (missing sections, lower confidence) instead of failing.
func (e *Engine) Analyze(in Input) Report {
	report := Report{
		ProductID:   in.ProductID,
		Insights:    []MarketInsight{},
		Trends:      []MarketTrend{},
		Predictions: []PricePrediction{},
		RiskLevel:   RiskLow,
	}

	current := validObservations(in.Current)

	if in.YourPrice != nil && len(current) > 0 {
		pos := Position(*in.YourPrice, current)
		report.Position = &pos
	}

	report.Insights = e.generateInsights(in.YourPrice, current, latestMonth(in))
	report.Trends = e.trends(in.History)
	report.Predictions = e.predictions(in.History, report.Trends)
	report.RiskLevel = riskLevel(report.Insights)

	return report
}

// Position ranks yourPrice inside the current competitor cross-section.
func Position(yourPrice float64, current []observation.Observation) MarketPosition {
	prices := make([]float64, len(current))
	for i, o := range current {
		prices[i] = o.Price
	}
	sort.Float64s(prices)

	minP, maxP := prices[0], prices[len(prices)-1]
	m := mean(prices)

	below := 0
	for _, p := range prices {
		if p < yourPrice {
			below++
		}
	}
	percentile := float64(below) / float64(len(prices)) * 100

	var category Category
	switch {
	case yourPrice <= minP*1.05:
		category = CategoryLeader
	case yourPrice >= maxP*0.95:
		category = CategoryPremium
	case yourPrice <= m:
		category = CategoryFollower
	default:
		category = CategoryBudget
	}

	dispersion := 0.0
	concentration := 1.0
	if m > 0 {
		dispersion = (maxP - minP) / m
		concentration = 1 / (1 + variance(prices)/(m*m))
	}

	strength := clamp(
		0.6*(1-percentile/100)+0.25*concentration+0.15*(1-math.Min(dispersion, 1)),
		0, 1,
	)

	return MarketPosition{
		YourPrice:     yourPrice,
		Percentile:    percentile,
		Category:      category,
		Strength:      strength,
		MarketMin:     minP,
		MarketMax:     maxP,
		MarketMean:    m,
		Dispersion:    dispersion,
		Concentration: concentration,
		SampleSize:    len(prices),
	}
}

func (e *Engine) generateInsights(yourPrice *float64, current []observation.Observation, month time.Month) []MarketInsight {
	insights := []MarketInsight{}
	if len(current) == 0 {
		return insights
	}

	prices := make([]float64, len(current))
	for i, o := range current {
		prices[i] = o.Price
	}
	m := mean(prices)
	sd := stdev(prices)

	// Rule: fragmented market.
	if m > 0 && len(prices) >= 2 {
		minP, maxP := prices[0], prices[0]
		for _, p := range prices {
			minP = math.Min(minP, p)
			maxP = math.Max(maxP, p)
		}
		dispersion := (maxP - minP) / m
		if dispersion > e.cfg.DispersionThreshold {
			insights = append(insights, MarketInsight{
				Type:        TypeOpportunity,
				Severity:    SeverityMedium,
				Confidence:  0.75,
				Title:       "Fragmented competitor pricing",
				Description: fmt.Sprintf("Competitor prices spread %.0f%% of the market mean; buyers see very different prices for the same product.", dispersion*100),
				Recommendations: []string{
					"Position against the cheapest credible competitor, not the average.",
					"Revisit pricing weekly while the spread persists.",
				},
				Data: map[string]float64{"dispersion": dispersion},
			})
		}
	}

	// Rule: distance from the market band.
	if yourPrice != nil && sd > 0 {
		d := (*yourPrice - m) / sd
		switch {
		case d > 2:
			insights = append(insights, MarketInsight{
				Type:        TypeThreat,
				Severity:    SeverityCritical,
				Confidence:  0.8,
				Title:       "Far above the market band",
				Description: fmt.Sprintf("Your price sits %.1f standard deviations above the competitor mean.", d),
				Recommendations: []string{
					"Reduce price or justify the premium with differentiated value.",
				},
				Data: map[string]float64{"stdevDistance": d},
			})
		case d > 1:
			insights = append(insights, MarketInsight{
				Type:        TypeThreat,
				Severity:    SeverityHigh,
				Confidence:  0.8,
				Title:       "Priced above the market band",
				Description: fmt.Sprintf("Your price sits %.1f standard deviations above the competitor mean.", d),
				Recommendations: []string{
					"Consider a targeted price reduction to stay inside the band.",
				},
				Data: map[string]float64{"stdevDistance": d},
			})
		case d < -1:
			insights = append(insights, MarketInsight{
				Type:        TypeOpportunity,
				Severity:    SeverityMedium,
				Confidence:  0.8,
				Title:       "Headroom below the market band",
				Description: fmt.Sprintf("Your price sits %.1f standard deviations below the competitor mean.", -d),
				Recommendations: []string{
					"Test a price increase; the market supports higher prices.",
				},
				Data: map[string]float64{"stdevDistance": d},
			})
		}
	}

	// Rule: largest pairwise competitor gap.
	if m > 0 && len(current) >= 2 {
		sorted := make([]observation.Observation, len(current))
		copy(sorted, current)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].SourceID < sorted[j].SourceID })

		var gapA, gapB string
		maxGap := 0.0
		for i := 0; i < len(sorted); i++ {
			for j := i + 1; j < len(sorted); j++ {
				gap := math.Abs(sorted[i].Price-sorted[j].Price) / m
				if gap > maxGap {
					maxGap = gap
					gapA, gapB = sorted[i].SourceID, sorted[j].SourceID
				}
			}
		}
		if maxGap > e.cfg.CompetitorGapThreshold {
			insights = append(insights, MarketInsight{
				Type:        TypeTrend,
				Severity:    SeverityLow,
				Confidence:  0.7,
				Title:       "Large gap between major competitors",
				Description: fmt.Sprintf("%s and %s differ by %.0f%% of the market mean.", gapA, gapB, maxGap*100),
				Recommendations: []string{
					"Watch both ends of the gap; one of them is likely to move.",
				},
				Data: map[string]float64{"gapRatio": maxGap},
			})
		}
	}

	// Rule: high-demand season.
	for _, hm := range e.cfg.HighDemandMonths {
		if month == hm {
			insights = append(insights, MarketInsight{
				Type:        TypeRecommendation,
				Severity:    SeverityLow,
				Confidence:  0.6,
				Title:       "High-demand season",
				Description: fmt.Sprintf("%s is a high-demand month; demand elasticity is typically lower.", month),
				Recommendations: []string{
					"Hold or raise prices during peak demand.",
					"Tighten tracking cadence on key competitors.",
				},
			})
			break
		}
	}

	return insights
}

// trends fits one trend per source present in the history.
func (e *Engine) trends(history []observation.Observation) []MarketTrend {
	bySource := make(map[string][]float64)
	for _, o := range history {
		if o.Price > 0 {
			bySource[o.SourceID] = append(bySource[o.SourceID], o.Price)
		}
	}

	ids := make([]string, 0, len(bySource))
	for id := range bySource {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	trends := []MarketTrend{}
	for _, id := range ids {
		prices := bySource[id]
		if len(prices) < 2 {
			continue
		}
		trends = append(trends, Trend(id, prices))
	}
	return trends
}

// Trend fits a normalized OLS trend to a time-ordered price series.
func Trend(sourceID string, prices []float64) MarketTrend {
	m := mean(prices)
	slope := 0.0
	if m > 0 {
		slope = olsSlope(prices) / m
	}

	direction := DirectionStable
	switch {
	case slope > 0.01:
		direction = DirectionUp
	case slope < -0.01:
		direction = DirectionDown
	}

	return MarketTrend{
		SourceID:   sourceID,
		Direction:  direction,
		Slope:      slope,
		Volatility: stdev(returns(prices)),
		SampleSize: len(prices),
	}
}

var timeframes = []struct {
	label string
	days  int
}{
	{"24h", 1},
	{"7d", 7},
	{"30d", 30},
}

func (e *Engine) predictions(history []observation.Observation, trends []MarketTrend) []PricePrediction {
	latest := make(map[string]float64)
	for _, o := range history {
		if o.Price > 0 {
			latest[o.SourceID] = o.Price // history is time-ordered ascending
		}
	}

	preds := []PricePrediction{}
	for _, tr := range trends {
		cur, ok := latest[tr.SourceID]
		if !ok {
			continue
		}
		conf := predictionConfidence(tr)
		for _, tf := range timeframes {
			preds = append(preds, PricePrediction{
				SourceID:       tr.SourceID,
				Timeframe:      tf.label,
				Days:           tf.days,
				PredictedPrice: math.Max(0, cur*(1+tr.Slope*float64(tf.days))),
				Confidence:     conf,
				Direction:      tr.Direction,
				Volatility:     tr.Volatility,
			})
		}
	}
	return preds
}

// predictionConfidence combines sample size, inverse volatility, and
// trend magnitude, clamped to [0.1, 0.95].
func predictionConfidence(tr MarketTrend) float64 {
	sizeScore := math.Min(float64(tr.SampleSize), 30) / 30
	volScore := 1 / (1 + 10*tr.Volatility)
	magScore := math.Min(math.Abs(tr.Slope)*50, 1)
	return clamp(0.4*sizeScore+0.4*volScore+0.2*magScore, 0.1, 0.95)
}

// riskLevel derives overall risk from threat-typed insights.
func riskLevel(insights []MarketInsight) RiskLevel {
	var critical, high, medium int
	for _, in := range insights {
		if in.Type != TypeThreat {
			continue
		}
		switch in.Severity {
		case SeverityCritical:
			critical++
		case SeverityHigh:
			high++
		case SeverityMedium:
			medium++
		}
	}

	switch {
	case critical > 0:
		return RiskCritical
	case high > 2:
		return RiskHigh
	case high > 0 || medium > 3:
		return RiskMedium
	default:
		return RiskLow
	}
}

func validObservations(obs []observation.Observation) []observation.Observation {
	out := make([]observation.Observation, 0, len(obs))
	for _, o := range obs {
		if o.Price > 0 {
			out = append(out, o)
		}
	}
	return out
}

// latestMonth derives the calendar month for seasonality rules from the
// newest capture timestamp in the input, keeping Analyze clock-free.
func latestMonth(in Input) time.Month {
	var latest time.Time
	for _, o := range in.Current {
		if o.CapturedAt.After(latest) {
			latest = o.CapturedAt
		}
	}
	for _, o := range in.History {
		if o.CapturedAt.After(latest) {
			latest = o.CapturedAt
		}
	}
	return latest.Month()
}
