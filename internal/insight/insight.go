// Package insight computes market position, insights, trends, and price
// predictions from observation sets. Everything here is a pure function
// of its inputs: no I/O, no clock, no randomness, so identical inputs
// always produce identical reports.
package insight

type InsightType string

const (
	TypeOpportunity    InsightType = "opportunity"
	TypeThreat         InsightType = "threat"
	TypeTrend          InsightType = "trend"
	TypeRecommendation InsightType = "recommendation"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type Direction string

const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionStable Direction = "stable"
)

type Category string

const (
	CategoryLeader   Category = "leader"
	CategoryFollower Category = "follower"
	CategoryBudget   Category = "budget"
	CategoryPremium  Category = "premium"
)

// MarketPosition places the organization's price inside the current
// competitor cross-section.
type MarketPosition struct {
	YourPrice     float64  `json:"yourPrice"`
	Percentile    float64  `json:"percentile"`
	Category      Category `json:"category"`
	Strength      float64  `json:"strength"`
	MarketMin     float64  `json:"marketMin"`
	MarketMax     float64  `json:"marketMax"`
	MarketMean    float64  `json:"marketMean"`
	Dispersion    float64  `json:"dispersion"`
	Concentration float64  `json:"concentration"`
	SampleSize    int      `json:"sampleSize"`
}

// MarketInsight is one fired analysis rule. Regenerated fresh on each
// pass, never persisted as mutable state.
type MarketInsight struct {
	Type            InsightType        `json:"type"`
	Severity        Severity           `json:"severity"`
	Confidence      float64            `json:"confidence"`
	Title           string             `json:"title"`
	Description     string             `json:"description"`
	Recommendations []string           `json:"recommendations,omitempty"`
	Data            map[string]float64 `json:"data,omitempty"`
}

// MarketTrend is the fitted price trajectory for one source's series.
// Slope is the OLS slope normalized by the series mean: fractional price
// change per observation period.
type MarketTrend struct {
	SourceID   string    `json:"sourceId"`
	Direction  Direction `json:"direction"`
	Slope      float64   `json:"slope"`
	Volatility float64   `json:"volatility"`
	SampleSize int       `json:"sampleSize"`
}

// PricePrediction extrapolates one source's trend over a timeframe.
type PricePrediction struct {
	SourceID       string    `json:"sourceId"`
	Timeframe      string    `json:"timeframe"`
	Days           int       `json:"days"`
	PredictedPrice float64   `json:"predictedPrice"`
	Confidence     float64   `json:"confidence"`
	Direction      Direction `json:"direction"`
	Volatility     float64   `json:"volatility"`
}

// Report is one full analysis pass over a product's observation set.
type Report struct {
	ProductID   string            `json:"productId"`
	Position    *MarketPosition   `json:"position,omitempty"`
	Insights    []MarketInsight   `json:"insights"`
	Trends      []MarketTrend     `json:"trends"`
	Predictions []PricePrediction `json:"predictions"`
	RiskLevel   RiskLevel         `json:"riskLevel"`
}
