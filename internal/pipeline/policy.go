package pipeline

// Policy is the per-run knob set. Zero values fall back to the documented
// defaults via the accessor methods, mirroring internal/config; weights default
// to zero so that absent sentiment/feature inputs leave base scoring unchanged.
type Policy struct {
	// Decision gate.
	MinConfidence  float64 `yaml:"min_confidence" json:"min_confidence,omitempty"`
	MaxRisk        float64 `yaml:"max_risk" json:"max_risk,omitempty"`
	MaxScanRetries int     `yaml:"max_scan_retries" json:"max_scan_retries,omitempty"`

	// Scanner weighting.
	WeightNews          float64 `yaml:"weight_news" json:"weight_news,omitempty"`
	WeightGlobal        float64 `yaml:"weight_global" json:"weight_global,omitempty"`
	RiskNewsPenalty     float64 `yaml:"risk_news_penalty" json:"risk_news_penalty,omitempty"`
	RiskGlobalPenalty   float64 `yaml:"risk_global_penalty" json:"risk_global_penalty,omitempty"`
	ConfidenceNewsBoost float64 `yaml:"confidence_news_boost" json:"confidence_news_boost,omitempty"`
	FeatureScoreWeight  float64 `yaml:"feature_score_weight" json:"feature_score_weight,omitempty"`
	FeatureRiskPenalty  float64 `yaml:"feature_risk_penalty" json:"feature_risk_penalty,omitempty"`
	HighVolRiskPenalty  float64 `yaml:"high_vol_risk_penalty" json:"high_vol_risk_penalty,omitempty"`

	// Exit policy.
	ExitPolicyEnabled bool    `yaml:"exit_policy_enabled" json:"exit_policy_enabled,omitempty"`
	StopLossPct       float64 `yaml:"stop_loss_pct" json:"stop_loss_pct,omitempty"`
	TakeProfitPct     float64 `yaml:"take_profit_pct" json:"take_profit_pct,omitempty"`

	// Position sizing.
	SizingEnabled         bool    `yaml:"sizing_enabled" json:"sizing_enabled,omitempty"`
	RiskPerTradeRatio     float64 `yaml:"risk_per_trade_ratio" json:"risk_per_trade_ratio,omitempty"`
	PositionNotionalRatio float64 `yaml:"position_notional_ratio" json:"position_notional_ratio,omitempty"`
	MaxPositionQty        int     `yaml:"max_position_qty" json:"max_position_qty,omitempty"`
	MinPositionQty        int     `yaml:"min_position_qty" json:"min_position_qty,omitempty"`
	LotSize               int     `yaml:"lot_size" json:"lot_size,omitempty"`

	// Resilience.
	IncidentThreshold    int     `yaml:"incident_threshold" json:"incident_threshold,omitempty"`
	CooldownSec          int64   `yaml:"cooldown_sec" json:"cooldown_sec,omitempty"`
	DegradeNotionalRatio float64 `yaml:"degrade_notional_ratio" json:"degrade_notional_ratio,omitempty"`
}

// Decision-gate defaults applied when the fields are absent.
const (
	DefaultMinConfidence  = 0.6
	DefaultMaxRisk        = 0.7
	DefaultMaxScanRetries = 1
)

func (p Policy) MinConfidenceOrDefault() float64 {
	if p.MinConfidence == 0 {
		return DefaultMinConfidence
	}
	return p.MinConfidence
}

func (p Policy) MaxRiskOrDefault() float64 {
	if p.MaxRisk == 0 {
		return DefaultMaxRisk
	}
	return p.MaxRisk
}

func (p Policy) MaxScanRetriesOrDefault() int {
	if p.MaxScanRetries == 0 {
		return DefaultMaxScanRetries
	}
	if p.MaxScanRetries < 0 {
		return 0
	}
	return p.MaxScanRetries
}
