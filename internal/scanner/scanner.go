package scanner

import (
	"hash/fnv"
	"sort"

	"github.com/Rajchodisetti/commander/internal/features"
	"github.com/Rajchodisetti/commander/internal/pipeline"
)

// Scan scores every symbol on the run state, ranks the results and selects
// exactly one top candidate. Recomputed from scratch on every pass; with all
// weights at zero and no inputs, ranking reduces to the unweighted base.
func Scan(st *pipeline.RunState) {
	pol := st.Policy
	cands := make([]pipeline.Candidate, 0, len(st.Symbols))

	for _, sym := range st.Symbols {
		base := baseScore(sym, st.BaseOverrides)

		var row *features.Row
		if st.Candles != nil {
			row = features.BuildRow(st.Candles[sym], features.DefaultThresholds())
		}

		news := st.NewsSentiment[sym]
		global := st.GlobalSentiment
		openOrders := float64(min(st.OpenOrders[sym], 3))

		signal := 0.0
		highVol := false
		if row != nil {
			signal = clamp(row.SignalScore, -1, 1)
			highVol = row.Regime == features.RegimeHighVolatility
		}

		quoteBonus := 0.0
		if st.Quotes[sym] > 0 {
			quoteBonus = 0.02
		}

		score := base.Score +
			pol.WeightNews*news +
			pol.WeightGlobal*global +
			pol.FeatureScoreWeight*signal +
			quoteBonus -
			0.05*openOrders

		risk := base.RiskScore +
			pol.RiskNewsPenalty*maxf(-news, 0) +
			pol.RiskGlobalPenalty*maxf(-global, 0) +
			pol.FeatureRiskPenalty*maxf(-signal, 0) +
			0.10*openOrders
		if highVol {
			risk += pol.HighVolRiskPenalty
		}
		risk = clamp(risk, 0, 1)

		conf := clamp(base.Confidence+
			pol.ConfidenceNewsBoost*maxf(news, 0)-
			0.05*openOrders, 0, 1)

		cands = append(cands, pipeline.Candidate{
			Symbol:     sym,
			Score:      score,
			RiskScore:  risk,
			Confidence: conf,
			Features:   row,
			Components: map[string]float64{
				"base":        base.Score,
				"news":        pol.WeightNews * news,
				"global":      pol.WeightGlobal * global,
				"feature":     pol.FeatureScoreWeight * signal,
				"quote":       quoteBonus,
				"open_orders": -0.05 * openOrders,
			},
		})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if cands[i].Confidence != cands[j].Confidence {
			return cands[i].Confidence > cands[j].Confidence
		}
		return cands[i].RiskScore < cands[j].RiskScore
	})

	st.Candidates = cands
	st.Selected = nil
	if len(cands) > 0 {
		top := cands[0]
		st.Selected = &top
	}
}

// baseScore prefers the test-injectable override map, falling back to a
// deterministic hash-derived placeholder so ranking is stable without a
// research-grade base model.
func baseScore(symbol string, overrides map[string]pipeline.BaseScore) pipeline.BaseScore {
	if b, ok := overrides[symbol]; ok {
		return b
	}
	h := fnv.New32a()
	h.Write([]byte(symbol))
	v := h.Sum32()
	return pipeline.BaseScore{
		Score:      0.30 + float64(v%400)/1000,       // [0.30, 0.70)
		RiskScore:  0.20 + float64((v/7)%300)/1000,   // [0.20, 0.50)
		Confidence: 0.40 + float64((v/13)%300)/1000,  // [0.40, 0.70)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
