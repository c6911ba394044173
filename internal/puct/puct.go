// Package puct implements the AZ-PUCT / SBLE-PUCT child scorer (component
// C): given a parent and its children, it scores each candidate, narrows
// exploration to a shrinking top-K ("elimination"), and gates whether the
// resulting backpropagation should update running value averages or visit
// counts only ("selective backpropagation").
package puct

import (
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/zerocoach/engine/internal/node"
)

// Params collects the operational knobs from spec §6.5 that this package
// consumes.
type Params struct {
	CPuctInit                    float64
	CPuctBase                    float64
	LinearRate                   float64
	LinearDelay                  float64
	VirtualLossCoefficient       float64
	BackpropagationPuctThreshold float64
	EliminationBaseExponent      float64
}

// Selection is the result of scoring one parent's children.
type Selection struct {
	BestIndex       int  // -1 if every child is blocked (Expanding)
	BackpropWeight  uint8
	MaxAzPuct       float64
	AzPuctOfBest    float64
}

func valueWithVirtualLoss(c *node.Node, params Params) float64 {
	if score, ok := c.BoundScore(); ok {
		return float64(score)
	}
	safeWeight := float64(c.ValueWeight())
	if safeWeight < 1 {
		safeWeight = 1
	}
	virtualLossCount := float64(c.VisitingCount()) * params.VirtualLossCoefficient
	return float64(c.ValueAverage()) * safeWeight / (safeWeight + virtualLossCount)
}

func mateScore(explore float64, c *node.Node) float64 {
	if !c.IsMateForSide() {
		return 0
	}
	k := float64(c.MateDistance())
	return explore * math.Exp2(-k)
}

// AzPuct computes the AlphaZero-PUCT score of child c under parent p.
func AzPuct(p, c *node.Node, params Params) float64 {
	virtP := float64(p.VisitCount()) + float64(p.VisitingCount())
	virtC := float64(c.VisitCount()) + float64(c.VisitingCount())

	explore := (math.Log((virtP+params.CPuctBase+1)/params.CPuctBase) + params.CPuctInit) * math.Sqrt(virtP)
	prior := float64(c.QuantizedPrior) / 65535.0

	score := valueWithVirtualLoss(c, params) + explore*prior/(virtC+1) + mateScore(explore, c)
	return score
}

// SblePuct adds the linear-exploration term on top of an already-computed
// AZ-PUCT score.
func SblePuct(azPuct float64, p, c *node.Node, params Params) float64 {
	virtP := float64(p.VisitCount()) + float64(p.VisitingCount())
	virtC := float64(c.VisitCount()) + float64(c.VisitingCount())
	return azPuct + virtP/(params.LinearRate*virtC+params.LinearDelay)
}

// eliminationTopCount computes how many children get the SBLE linear bonus.
// It shrinks from childCount toward 2 as eliminationFraction advances toward
// 1, scaled by this parent's share of the overall root visit count (a
// parent far from the root, or barely visited, keeps full exploration
// longer than the root itself).
func eliminationTopCount(childCount int, eliminationFraction, parentShare, baseExponent float64) int {
	if childCount <= 2 {
		return childCount
	}
	exponent := 1 - eliminationFraction*parentShare*baseExponent
	minExponent := math.Log(2) / math.Log(float64(childCount))
	if exponent < minExponent {
		exponent = minExponent
	}
	if exponent > 1 {
		exponent = 1
	}
	top := int(math.Ceil(math.Pow(float64(childCount), exponent)))
	if top < 2 {
		top = 2
	}
	if top > childCount {
		top = childCount
	}
	return top
}

// SelectChild runs the full selection algorithm described in spec §4.3.
// rootVisitCount is the visit count of the search root, used to compute
// this parent's share for elimination scaling (pass p.VisitCount() itself
// when p is the root).
func SelectChild(p *node.Node, params Params, eliminationFraction float64, rootVisitCount uint32) Selection {
	children := p.Children()
	n := len(children)
	if n == 0 {
		return Selection{BestIndex: -1}
	}

	az := make([]float64, n)
	for i := range children {
		az[i] = AzPuct(p, &children[i], params)
	}

	rvc := float64(rootVisitCount)
	if rvc < 1 {
		rvc = 1
	}
	parentShare := float64(p.VisitCount()) / rvc
	topCount := eliminationTopCount(n, eliminationFraction, parentShare, params.EliminationBaseExponent)

	order := lo.Range(n)
	sort.Slice(order, func(i, j int) bool { return az[order[i]] > az[order[j]] })

	inTop := lo.SliceToMap(order[:topCount], func(idx int) (int, bool) { return idx, true })

	selectionScore := make([]float64, n)
	for i := range children {
		if inTop[i] {
			selectionScore[i] = SblePuct(az[i], p, &children[i], params)
		} else {
			selectionScore[i] = az[i]
		}
	}

	maxAz := lo.Max(az)

	bestIdx := -1
	bestScore := math.Inf(-1)
	for i := range children {
		if children[i].ExpansionState() == node.ExpansionExpanding {
			continue // blocked
		}
		if selectionScore[i] > bestScore {
			bestScore = selectionScore[i]
			bestIdx = i
		}
	}

	sel := Selection{BestIndex: bestIdx, MaxAzPuct: maxAz}
	if bestIdx == -1 {
		sel.BackpropWeight = 0
		return sel
	}
	sel.AzPuctOfBest = az[bestIdx]
	if maxAz-az[bestIdx] <= params.BackpropagationPuctThreshold {
		sel.BackpropWeight = 1
	}
	return sel
}
