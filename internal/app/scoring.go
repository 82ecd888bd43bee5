package app

import "time"

// fullFactorBP is a 100% time bonus expressed in basis points.
const fullFactorBP = 10000

// ScoringPolicy turns the effective answer time of a correct answer into points.
type ScoringPolicy interface {
	Points(timeTakenMs, limitMs int64) int64
}

// TimeBonusPolicy awards BasePoints scaled linearly from 100% at zero time
// down to MinFactorBP at the time limit. All arithmetic is integer.
type TimeBonusPolicy struct {
	BasePoints  int64
	MinFactorBP int64
}

// DefaultScoringPolicy is 1000 points with a 50% floor.
func DefaultScoringPolicy() TimeBonusPolicy {
	return TimeBonusPolicy{BasePoints: 1000, MinFactorBP: 5000}
}

// FactorBP returns the time bonus factor in basis points, clamped to [MinFactorBP, 10000].
func (p TimeBonusPolicy) FactorBP(timeTakenMs, limitMs int64) int64 {
	minBP := p.MinFactorBP
	if minBP < 0 {
		minBP = 0
	}
	if minBP > fullFactorBP {
		minBP = fullFactorBP
	}
	if limitMs <= 0 {
		return minBP
	}
	if timeTakenMs < 0 {
		timeTakenMs = 0
	}
	if timeTakenMs > limitMs {
		timeTakenMs = limitMs
	}
	factor := fullFactorBP - timeTakenMs*(fullFactorBP-minBP)/limitMs
	if factor < minBP {
		return minBP
	}
	if factor > fullFactorBP {
		return fullFactorBP
	}
	return factor
}

// Points implements ScoringPolicy.
func (p TimeBonusPolicy) Points(timeTakenMs, limitMs int64) int64 {
	return p.BasePoints * p.FactorBP(timeTakenMs, limitMs) / fullFactorBP
}

// EffectiveTimeMs is the client-reported time, raised to at least the server
// elapsed time minus the latency allowance, capped at the limit.
func EffectiveTimeMs(clientMs int64, serverElapsed, allowance time.Duration, limitMs int64) int64 {
	effective := clientMs
	if effective < 0 {
		effective = 0
	}
	if floor := (serverElapsed - allowance).Milliseconds(); floor > effective {
		effective = floor
	}
	if limitMs > 0 && effective > limitMs {
		effective = limitMs
	}
	return effective
}
