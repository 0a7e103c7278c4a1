// Package attack turns per-position payload sequences into an index-addressable sequence of substitution tuples.
// Nothing here materializes the tuple list: a tuple is computed from its index on demand, which is what makes
// pause/resume and arbitrarily large cluster bombs cheap.
package attack

import (
	"math"

	"github.com/BetterCallFirewall/Intruder/internal/models"
)

// Baseline marks a position that keeps its baseline value in a tuple (sniper only).
const Baseline = -1

// Validate checks that an attack type can run over the given sequence lengths.
func Validate(t models.AttackType, lengths []int) error {
	if !t.Valid() {
		return models.ConfigErr("validate attack", models.ErrInvalidAttackType, "%q", t)
	}
	if len(lengths) == 0 {
		return models.ConfigErr("validate attack", models.ErrNoPositions, "")
	}
	if len(lengths) < t.MinPositions() {
		return models.ConfigErr("validate attack", models.ErrTooFewPositions,
			"%s needs at least %d positions, %d bound", t, t.MinPositions(), len(lengths))
	}
	for i, l := range lengths {
		if l <= 0 {
			return models.ConfigErr("validate attack", models.ErrEmptyPayloadSet, "position %d", i)
		}
	}
	return nil
}

// TotalCount returns how many tuples the attack produces.
//
//	sniper:         sum of lengths
//	battering_ram:  min of lengths
//	pitchfork:      min of lengths
//	cluster_bomb:   product of lengths
func TotalCount(t models.AttackType, lengths []int) (int64, error) {
	if err := Validate(t, lengths); err != nil {
		return 0, err
	}

	switch t {
	case models.AttackSniper:
		var total int64
		for _, l := range lengths {
			total += int64(l)
		}
		return total, nil
	case models.AttackBatteringRam, models.AttackPitchfork:
		return int64(lengths[shortest(lengths)]), nil
	default:
		total := int64(1)
		for _, l := range lengths {
			if total > math.MaxInt64/int64(l) {
				return 0, models.ConfigErr("count tuples", models.ErrTooManyRequests, "cluster bomb product overflows")
			}
			total *= int64(l)
		}
		return total, nil
	}
}

// TupleAt returns the payload index chosen for every position by tuple number index.
// Sniper tuples carry Baseline for every position except the one being attacked.
// Cluster bomb tuples follow odometer order: the last position cycles fastest.
func TupleAt(t models.AttackType, lengths []int, index int64) ([]int, error) {
	total, err := TotalCount(t, lengths)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= total {
		return nil, models.ConfigErr("tuple at", models.ErrInvalidSettings, "index %d outside [0,%d)", index, total)
	}

	tuple := make([]int, len(lengths))
	switch t {
	case models.AttackSniper:
		for i := range tuple {
			tuple[i] = Baseline
		}
		for i, l := range lengths {
			if index < int64(l) {
				tuple[i] = int(index)
				break
			}
			index -= int64(l)
		}
	case models.AttackBatteringRam, models.AttackPitchfork:
		for i := range tuple {
			tuple[i] = int(index)
		}
	case models.AttackClusterBomb:
		for i := len(lengths) - 1; i >= 0; i-- {
			l := int64(lengths[i])
			tuple[i] = int(index % l)
			index /= l
		}
	}
	return tuple, nil
}

// shortest returns the index of the shortest sequence, the lowest index on ties.
func shortest(lengths []int) int {
	best := 0
	for i, l := range lengths {
		if l < lengths[best] {
			best = i
		}
	}
	return best
}
