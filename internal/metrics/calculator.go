package metrics

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"nockwatch/internal/chain"
)

const (
	// BlocksPerEpoch is the chain's difficulty retarget interval.
	BlocksPerEpoch = 2016
	// TargetBlockSeconds is the block interval each retarget aims for.
	TargetBlockSeconds = 600
)

// Snapshot is one derived view of mining health. Numeric fields are
// authoritative; the string fields are pre-rendered for direct display.
// Quantities that cannot be derived from the underlying samples carry
// zero numerics and "N/A" renderings, except proofrate which is defined
// as exactly 0.
type Snapshot struct {
	Height       uint64
	EpochCounter uint64
	ObservedAt   time.Time

	ProofrateMPS       float64
	DifficultyExponent float64
	AvgBlockSeconds    float64
	EpochBlock         uint64
	EpochPercentage    float64
	BlocksToAdjust     uint64
	SecondsToAdjust    float64
	AdjustmentRatio    float64

	Proofrate      string
	Difficulty     string
	AvgBlockTime   string
	EpochProgress  string
	TimeToAdjust   string
	NextAdjustment string
}

// Derive computes a snapshot from an anchor sample and the tip sample.
// The anchor sits a configured number of blocks behind the tip; the
// interval count is the actual height delta so a young chain shorter
// than the lookback still yields correct rates.
func Derive(anchor, tip *chain.Block, at time.Time) Snapshot {
	s := Snapshot{
		Height:         tip.Height,
		EpochCounter:   tip.EpochCounter,
		ObservedAt:     at,
		Proofrate:      "0.00 KP/s",
		Difficulty:     "N/A",
		AvgBlockTime:   "N/A",
		TimeToAdjust:   "N/A",
		NextAdjustment: "N/A",
	}

	var intervals uint64
	if tip.Height > anchor.Height {
		intervals = tip.Height - anchor.Height
	}
	timeDiff := tip.Timestamp - anchor.Timestamp
	workDiff := new(big.Int).Sub(&tip.AccumulatedWork.Int, &anchor.AccumulatedWork.Int)

	if timeDiff > 0 && intervals > 0 {
		s.AvgBlockSeconds = float64(timeDiff) / float64(intervals)
		s.AvgBlockTime = fmt.Sprintf("%dm %ds", int(s.AvgBlockSeconds)/60, int(s.AvgBlockSeconds)%60)
	}

	if workDiff.Sign() > 0 && intervals > 0 {
		s.DifficultyExponent = log2Big(workDiff) - math.Log2(float64(intervals))
		s.Difficulty = fmt.Sprintf("2^%.1f", s.DifficultyExponent)
	}

	if timeDiff > 0 && workDiff.Sign() > 0 {
		work, _ := new(big.Float).SetInt(workDiff).Float64()
		s.ProofrateMPS = work / float64(timeDiff) / 1_000_000
		s.Proofrate = RenderProofrate(s.ProofrateMPS)
	}

	s.EpochBlock = tip.EpochCounter % BlocksPerEpoch
	if s.EpochBlock == 0 && tip.EpochCounter > 0 {
		// Landing exactly on a boundary reads as a completed epoch,
		// not an empty one.
		s.EpochBlock = BlocksPerEpoch
	}
	s.EpochPercentage = float64(s.EpochBlock) / BlocksPerEpoch * 100
	s.EpochProgress = fmt.Sprintf("%d/%d (%.1f%%)", s.EpochBlock, BlocksPerEpoch, s.EpochPercentage)
	s.BlocksToAdjust = BlocksPerEpoch - s.EpochBlock

	if s.AvgBlockSeconds > 0 {
		s.SecondsToAdjust = float64(s.BlocksToAdjust) * s.AvgBlockSeconds
		days := int(s.SecondsToAdjust) / 86400
		hours := (int(s.SecondsToAdjust) % 86400) / 3600
		s.TimeToAdjust = fmt.Sprintf("%dd %dh", days, hours)

		s.AdjustmentRatio = TargetBlockSeconds / s.AvgBlockSeconds
		s.NextAdjustment = fmt.Sprintf("%.3fx", s.AdjustmentRatio)
	}

	return s
}

// RenderProofrate scales a mega-proofs-per-second value into the largest
// unit that keeps the magnitude at or above 0.01.
func RenderProofrate(mps float64) string {
	switch {
	case mps >= 1000:
		return fmt.Sprintf("%.2f GP/s", mps/1000)
	case mps >= 0.01:
		return fmt.Sprintf("%.2f MP/s", mps)
	default:
		return fmt.Sprintf("%.2f KP/s", mps*1000)
	}
}

// log2Big computes log2 of a positive big integer without overflowing
// float64: take the top 53 bits as a mantissa and add back the shift.
func log2Big(x *big.Int) float64 {
	bits := x.BitLen()
	if bits == 0 {
		return 0
	}
	if bits <= 53 {
		return math.Log2(float64(x.Int64()))
	}
	shift := uint(bits - 53)
	mantissa := new(big.Int).Rsh(x, shift)
	return math.Log2(float64(mantissa.Int64())) + float64(shift)
}
