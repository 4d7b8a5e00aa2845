package metrics

import (
	"math"
	"math/big"
	"testing"
	"time"

	"nockwatch/internal/chain"
)

func sampleBlock(height uint64, ts int64, work int64, epoch uint64) *chain.Block {
	return &chain.Block{
		Height:          height,
		Timestamp:       ts,
		AccumulatedWork: chain.NewBigInt(work),
		EpochCounter:    epoch,
	}
}

func TestDeriveReferenceValues(t *testing.T) {
	anchor := sampleBlock(100, 1000, 1000, 100)
	tip := sampleBlock(110, 2000, 2000, 110)

	s := Derive(anchor, tip, time.Unix(2000, 0))

	if s.AvgBlockSeconds != 100 {
		t.Fatalf("avg block seconds: want 100, got %v", s.AvgBlockSeconds)
	}
	if s.AvgBlockTime != "1m 40s" {
		t.Fatalf("avg block time render: %q", s.AvgBlockTime)
	}
	// work_diff / time_diff = 1 proof/s = 1e-6 MP/s.
	if math.Abs(s.ProofrateMPS-0.000001) > 1e-12 {
		t.Fatalf("proofrate MP/s: want 1e-6, got %v", s.ProofrateMPS)
	}
	if math.Abs(s.DifficultyExponent-math.Log2(100)) > 1e-9 {
		t.Fatalf("difficulty exponent: want log2(100), got %v", s.DifficultyExponent)
	}
	if s.Difficulty != "2^6.6" {
		t.Fatalf("difficulty render: %q", s.Difficulty)
	}
	if s.NextAdjustment != "6.000x" {
		t.Fatalf("adjustment ratio render: %q", s.NextAdjustment)
	}
	if s.EpochProgress != "110/2016 (5.5%)" {
		t.Fatalf("epoch progress render: %q", s.EpochProgress)
	}
	if s.BlocksToAdjust != 1906 {
		t.Fatalf("blocks to adjust: want 1906, got %d", s.BlocksToAdjust)
	}
	if s.TimeToAdjust != "2d 4h" {
		t.Fatalf("time to adjust render: %q", s.TimeToAdjust)
	}
	if s.Height != 110 {
		t.Fatalf("height: want 110, got %d", s.Height)
	}
}

func TestDeriveEpochBoundaryReadsAsComplete(t *testing.T) {
	anchor := sampleBlock(1900, 1000, 1000, 1900)
	tip := sampleBlock(2016, 120600, 120600, 2016)

	s := Derive(anchor, tip, time.Unix(120600, 0))

	if s.EpochBlock != BlocksPerEpoch {
		t.Fatalf("epoch block at boundary: want %d, got %d", BlocksPerEpoch, s.EpochBlock)
	}
	if s.EpochPercentage != 100 {
		t.Fatalf("epoch percentage at boundary: want 100, got %v", s.EpochPercentage)
	}
	if s.BlocksToAdjust != 0 {
		t.Fatalf("blocks to adjust at boundary: want 0, got %d", s.BlocksToAdjust)
	}
}

func TestDeriveZeroEpochCounterStaysZero(t *testing.T) {
	anchor := sampleBlock(1, 0, 0, 0)
	tip := sampleBlock(2, 600, 600, 0)

	s := Derive(anchor, tip, time.Unix(600, 0))

	if s.EpochBlock != 0 {
		t.Fatalf("genesis epoch block: want 0, got %d", s.EpochBlock)
	}
}

func TestDeriveInsufficientTime(t *testing.T) {
	anchor := sampleBlock(100, 5000, 1000, 100)
	tip := sampleBlock(110, 5000, 2000, 110)

	s := Derive(anchor, tip, time.Unix(5000, 0))

	if s.ProofrateMPS != 0 {
		t.Fatalf("proofrate with zero time diff must be exactly 0, got %v", s.ProofrateMPS)
	}
	if s.Proofrate != "0.00 KP/s" {
		t.Fatalf("proofrate render: %q", s.Proofrate)
	}
	if s.AvgBlockTime != "N/A" || s.TimeToAdjust != "N/A" || s.NextAdjustment != "N/A" {
		t.Fatalf("time-derived fields must be N/A: %q %q %q", s.AvgBlockTime, s.TimeToAdjust, s.NextAdjustment)
	}
	// Difficulty only depends on work, which is still usable here.
	if s.Difficulty == "N/A" {
		t.Fatal("difficulty should still derive from work alone")
	}
}

func TestDeriveNonMonotonicWork(t *testing.T) {
	anchor := sampleBlock(100, 1000, 5000, 100)
	tip := sampleBlock(110, 2000, 4000, 110)

	s := Derive(anchor, tip, time.Unix(2000, 0))

	if s.ProofrateMPS != 0 || s.Proofrate != "0.00 KP/s" {
		t.Fatalf("negative work diff must yield zero proofrate, got %v %q", s.ProofrateMPS, s.Proofrate)
	}
	if s.Difficulty != "N/A" {
		t.Fatalf("negative work diff must yield N/A difficulty, got %q", s.Difficulty)
	}
	if s.AvgBlockTime == "N/A" {
		t.Fatal("avg block time only needs timestamps and should still derive")
	}
}

func TestDeriveHugeWorkStaysFinite(t *testing.T) {
	workDiff := new(big.Int).Lsh(big.NewInt(1), 80)
	tipWork := chain.BigInt{}
	tipWork.Set(workDiff)

	anchor := sampleBlock(1000, 0, 0, 1000)
	tip := &chain.Block{
		Height:          1100,
		Timestamp:       1000,
		AccumulatedWork: tipWork,
		EpochCounter:    1100,
	}

	s := Derive(anchor, tip, time.Unix(1000, 0))

	want := 80 - math.Log2(100)
	if math.Abs(s.DifficultyExponent-want) > 0.01 {
		t.Fatalf("difficulty exponent for 2^80 work: want %.3f, got %.3f", want, s.DifficultyExponent)
	}
	if math.IsInf(s.ProofrateMPS, 0) || math.IsNaN(s.ProofrateMPS) {
		t.Fatalf("proofrate must stay finite, got %v", s.ProofrateMPS)
	}
}

func TestRenderProofrateUnits(t *testing.T) {
	cases := []struct {
		mps  float64
		want string
	}{
		{1500, "1.50 GP/s"},
		{1000, "1.00 GP/s"},
		{12.34, "12.34 MP/s"},
		{0.5, "0.50 MP/s"},
		{0.01, "0.01 MP/s"},
		{0.009, "9.00 KP/s"},
		{0, "0.00 KP/s"},
	}
	for _, tc := range cases {
		if got := RenderProofrate(tc.mps); got != tc.want {
			t.Fatalf("RenderProofrate(%v): want %q, got %q", tc.mps, tc.want, got)
		}
	}
}

func TestLog2BigMatchesFloatDomain(t *testing.T) {
	for _, v := range []int64{1, 2, 100, 1 << 40} {
		got := log2Big(big.NewInt(v))
		want := math.Log2(float64(v))
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("log2Big(%d): want %v, got %v", v, want, got)
		}
	}

	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	if got := log2Big(huge); math.Abs(got-200) > 1e-9 {
		t.Fatalf("log2Big(2^200): want 200, got %v", got)
	}
}
