package chain

import (
	"context"
	"errors"
	"testing"
)

// fakeSource serves a chain with a fixed tip height. Heights at or below
// the tip exist, heights above do not.
type fakeSource struct {
	tip        uint64
	tipErr     error
	probes     int
	rangeBlks  []Block
	rangeErr   error
	txByHeight map[uint64][]Transaction
	txErr      map[uint64]error
}

func (f *fakeSource) Tip(ctx context.Context) (*Block, error) {
	if f.tipErr != nil {
		return nil, f.tipErr
	}
	return f.blockAt(f.tip), nil
}

func (f *fakeSource) BlocksByHeight(ctx context.Context, heights []uint64) ([]*Block, error) {
	f.probes += len(heights)
	out := make([]*Block, len(heights))
	for i, h := range heights {
		if h <= f.tip {
			out[i] = f.blockAt(h)
		}
	}
	return out, nil
}

func (f *fakeSource) BlocksByTimestampRange(ctx context.Context, minTS, maxTS int64) ([]Block, error) {
	if f.rangeErr != nil {
		return nil, f.rangeErr
	}
	return f.rangeBlks, nil
}

func (f *fakeSource) TransactionsByBlockHeight(ctx context.Context, height uint64) ([]Transaction, error) {
	if err, ok := f.txErr[height]; ok {
		return nil, err
	}
	return f.txByHeight[height], nil
}

func (f *fakeSource) blockAt(h uint64) *Block {
	return &Block{
		Height:          h,
		Timestamp:       int64(h) * 600,
		AccumulatedWork: NewBigInt(int64(h) * 1000),
		EpochCounter:    h,
	}
}

var _ BlockSource = (*fakeSource)(nil)

func TestLocatorPrefersDirectTip(t *testing.T) {
	src := &fakeSource{tip: 57321}
	loc := NewLocator(src, SearchBracket{Low: 51000, High: 60000, Step: 5000}, testLogger())

	block, err := loc.Tip(context.Background())
	if err != nil {
		t.Fatalf("Tip failed: %v", err)
	}
	if block.Height != 57321 {
		t.Fatalf("tip height wrong: %d", block.Height)
	}
	if src.probes != 0 {
		t.Fatalf("direct tip should not probe heights, probed %d", src.probes)
	}
}

func TestLocatorSearchFindsExactTip(t *testing.T) {
	tips := []uint64{51000, 51001, 55000, 57321, 59999, 60000}
	for _, tip := range tips {
		src := &fakeSource{tip: tip, tipErr: errors.New("getTip unsupported")}
		loc := NewLocator(src, SearchBracket{Low: 51000, High: 60000, Step: 5000}, testLogger())

		block, err := loc.Tip(context.Background())
		if err != nil {
			t.Fatalf("tip=%d: Tip failed: %v", tip, err)
		}
		if block.Height != tip {
			t.Fatalf("tip=%d: located %d", tip, block.Height)
		}
	}
}

func TestLocatorSearchExpandsPastBracket(t *testing.T) {
	src := &fakeSource{tip: 78456, tipErr: errors.New("getTip unsupported")}
	loc := NewLocator(src, SearchBracket{Low: 51000, High: 60000, Step: 5000}, testLogger())

	height, err := loc.SearchHeight(context.Background())
	if err != nil {
		t.Fatalf("SearchHeight failed: %v", err)
	}
	if height != 78456 {
		t.Fatalf("expected 78456, got %d", height)
	}
}

func TestLocatorSearchProbeBudget(t *testing.T) {
	src := &fakeSource{tip: 57321, tipErr: errors.New("getTip unsupported")}
	loc := NewLocator(src, SearchBracket{Low: 51000, High: 60000, Step: 5000}, testLogger())

	if _, err := loc.SearchHeight(context.Background()); err != nil {
		t.Fatalf("SearchHeight failed: %v", err)
	}
	// Floor probe, one expansion probe, then a binary search over a
	// 9000-height bracket: comfortably under 20 total.
	if src.probes > 20 {
		t.Fatalf("search used %d probes, want logarithmic behaviour", src.probes)
	}
}

func TestLocatorSearchFailsBelowFloor(t *testing.T) {
	src := &fakeSource{tip: 40000, tipErr: errors.New("getTip unsupported")}
	loc := NewLocator(src, SearchBracket{Low: 51000, High: 60000, Step: 5000}, testLogger())

	if _, err := loc.SearchHeight(context.Background()); err == nil {
		t.Fatal("expected an error when the search floor has no block")
	}
}

func TestCachedSourceServesRepeatLookups(t *testing.T) {
	src := &fakeSource{tip: 100}
	cached, err := NewCachedSource(src, 16, testLogger())
	if err != nil {
		t.Fatalf("NewCachedSource failed: %v", err)
	}

	if _, err := cached.BlocksByHeight(context.Background(), []uint64{50, 60}); err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	probesAfterFirst := src.probes

	blocks, err := cached.BlocksByHeight(context.Background(), []uint64{50, 60})
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if src.probes != probesAfterFirst {
		t.Fatalf("cached heights should not reach upstream, probes went %d -> %d", probesAfterFirst, src.probes)
	}
	if blocks[0] == nil || blocks[0].Height != 50 || blocks[1] == nil || blocks[1].Height != 60 {
		t.Fatalf("cached result wrong: %#v", blocks)
	}
}

func TestCachedSourceDoesNotCacheMisses(t *testing.T) {
	src := &fakeSource{tip: 100}
	cached, err := NewCachedSource(src, 16, testLogger())
	if err != nil {
		t.Fatalf("NewCachedSource failed: %v", err)
	}

	// Height 150 is unmined now.
	blocks, err := cached.BlocksByHeight(context.Background(), []uint64{150})
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if blocks[0] != nil {
		t.Fatalf("unmined height should be nil, got %#v", blocks[0])
	}

	// The chain grows; the same height must now come back populated.
	src.tip = 200
	blocks, err = cached.BlocksByHeight(context.Background(), []uint64{150})
	if err != nil {
		t.Fatalf("refetch failed: %v", err)
	}
	if blocks[0] == nil || blocks[0].Height != 150 {
		t.Fatalf("grown chain should serve height 150, got %#v", blocks[0])
	}
}
