package cube

import "testing"

func TestLruFrameCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLruFrameCache(2)
	c.Put(0, []float32{1})
	c.Put(1, []float32{2})
	c.Get(0) // touch 0, making 1 the LRU entry
	c.Put(2, []float32{3})

	if _, ok := c.Get(1); ok {
		t.Error("frame 1 should have been evicted")
	}
	if _, ok := c.Get(0); !ok {
		t.Error("frame 0 should still be cached")
	}
	if _, ok := c.Get(2); !ok {
		t.Error("frame 2 should be cached")
	}
}

func TestLruFrameCacheGetReturnsClone(t *testing.T) {
	c := NewLruFrameCache(1)
	c.Put(0, []float32{1, 2, 3})
	got, _ := c.Get(0)
	got[0] = 99
	again, _ := c.Get(0)
	if again[0] != 1 {
		t.Errorf("cache entry mutated via returned clone: got %v", again[0])
	}
}

func TestIsValidRejectsZeroAndNonFinite(t *testing.T) {
	nan := float32(0)
	nan = nan / nan
	cases := []struct {
		v    float32
		want bool
	}{
		{0, false},
		{nan, false},
		{1, true},
		{-1, true},
	}
	for _, c := range cases {
		if got := isValid(c.v); got != c.want {
			t.Errorf("isValid(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestSampleIndicesEvenlySpacedAndBounded(t *testing.T) {
	idx := sampleIndices(100, 32)
	if len(idx) != 32 {
		t.Fatalf("len(idx) = %d, want 32", len(idx))
	}
	if idx[0] != 0 || idx[len(idx)-1] != 99 {
		t.Errorf("sampleIndices should span [0, depth-1], got first=%d last=%d", idx[0], idx[len(idx)-1])
	}

	small := sampleIndices(10, 32)
	if len(small) != 10 {
		t.Errorf("depth < maxCount should return every index, got %d", len(small))
	}
}
