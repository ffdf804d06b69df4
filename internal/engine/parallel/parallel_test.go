package parallel

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestForCoversRange(t *testing.T) {
	tests := []struct {
		name string
		pool Pool
		n    int
	}{
		{"serial zero value", Pool{}, 1000},
		{"parallel", Pool{Workers: 4, Grain: 16}, 1000},
		{"single chunk", Pool{Workers: 4, Grain: 4096}, 1000},
		{"empty", Pool{Workers: 4, Grain: 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := make([]int32, tt.n)
			tt.pool.For(tt.n, func(lo, hi int) {
				for i := lo; i < hi; i++ {
					atomic.AddInt32(&hits[i], 1)
				}
			})
			for i, h := range hits {
				if h != 1 {
					t.Fatalf("index %d visited %d times", i, h)
				}
			}
		})
	}
}

func TestForErr(t *testing.T) {
	boom := errors.New("boom")
	p := Pool{Workers: 3, Grain: 10}
	err := p.ForErr(100, func(lo, hi int) error {
		if lo <= 50 && 50 < hi {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestEach(t *testing.T) {
	var sum atomic.Int64
	p := NewPool(4, 0)
	if err := p.Each(10, func(i int) error {
		sum.Add(int64(i))
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if sum.Load() != 45 {
		t.Errorf("sum = %d, want 45", sum.Load())
	}
}
