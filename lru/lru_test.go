package lru

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestEvictionBound(t *testing.T) {
	testCases := []struct {
		maxSize    int
		elasticity int
		k          int
	}{
		{maxSize: 4, elasticity: 2, k: 1},
		{maxSize: 10, elasticity: 0, k: 1},
		{maxSize: 3, elasticity: 5, k: 1},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("max %d elasticity %d", tc.maxSize, tc.elasticity), func(t *testing.T) {
			c := New[int, int](tc.maxSize, tc.elasticity)
			total := tc.maxSize + tc.elasticity + tc.k
			for i := 0; i < total; i++ {
				c.Insert(i, i*10)
				if c.Size() > tc.maxSize+tc.elasticity {
					t.Fatalf("size %d over bound after %d inserts", c.Size(), i+1)
				}
			}
			if c.Size() > tc.maxSize {
				t.Errorf("size = %d, want <= %d", c.Size(), tc.maxSize)
			}
			// The most recent maxSize keys survive, the oldest went first.
			for i := total - tc.maxSize; i < total; i++ {
				if v, err := c.Get(i); err != nil || v != i*10 {
					t.Errorf("Get(%d) = %d, %v", i, v, err)
				}
			}
			if c.Contains(0) {
				t.Error("least recently used key survived")
			}
		})
	}
}

func TestRecencyPromotion(t *testing.T) {
	c := New[string, int](2, 0)
	c.Insert("a", 1)
	c.Insert("b", 2)
	if _, ok := c.TryGet("a"); !ok {
		t.Fatal("a missing")
	}
	c.Insert("c", 3)
	if !c.Contains("a") || !c.Contains("c") {
		t.Error("recently used keys evicted")
	}
	if c.Contains("b") {
		t.Error("b should have been evicted")
	}
	if _, err := c.Get("b"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Get(b) error = %v, want ErrKeyNotFound", err)
	}
}

func TestEvictCallback(t *testing.T) {
	var evicted []int
	c := New(2, 1, WithEvictCallback(func(k, _ int) { evicted = append(evicted, k) }))
	for i := 0; i < 4; i++ {
		c.Insert(i, i)
	}
	// The fourth insert crosses maxSize+elasticity and prunes back to 2.
	if len(evicted) != 2 || evicted[0] != 0 || evicted[1] != 1 {
		t.Fatalf("evicted = %v, want [0 1]", evicted)
	}

	if !c.Remove(3) || c.Remove(3) {
		t.Error("Remove did not report presence correctly")
	}
	c.Clear()
	if c.Size() != 0 {
		t.Errorf("size after Clear = %d", c.Size())
	}
	if len(evicted) != 4 {
		t.Errorf("callback saw %d entries, want 4", len(evicted))
	}
}

func TestUpdateKeepsSize(t *testing.T) {
	c := New[int, string](2, 0)
	c.Insert(1, "a")
	c.Insert(1, "b")
	if c.Size() != 1 {
		t.Errorf("size = %d, want 1", c.Size())
	}
	if v, _ := c.Get(1); v != "b" {
		t.Errorf("Get(1) = %q, want b", v)
	}
	if c.MaxSize() != 2 || c.Elasticity() != 0 {
		t.Errorf("MaxSize=%d Elasticity=%d", c.MaxSize(), c.Elasticity())
	}
}

func TestLockedConcurrentUse(t *testing.T) {
	c := New(16, 4, WithLock[int, int]())
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Insert(g*1000+i, i)
				c.TryGet(g*1000 + i/2)
			}
		}(g)
	}
	wg.Wait()
	if c.Size() > 20 {
		t.Errorf("size = %d over bound", c.Size())
	}
}
