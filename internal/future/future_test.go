package future

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestResolveOnlyOnce(t *testing.T) {
	f := New[int]()
	if !f.Resolve(1, nil) {
		t.Fatal("first resolve should win")
	}
	if f.Resolve(2, errors.New("late")) {
		t.Fatal("second resolve should lose")
	}
	v, err := f.Wait(context.Background())
	if v != 1 || err != nil {
		t.Fatalf("Wait() = %d, %v", v, err)
	}
}

func TestWaitersConverge(t *testing.T) {
	f := New[string]()
	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = f.Wait(context.Background())
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	f.Resolve("ok", nil)
	wg.Wait()
	for i, r := range results {
		if r != "ok" {
			t.Fatalf("waiter %d got %q", i, r)
		}
	}
}

func TestWaitHonorsContext(t *testing.T) {
	f := New[bool]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestPeek(t *testing.T) {
	f := New[bool]()
	if _, _, ok := f.Peek(); ok {
		t.Fatal("unresolved future should not peek")
	}
	f.Resolve(true, nil)
	v, err, ok := f.Peek()
	if !ok || !v || err != nil {
		t.Fatalf("Peek() = %v, %v, %v", v, err, ok)
	}
	if _, _, ok := Resolved(false, nil).Peek(); !ok {
		t.Fatal("Resolved future should peek")
	}
}
