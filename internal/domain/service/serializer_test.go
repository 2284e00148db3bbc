package service

import (
	"errors"
	"sync"
	"testing"
)

func TestSerializer_RunsBlocksInSubmissionOrder(t *testing.T) {
	var q Serializer
	var mu sync.Mutex
	var got []int

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		i := i
		// Submission order is fixed by the loop; goroutines only wait
		// for completion.
		done := make(chan error, 1)
		go func() {
			defer wg.Done()
			done <- q.Do(func() error {
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
				return nil
			})
		}()
		if err := <-done; err != nil {
			t.Fatalf("block %d: %v", i, err)
		}
	}
	wg.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("block %d ran at position %d", v, i)
		}
	}
}

func TestSerializer_OneBlockAtATime(t *testing.T) {
	var q Serializer
	var inside int32
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(func() error {
				mu.Lock()
				inside++
				if inside != 1 {
					t.Error("two blocks ran concurrently")
				}
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
}

func TestSerializer_ErrorDoesNotWedgeTheChain(t *testing.T) {
	var q Serializer
	want := errors.New("boom")

	if err := q.Do(func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
	ran := false
	if err := q.Do(func() error { ran = true; return nil }); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("chain wedged after an error")
	}
}
