package session

import (
	"sync"
	"testing"
	"time"
)

func TestCodeGenerator_Next(t *testing.T) {
	gen := NewCodeGenerator()
	day := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	gen.now = func() time.Time { return day }

	if got := gen.Next("dr-1"); got != "dr-1-20260314-1" {
		t.Errorf("expected 'dr-1-20260314-1', got %s", got)
	}
	if got := gen.Next("dr-1"); got != "dr-1-20260314-2" {
		t.Errorf("expected 'dr-1-20260314-2', got %s", got)
	}
	if got := gen.Next("dr-2"); got != "dr-2-20260314-1" {
		t.Errorf("expected 'dr-2-20260314-1', got %s", got)
	}

	day = day.Add(24 * time.Hour)
	if got := gen.Next("dr-1"); got != "dr-1-20260315-1" {
		t.Errorf("expected numbering to restart on a new day, got %s", got)
	}
}

func TestCodeGenerator_ThreadSafety(t *testing.T) {
	gen := NewCodeGenerator()
	numGoroutines := 100
	resultsPerGoroutine := 10

	var wg sync.WaitGroup
	results := make(chan string, numGoroutines*resultsPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < resultsPerGoroutine; j++ {
				results <- gen.Next("dr-concurrent")
			}
		}()
	}

	wg.Wait()
	close(results)

	seen := make(map[string]bool)
	for code := range results {
		if seen[code] {
			t.Errorf("duplicate session code: %s", code)
		}
		seen[code] = true
	}

	expected := numGoroutines * resultsPerGoroutine
	if len(seen) != expected {
		t.Errorf("expected %d unique codes, got %d", expected, len(seen))
	}
}
