package infer

import (
	"context"
	"sync"
	"testing"
	"time"
)

func fastStub() *StubRuntime {
	rt := NewStubRuntime()
	rt.LoadDelay = 10 * time.Millisecond
	rt.TokenDelay = time.Millisecond
	return rt
}

func TestRegistryConcurrentGetLoadsOnce(t *testing.T) {
	rt := fastStub()
	reg := NewRegistry(rt)
	defer reg.Close()

	const callers = 8
	sessions := make([]*Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := reg.Get(context.Background(), "whisper-tiny", true, ModelConfig{Quantized: true}, nil)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	if got := rt.Loads("whisper-tiny"); got != 1 {
		t.Errorf("weight loads = %d, want exactly 1", got)
	}
	for i := 1; i < callers; i++ {
		if sessions[i] != sessions[0] {
			t.Fatalf("caller %d got a different session instance", i)
		}
	}
	if sessions[0].Tokenizer == nil || sessions[0].Extractor == nil || sessions[0].Model == nil {
		t.Error("recognizer session missing artifacts")
	}
}

func TestRegistryOnlyFirstProgressCallbackWired(t *testing.T) {
	rt := fastStub()
	reg := NewRegistry(rt)
	defer reg.Close()

	var mu sync.Mutex
	first, second := 0, 0

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reg.Get(context.Background(), "m", true, ModelConfig{}, func(Progress) {
			mu.Lock()
			first++
			mu.Unlock()
		})
	}()
	// Late subscriber: load already in flight by the time it arrives.
	time.Sleep(2 * time.Millisecond)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reg.Get(context.Background(), "m", true, ModelConfig{}, func(Progress) {
			mu.Lock()
			second++
			mu.Unlock()
		})
	}()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if first == 0 {
		t.Error("first caller received no progress")
	}
	if second != 0 {
		t.Errorf("late subscriber received %d progress calls, want 0", second)
	}
}

func TestRegistryTranslatorHasNoExtractor(t *testing.T) {
	reg := NewRegistry(fastStub())
	defer reg.Close()

	s, err := reg.Get(context.Background(), "nllb-distilled", false, ModelConfig{}, nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.Extractor != nil {
		t.Error("translator session should not load a feature extractor")
	}
	if s.Tokenizer == nil || s.Model == nil {
		t.Error("translator session missing tokenizer or model")
	}
}

func TestRegistryFailedLoadIsTerminal(t *testing.T) {
	rt := fastStub()
	rt.FailModel = "broken"
	reg := NewRegistry(rt)
	defer reg.Close()

	if _, err := reg.Get(context.Background(), "broken", true, ModelConfig{}, nil); err == nil {
		t.Fatal("expected load failure")
	}
	// No auto-retry: the second Get observes the same failure without a
	// second load sequence.
	if _, err := reg.Get(context.Background(), "broken", true, ModelConfig{}, nil); err == nil {
		t.Fatal("expected memoized failure")
	}
	if got := rt.Loads("broken"); got != 1 {
		t.Errorf("weight loads = %d, want 1 (failure must not retry)", got)
	}
}

func TestRegistryProgressLifecyclePerArtifact(t *testing.T) {
	reg := NewRegistry(fastStub())
	defer reg.Close()

	var mu sync.Mutex
	state := make(map[string][]string)
	_, err := reg.Get(context.Background(), "m", true, ModelConfig{}, func(p Progress) {
		mu.Lock()
		state[p.File] = append(state[p.File], p.Status)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(state) != 3 {
		t.Fatalf("progress for %d artifacts, want 3", len(state))
	}
	for file, statuses := range state {
		if statuses[0] != ProgressInitiate {
			t.Errorf("%s: first status %q, want initiate", file, statuses[0])
		}
		if statuses[len(statuses)-1] != ProgressDone {
			t.Errorf("%s: last status %q, want done", file, statuses[len(statuses)-1])
		}
	}
}

func TestRegistryClosed(t *testing.T) {
	reg := NewRegistry(fastStub())
	reg.Close()
	if _, err := reg.Get(context.Background(), "m", true, ModelConfig{}, nil); err == nil {
		t.Error("expected error from closed registry")
	}
}
