package infer

import (
	"context"
	"fmt"
	"sync"
)

// Session is a lazily-loaded model identified by name. The recognizer
// variant carries tokenizer + feature extractor + model; the translator
// variant has no extractor. Model weights run to hundreds of megabytes,
// so a session is loaded at most once per registry no matter how many
// callers ask for it concurrently; all callers observe the same instance.
//
// A failed load is terminal: the session stays failed for the registry's
// lifetime and is never retried automatically. Recovering requires a new
// registry (in practice, restarting the program).
type Session struct {
	Name string

	done chan struct{}

	Tokenizer Tokenizer
	Extractor FeatureExtractor
	Model     Model
	err       error
}

// Err reports the terminal load error, if any. Only valid once the
// session's load completed.
func (s *Session) Err() error { return s.err }

// Registry maps model names to memoized sessions. It is created when the
// worker starts and closed when it stops; there are no process-wide
// statics.
type Registry struct {
	rt Runtime

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewRegistry(rt Runtime) *Registry {
	return &Registry{rt: rt, sessions: make(map[string]*Session)}
}

// Close marks the registry as shut down. In-flight loads are not
// interrupted (the runtime owns cancellation via ctx); new Get calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Get returns the session for name, starting its load on first request.
// The first caller's progress callback is wired to the underlying fetches;
// callbacks passed by concurrent or later callers are ignored, since the
// load they would observe is already in flight. withExtractor selects the
// recognizer artifact set (tokenizer, feature extractor, weights) over the
// translator one (tokenizer, weights).
func (r *Registry) Get(ctx context.Context, name string, withExtractor bool, cfg ModelConfig, progress ProgressFunc) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("model registry closed")
	}
	s, ok := r.sessions[name]
	if !ok {
		s = &Session{Name: name, done: make(chan struct{})}
		r.sessions[name] = s
		go s.load(ctx, r.rt, withExtractor, cfg, progress)
	}
	r.mu.Unlock()

	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, fmt.Errorf("model %s: %w", name, s.err)
	}
	return s, nil
}

// load fetches the session's artifacts concurrently. Each artifact is
// memoized independently by virtue of being loaded exactly once here;
// progress callbacks from the three loads interleave on purpose, the UI
// ledger keys them by file name.
func (s *Session) load(ctx context.Context, rt Runtime, withExtractor bool, cfg ModelConfig, progress ProgressFunc) {
	defer close(s.done)

	if progress == nil {
		progress = func(Progress) {}
	}

	var wg sync.WaitGroup
	var errMu sync.Mutex
	fail := func(err error) {
		errMu.Lock()
		if s.err == nil {
			s.err = err
		}
		errMu.Unlock()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		tok, err := rt.LoadTokenizer(ctx, s.Name, progress)
		if err != nil {
			fail(fmt.Errorf("tokenizer: %w", err))
			return
		}
		s.Tokenizer = tok
	}()

	if withExtractor {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fx, err := rt.LoadFeatureExtractor(ctx, s.Name, progress)
			if err != nil {
				fail(fmt.Errorf("feature extractor: %w", err))
				return
			}
			s.Extractor = fx
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		m, err := rt.LoadModel(ctx, s.Name, cfg, progress)
		if err != nil {
			fail(fmt.Errorf("weights: %w", err))
			return
		}
		s.Model = m
	}()

	wg.Wait()
}
