package infer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// StubRuntime is an in-process stand-in for the real inference runtime,
// in the same spirit as the fake capture device: it simulates artifact
// downloads with progress, recognizes silence, and streams canned token
// output. The live binary runs on it until a real runtime binding is
// plugged in, and the tests drive it directly.
type StubRuntime struct {
	// LoadDelay is the total simulated download time per artifact.
	LoadDelay time.Duration
	// TokenDelay paces streamed generation output.
	TokenDelay time.Duration
	// Transcript is what the recognizer "hears" in any non-silent window.
	// Empty selects a generic placeholder.
	Transcript string
	// FailModel makes LoadModel fail for the named model, for exercising
	// terminal load failures.
	FailModel string

	mu    sync.Mutex
	vocab *stubVocab
	loads map[string]int
}

func NewStubRuntime() *StubRuntime {
	return &StubRuntime{
		LoadDelay:  300 * time.Millisecond,
		TokenDelay: 30 * time.Millisecond,
	}
}

// Loads reports how many weight-load sequences ran for name. The registry
// memoization guarantees this never exceeds one per registry.
func (r *StubRuntime) Loads(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads[name]
}

func (r *StubRuntime) sharedVocab() *stubVocab {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vocab == nil {
		r.vocab = newStubVocab()
	}
	return r.vocab
}

func (r *StubRuntime) simulateFetch(ctx context.Context, file string, total int64, progress ProgressFunc) error {
	progress(Progress{Status: ProgressInitiate, File: file, Loaded: 0, Total: total})
	const steps = 4
	for i := 1; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.LoadDelay / steps):
		}
		progress(Progress{Status: ProgressUpdate, File: file, Loaded: total * int64(i) / steps, Total: total})
	}
	progress(Progress{Status: ProgressDone, File: file, Loaded: total, Total: total})
	return nil
}

func (r *StubRuntime) LoadTokenizer(ctx context.Context, modelID string, progress ProgressFunc) (Tokenizer, error) {
	if err := r.simulateFetch(ctx, modelID+"/tokenizer.json", 2_200_000, progress); err != nil {
		return nil, err
	}
	return &stubTokenizer{vocab: r.sharedVocab()}, nil
}

func (r *StubRuntime) LoadFeatureExtractor(ctx context.Context, modelID string, progress ProgressFunc) (FeatureExtractor, error) {
	if err := r.simulateFetch(ctx, modelID+"/preprocessor_config.json", 185_000, progress); err != nil {
		return nil, err
	}
	return stubExtractor{}, nil
}

func (r *StubRuntime) LoadModel(ctx context.Context, modelID string, cfg ModelConfig, progress ProgressFunc) (Model, error) {
	r.mu.Lock()
	if r.loads == nil {
		r.loads = make(map[string]int)
	}
	r.loads[modelID]++
	r.mu.Unlock()

	file := modelID + "/model.onnx"
	if cfg.Quantized {
		file = modelID + "/model_quantized.onnx"
	}
	if err := r.simulateFetch(ctx, file, 246_000_000, progress); err != nil {
		return nil, err
	}
	if r.FailModel == modelID {
		return nil, fmt.Errorf("fetch %s: simulated failure", file)
	}
	return &StubModel{runtime: r, vocab: r.sharedVocab()}, nil
}

// stubVocab interns words to sequential ids, shared by all stub
// tokenizers so translator and recognizer agree on the id space.
type stubVocab struct {
	mu      sync.Mutex
	ids     map[string]int64
	words   []string
	special map[int64]bool
}

func newStubVocab() *stubVocab {
	return &stubVocab{ids: make(map[string]int64), special: make(map[int64]bool)}
}

func (v *stubVocab) intern(word string, special bool) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := v.ids[word]; ok {
		return id
	}
	id := int64(len(v.words))
	v.ids[word] = id
	v.words = append(v.words, word)
	if special {
		v.special[id] = true
	}
	return id
}

func (v *stubVocab) word(id int64) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if id < 0 || id >= int64(len(v.words)) {
		return "", false
	}
	return v.words[id], !v.special[id]
}

type stubTokenizer struct {
	vocab *stubVocab
}

func (t *stubTokenizer) Encode(text string) []int64 {
	fields := strings.Fields(text)
	ids := make([]int64, 0, len(fields))
	for _, w := range fields {
		ids = append(ids, t.vocab.intern(w, false))
	}
	return ids
}

func (t *stubTokenizer) Decode(ids []int64) string {
	var words []string
	for _, id := range ids {
		if w, plain := t.vocab.word(id); plain {
			words = append(words, w)
		}
	}
	return strings.Join(words, " ")
}

func (t *stubTokenizer) LangToken(tag string) (int64, bool) {
	return t.vocab.intern("<<"+tag+">>", true), true
}

type stubFeatures struct {
	samples []float32
	seconds float64
}

type stubExtractor struct{}

func (stubExtractor) Extract(samples []float32) any {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return stubFeatures{samples: samples, seconds: float64(len(samples)) / 16000}
}

// StubModel generates canned output. For recognizer input (features) it
// streams the configured transcript token by token, or nothing for a
// silent window. For translator input (token ids) it echoes the ids after
// the forced BOS token. It records the last GenerateOptions so tests can
// assert on forced language tokens.
type StubModel struct {
	runtime *StubRuntime
	vocab   *stubVocab

	mu       sync.Mutex
	calls    int
	lastOpts GenerateOptions
}

func (m *StubModel) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *StubModel) LastOptions() GenerateOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOpts
}

func (m *StubModel) Generate(ctx context.Context, input any, opts GenerateOptions, stream StreamFunc) ([]int64, error) {
	m.mu.Lock()
	m.calls++
	m.lastOpts = opts
	m.mu.Unlock()

	switch in := input.(type) {
	case stubFeatures:
		return m.recognize(ctx, in, opts, stream)
	case []int64:
		return m.translate(ctx, in, opts, stream)
	default:
		return nil, fmt.Errorf("stub model: unsupported input %T", input)
	}
}

func (m *StubModel) recognize(ctx context.Context, in stubFeatures, opts GenerateOptions, stream StreamFunc) ([]int64, error) {
	silent := true
	for _, s := range in.samples {
		if s != 0 {
			silent = false
			break
		}
	}
	if silent {
		return nil, nil
	}

	text := m.runtime.Transcript
	if text == "" {
		text = fmt.Sprintf("[stub] heard %.1fs of audio", in.seconds)
	}
	words := strings.Fields(text)
	if opts.MaxNewTokens > 0 && len(words) > opts.MaxNewTokens {
		words = words[:opts.MaxNewTokens]
	}

	var ids []int64
	for _, w := range words {
		select {
		case <-ctx.Done():
			return ids, ctx.Err()
		case <-time.After(m.runtime.TokenDelay):
		}
		ids = append(ids, m.vocab.intern(w, false))
		if stream != nil {
			stream(ids)
		}
	}
	return ids, nil
}

func (m *StubModel) translate(ctx context.Context, in []int64, opts GenerateOptions, stream StreamFunc) ([]int64, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.runtime.TokenDelay):
	}
	var out []int64
	if opts.ForcedBOSToken >= 0 {
		out = append(out, opts.ForcedBOSToken)
	}
	out = append(out, in...)
	if stream != nil {
		stream(out)
	}
	return out, nil
}
