// Package infer defines the capability surface of the tensor-inference
// runtime and the registry of lazily-loaded model sessions owned by the
// worker. The runtime itself is an external collaborator: glot only
// depends on load, generate, and tokenize/decode capabilities.
package infer

import "context"

// Progress reports download/parse progress for one model artifact. Status
// follows the initiate -> progress -> done lifecycle, keyed by File.
type Progress struct {
	Status string
	File   string
	Loaded int64
	Total  int64
}

const (
	ProgressInitiate = "initiate"
	ProgressUpdate   = "progress"
	ProgressDone     = "done"
)

// ProgressFunc receives loading progress. Only the first requester of a
// session has its callback wired; late subscribers get none.
type ProgressFunc func(Progress)

// ModelConfig carries the per-model load options passed through to the
// runtime untouched.
type ModelConfig struct {
	Quantized bool
}

// GenerateOptions tunes one generate call.
type GenerateOptions struct {
	MaxNewTokens int
	// Language is the recognition language hint (short code), empty for
	// auto-detect.
	Language string
	// ForcedBOSToken forces the first decoded token, used by the
	// translation model to select the target language. Negative = unset.
	ForcedBOSToken int64
}

// Tokenizer encodes and decodes between text and token ids.
type Tokenizer interface {
	Encode(text string) []int64
	// Decode renders token ids to text, dropping special tokens.
	Decode(ids []int64) string
	// LangToken resolves a translation-model language tag (for example
	// "spa_Latn") to its vocabulary token id.
	LangToken(tag string) (int64, bool)
}

// FeatureExtractor converts PCM samples into model input features. The
// feature value is opaque to glot and is handed back to Model.Generate.
type FeatureExtractor interface {
	Extract(samples []float32) any
}

// StreamFunc observes partial generation output. It is called with the
// full id sequence decoded so far, once per newly emitted token.
type StreamFunc func(ids []int64)

// Model is a loaded set of weights ready to generate. Generate blocks
// until decoding finishes; streaming output arrives via stream, which may
// be nil.
type Model interface {
	Generate(ctx context.Context, input any, opts GenerateOptions, stream StreamFunc) ([]int64, error)
}

// Runtime loads model artifacts. Each load may invoke progress zero or
// more times before returning.
type Runtime interface {
	LoadTokenizer(ctx context.Context, modelID string, progress ProgressFunc) (Tokenizer, error)
	LoadFeatureExtractor(ctx context.Context, modelID string, progress ProgressFunc) (FeatureExtractor, error)
	LoadModel(ctx context.Context, modelID string, cfg ModelConfig, progress ProgressFunc) (Model, error)
}
