// Package asr wraps a loaded recognition model behind a single-flight
// transcribe operation with token-level streaming.
package asr

import (
	"context"
	"sync/atomic"
	"time"

	"glot/infer"
	"glot/log"
	"glot/pcm"
)

// Update is one streamed decoding step: the output decoded so far plus a
// running throughput metric. NumTokens counts tokens emitted since the
// first one, so the first update carries NumTokens 0 and no meaningful
// Tps; consumers should not display a rate until NumTokens > 0.
type Update struct {
	Text      string
	Tps       float64
	NumTokens int
}

// Sink receives transcription lifecycle events in emission order: exactly
// one Start, zero or more Updates, exactly one Complete per accepted
// request.
type Sink interface {
	TranscribeStart()
	TranscribeUpdate(u Update)
	TranscribeComplete(text string)
}

// Pipeline runs windows through a recognizer session. It is deliberately
// not a queue: the model is assumed slower than the windowing cadence, so
// an overlapping request is dropped, not buffered.
type Pipeline struct {
	tok          infer.Tokenizer
	extractor    infer.FeatureExtractor
	model        infer.Model
	maxNewTokens int

	busy atomic.Bool
}

func New(sess *infer.Session, maxNewTokens int) *Pipeline {
	return &Pipeline{
		tok:          sess.Tokenizer,
		extractor:    sess.Extractor,
		model:        sess.Model,
		maxNewTokens: maxNewTokens,
	}
}

// Busy reports whether a transcription is in flight.
func (p *Pipeline) Busy() bool { return p.busy.Load() }

// Transcribe runs one window through the model, streaming partial output
// to sink. If a transcription is already in flight the request is dropped
// silently and Transcribe reports false with no events emitted; this is
// backpressure, not an error. An empty or silence-only window still
// completes normally, possibly with empty text.
func (p *Pipeline) Transcribe(ctx context.Context, w pcm.Window, language string, sink Sink) bool {
	if !p.busy.CompareAndSwap(false, true) {
		log.Info("transcribe dropped: pipeline busy")
		return false
	}
	defer p.busy.Store(false)

	sink.TranscribeStart()

	features := p.extractor.Extract(w.Samples)
	opts := infer.GenerateOptions{
		MaxNewTokens:   p.maxNewTokens,
		Language:       language,
		ForcedBOSToken: -1,
	}

	var firstToken time.Time
	ids, err := p.model.Generate(ctx, features, opts, func(ids []int64) {
		u := Update{Text: p.tok.Decode(ids)}
		if firstToken.IsZero() {
			firstToken = time.Now()
		} else {
			u.NumTokens = len(ids) - 1
			elapsed := float64(time.Since(firstToken).Milliseconds())
			if elapsed > 0 {
				u.Tps = float64(u.NumTokens) / elapsed * 1000
			}
		}
		sink.TranscribeUpdate(u)
	})

	text := p.tok.Decode(ids)
	if err != nil {
		// Failures never cross the worker boundary as errors; finish the
		// request with whatever decoded and let the session continue.
		log.Errorf("generate error after %d tokens: %v", len(ids), err)
	}
	sink.TranscribeComplete(text)
	return true
}
