package worker

import (
	"context"
	"sync"
	"sync/atomic"

	"glot/asr"
	"glot/infer"
	"glot/log"
	"glot/translate"
)

// Config names the two model identities and their generation limits.
type Config struct {
	RecognizerModel    string
	TranslatorModel    string
	MaxNewTokens       int
	TranslateMaxTokens int
	Quantized          bool
}

// Worker is the compute context. It owns the model registry and the two
// pipelines; the control side talks to it only through Requests and
// Events. Generate requests are effectively single-flight via the
// recognition pipeline's gate; translate requests may overlap and never
// block recognition.
type Worker struct {
	rt  infer.Runtime
	cfg Config

	requests chan Request
	events   chan Event

	recognizer atomic.Pointer[asr.Pipeline]
	translator atomic.Pointer[translate.Local]

	loadOnce           sync.Once
	loadTranslatorOnce sync.Once
}

func New(rt infer.Runtime, cfg Config) *Worker {
	return &Worker{
		rt:       rt,
		cfg:      cfg,
		requests: make(chan Request, 16),
		events:   make(chan Event, 256),
	}
}

// Requests is the control-to-compute half of the channel.
func (w *Worker) Requests() chan<- Request { return w.requests }

// Events is the compute-to-control half. It closes when Run returns.
func (w *Worker) Events() <-chan Event { return w.events }

// Run services requests until ctx is cancelled. The registry lives
// exactly as long as this call: created on entry, closed on exit.
func (w *Worker) Run(ctx context.Context) {
	reg := infer.NewRegistry(w.rt)
	defer reg.Close()

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		close(w.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			switch req.Kind {
			case ReqLoad:
				w.loadOnce.Do(func() {
					wg.Add(1)
					go func() {
						defer wg.Done()
						w.loadRecognizer(ctx, reg)
					}()
				})
			case ReqLoadTranslator:
				w.loadTranslatorOnce.Do(func() {
					wg.Add(1)
					go func() {
						defer wg.Done()
						w.loadTranslator(ctx, reg)
					}()
				})
			case ReqGenerate:
				// Not handled inline: inference must not stall the
				// request loop. The pipeline gate drops overlap.
				wg.Add(1)
				go func() {
					defer wg.Done()
					w.generate(ctx, req)
				}()
			case ReqTranslate:
				wg.Add(1)
				go func() {
					defer wg.Done()
					w.translate(ctx, req)
				}()
			default:
				log.Warnf("worker: unknown request kind %q", req.Kind)
			}
		}
	}
}

// emit delivers one event in order. Sends block rather than drop: the
// protocol forbids coalescing, and the controller always drains.
func (w *Worker) emit(ctx context.Context, e Event) {
	select {
	case w.events <- e:
	case <-ctx.Done():
	}
}

func (w *Worker) progressFunc(ctx context.Context) infer.ProgressFunc {
	return func(p infer.Progress) {
		kind := EvtProgress
		switch p.Status {
		case infer.ProgressInitiate:
			kind = EvtInitiate
		case infer.ProgressDone:
			kind = EvtDone
		}
		w.emit(ctx, Event{Kind: kind, File: p.File, Loaded: p.Loaded, Total: p.Total})
	}
}

func (w *Worker) loadRecognizer(ctx context.Context, reg *infer.Registry) {
	w.emit(ctx, Event{Kind: EvtLoading, Text: "loading recognizer model (first run downloads weights)"})
	sess, err := reg.Get(ctx, w.cfg.RecognizerModel, true, infer.ModelConfig{Quantized: w.cfg.Quantized}, w.progressFunc(ctx))
	if err != nil {
		log.Errorf("recognizer load: %v", err)
		w.emit(ctx, Event{Kind: EvtLoading, Text: err.Error(), Fatal: true})
		return
	}
	w.recognizer.Store(asr.New(sess, w.cfg.MaxNewTokens))
	w.emit(ctx, Event{Kind: EvtReady})
}

func (w *Worker) loadTranslator(ctx context.Context, reg *infer.Registry) {
	w.emit(ctx, Event{Kind: EvtLoadingTranslator, Text: "loading translation model"})
	sess, err := reg.Get(ctx, w.cfg.TranslatorModel, false, infer.ModelConfig{Quantized: w.cfg.Quantized}, w.progressFunc(ctx))
	if err != nil {
		log.Errorf("translator load: %v", err)
		w.emit(ctx, Event{Kind: EvtLoadingTranslator, Text: err.Error(), Fatal: true})
		return
	}
	w.translator.Store(translate.NewLocal(sess, w.cfg.TranslateMaxTokens))
	w.emit(ctx, Event{Kind: EvtTranslatorReady})
}

func (w *Worker) generate(ctx context.Context, req Request) {
	p := w.recognizer.Load()
	if p == nil {
		// The controller gates on ready; a generate before that is a
		// protocol violation worth a diagnostic, not a crash.
		log.Warn("generate before recognizer ready, dropped")
		return
	}
	p.Transcribe(ctx, req.Window, req.Language, &eventSink{w: w, ctx: ctx})
}

func (w *Worker) translate(ctx context.Context, req Request) {
	l := w.translator.Load()
	if l == nil {
		log.Warn("translate before translator ready, dropped")
		return
	}
	res := l.Translate(ctx, req.Text, req.Source, req.Target)
	w.emit(ctx, Event{
		Kind:      EvtTranslationComplete,
		Text:      res.Text,
		Target:    req.Target,
		LatencyMs: float64(res.Elapsed.Milliseconds()),
	})
}

// eventSink adapts the recognition pipeline's callbacks onto the event
// channel.
type eventSink struct {
	w   *Worker
	ctx context.Context
}

func (s *eventSink) TranscribeStart() {
	s.w.emit(s.ctx, Event{Kind: EvtStart})
}

func (s *eventSink) TranscribeUpdate(u asr.Update) {
	s.w.emit(s.ctx, Event{Kind: EvtUpdate, Text: u.Text, Tps: u.Tps, NumTokens: u.NumTokens})
}

func (s *eventSink) TranscribeComplete(text string) {
	s.w.emit(s.ctx, Event{Kind: EvtComplete, Text: text})
}
