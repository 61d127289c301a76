// Package session owns the control-context state machine: capture
// lifecycle, windowed dispatch against the single-flight recognizer,
// translation fan-out, and the aggregate state the UI renders. All state
// lives in one struct and is mutated only on the Run goroutine; external
// calls post commands onto that goroutine instead of sharing memory.
package session

import (
	"context"
	"time"

	"glot/log"
	"glot/pcm"
	"glot/translate"
	"glot/worker"
)

type State int

const (
	Uninitialized State = iota
	LoadingRecognizer
	Ready
	// Failed is terminal: recognizer load or capture init failed and the
	// session cannot recover without a restart.
	Failed
)

type TranslatorState int

const (
	TranslatorNotLoaded TranslatorState = iota
	TranslatorLoading
	TranslatorLoaded
	TranslatorFailed
)

// Capture is the slice of the audio device the controller drives. Chunks
// do not flow through it; they arrive in the shared pcm.Buffer via the
// capture callback wired by the caller.
type Capture interface {
	Start() error
	Stop()
}

// RemoteTranslator is the network translation path, satisfied by
// translate.Remote.
type RemoteTranslator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) translate.Result
}

// ProgressItem is one in-flight model artifact download. The ledger is a
// transient view: items appear on initiate and vanish on done.
type ProgressItem struct {
	File   string
	Loaded int64
	Total  int64
}

// EventSink is the display surface. Implementations must be safe to call
// from the Run goroutine; the TUI forwards into its own message loop.
type EventSink interface {
	StatusLine(text string)
	FatalError(text string)
	LoadProgress(items []ProgressItem)
	Ready()
	CaptureState(active bool)
	TranscribeStart()
	// Transcript carries streamed text while final is false; the final
	// call replaces the transcript wholesale.
	Transcript(text string, tps float64, numTokens int, final bool)
	RemoteTranslation(text, target string, latency time.Duration)
	LocalTranslation(text, target string, latency time.Duration)
	TranslatorStatus(state TranslatorState, detail string)
}

type Config struct {
	// FlushInterval is the windowing cadence (default 1s).
	FlushInterval time.Duration
	// EmptyRetryDelay is the short re-request delay after a flush that
	// yielded no audio (default 25ms). Not an error path; capture can
	// legitimately return nothing right after starting.
	EmptyRetryDelay time.Duration

	Language     string
	RemoteTarget string
	LocalTarget  string

	// AutoCapture starts capture as soon as the recognizer is ready.
	AutoCapture bool
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.EmptyRetryDelay <= 0 {
		c.EmptyRetryDelay = 25 * time.Millisecond
	}
	if c.Language == "" {
		c.Language = "en"
	}
	if c.RemoteTarget == "" {
		c.RemoteTarget = "es"
	}
	if c.LocalTarget == "" {
		c.LocalTarget = "es"
	}
	return c
}

// Stats aggregates a session for the shutdown log line.
type Stats struct {
	WindowsDispatched  int
	WindowsSkipped     int
	Completions        int
	RemoteTranslations int
	LocalTranslations  int
}

type Controller struct {
	cfg      Config
	capture  Capture
	buf      *pcm.Buffer
	requests chan<- worker.Request
	events   <-chan worker.Event
	remote   RemoteTranslator
	sink     EventSink

	cmds chan func()

	// Everything below is owned by the Run goroutine.
	state      State
	translator TranslatorState
	// processing mirrors the recognition pipeline's own gate so the
	// capture loop skips dispatch while a window is in flight. The
	// compute-side gate is a defensive duplicate, not load-bearing here.
	processing bool
	capturing  bool

	transcript   string
	lang         string
	remoteTarget string
	localTarget  string

	ledgerOrder []string
	ledger      map[string]ProgressItem

	runCtx context.Context
	stats  Stats
}

func New(cfg Config, capture Capture, buf *pcm.Buffer, w *worker.Worker, remote RemoteTranslator, sink EventSink) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:          cfg,
		capture:      capture,
		buf:          buf,
		requests:     w.Requests(),
		events:       w.Events(),
		remote:       remote,
		sink:         sink,
		cmds:         make(chan func(), 32),
		lang:         cfg.Language,
		remoteTarget: cfg.RemoteTarget,
		localTarget:  cfg.LocalTarget,
		ledger:       make(map[string]ProgressItem),
	}
}

// post schedules fn on the Run goroutine. Drops with a diagnostic if the
// loop has stopped draining; UI commands must never deadlock the caller.
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- fn:
	default:
		log.Warn("controller command dropped: loop not draining")
	}
}

// SetLanguage switches the recognition language. Capture is stopped and
// restarted so a stale-language window is never fed into a fresh decode.
func (c *Controller) SetLanguage(code string) {
	c.post(func() {
		if code == c.lang {
			return
		}
		log.Info("recognition_language: " + code)
		c.lang = code
		if c.capturing {
			c.stopCapture()
			c.startCapture()
		}
	})
}

// SetRemoteTarget re-aims the remote path and re-translates the current
// transcript. Capture is untouched.
func (c *Controller) SetRemoteTarget(code string) {
	c.post(func() {
		c.remoteTarget = code
		if c.transcript != "" {
			c.triggerRemote(c.transcript)
		}
	})
}

// SetLocalTarget re-aims the local path and re-translates the current
// transcript if the translator is loaded.
func (c *Controller) SetLocalTarget(code string) {
	c.post(func() {
		c.localTarget = code
		if c.transcript != "" && c.translator == TranslatorLoaded {
			c.triggerLocal(c.transcript)
		}
	})
}

// LoadTranslator begins the translation-model load. Idempotent.
func (c *Controller) LoadTranslator() {
	c.post(func() {
		if c.translator != TranslatorNotLoaded {
			return
		}
		c.translator = TranslatorLoading
		c.sink.TranslatorStatus(TranslatorLoading, "")
		c.send(worker.Request{Kind: worker.ReqLoadTranslator})
	})
}

// ToggleCapture starts or stops the microphone.
func (c *Controller) ToggleCapture() {
	c.post(func() {
		switch {
		case c.capturing:
			c.stopCapture()
		case c.state == Ready:
			c.startCapture()
		}
	})
}

// Run drives the session until ctx is cancelled or the worker's event
// channel closes. It owns every state transition.
func (c *Controller) Run(ctx context.Context) Stats {
	c.runCtx = ctx
	c.state = LoadingRecognizer
	c.send(worker.Request{Kind: worker.ReqLoad})

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	events := c.events
	for {
		select {
		case <-ctx.Done():
			if c.capturing {
				c.stopCapture()
			}
			c.logSummary()
			return c.stats

		case ev, ok := <-events:
			if !ok {
				// Worker gone; nothing more will complete.
				events = nil
				if c.capturing {
					c.stopCapture()
				}
				c.logSummary()
				return c.stats
			}
			c.handleEvent(ev)

		case fn := <-c.cmds:
			fn()

		case <-ticker.C:
			c.flush()
		}
	}
}

// flush forms a window from the newest buffered audio and dispatches it,
// subject to the processing gate. An empty flush re-requests after a
// short fixed delay instead of waiting a whole interval.
func (c *Controller) flush() {
	if !c.capturing {
		return
	}
	w := c.buf.Flush()
	if w.Empty() {
		time.AfterFunc(c.cfg.EmptyRetryDelay, func() {
			c.post(c.flush)
		})
		return
	}
	if c.state != Ready || c.processing {
		c.stats.WindowsSkipped++
		return
	}
	c.processing = true
	c.stats.WindowsDispatched++
	log.Windowf("dispatch window %.1fs lang=%s", w.Seconds(), c.lang)
	c.send(worker.Request{Kind: worker.ReqGenerate, Window: w, Language: c.lang})
}

func (c *Controller) handleEvent(ev worker.Event) {
	switch ev.Kind {
	case worker.EvtLoading:
		if ev.Fatal {
			c.state = Failed
			if c.capturing {
				c.stopCapture()
			}
			c.sink.FatalError(ev.Text)
			return
		}
		c.sink.StatusLine(ev.Text)

	case worker.EvtInitiate:
		if _, seen := c.ledger[ev.File]; !seen {
			c.ledgerOrder = append(c.ledgerOrder, ev.File)
		}
		c.ledger[ev.File] = ProgressItem{File: ev.File, Loaded: ev.Loaded, Total: ev.Total}
		c.sink.LoadProgress(c.ledgerSnapshot())

	case worker.EvtProgress:
		if item, seen := c.ledger[ev.File]; seen {
			item.Loaded, item.Total = ev.Loaded, ev.Total
			c.ledger[ev.File] = item
			c.sink.LoadProgress(c.ledgerSnapshot())
		}

	case worker.EvtDone:
		delete(c.ledger, ev.File)
		for i, f := range c.ledgerOrder {
			if f == ev.File {
				c.ledgerOrder = append(c.ledgerOrder[:i], c.ledgerOrder[i+1:]...)
				break
			}
		}
		c.sink.LoadProgress(c.ledgerSnapshot())

	case worker.EvtReady:
		c.state = Ready
		c.sink.Ready()
		if c.cfg.AutoCapture && !c.capturing {
			c.startCapture()
		}

	case worker.EvtStart:
		c.sink.TranscribeStart()

	case worker.EvtUpdate:
		c.sink.Transcript(ev.Text, ev.Tps, ev.NumTokens, false)

	case worker.EvtComplete:
		// Generate requests carry no epoch tag, so a complete that raced
		// a language switch is still accepted and displayed. The capture
		// restart already cleared the buffer; at most one stale-language
		// transcript can come through.
		c.processing = false
		c.transcript = ev.Text
		c.stats.Completions++
		c.sink.Transcript(ev.Text, 0, 0, true)
		log.TranscriptionText(ev.Text)
		c.triggerRemote(ev.Text)
		if c.translator == TranslatorLoaded {
			c.triggerLocal(ev.Text)
		}

	case worker.EvtLoadingTranslator:
		if ev.Fatal {
			c.translator = TranslatorFailed
			c.sink.TranslatorStatus(TranslatorFailed, ev.Text)
			return
		}
		c.sink.TranslatorStatus(TranslatorLoading, ev.Text)

	case worker.EvtTranslatorReady:
		c.translator = TranslatorLoaded
		c.sink.TranslatorStatus(TranslatorLoaded, "")

	case worker.EvtTranslationComplete:
		c.stats.LocalTranslations++
		latency := time.Duration(ev.LatencyMs) * time.Millisecond
		log.TranslationMetrics("local", ev.Target, ev.LatencyMs)
		c.sink.LocalTranslation(ev.Text, ev.Target, latency)
	}
}

// triggerRemote translates on its own goroutine; the result rejoins the
// loop as a command. Translations never gate processing, so the next
// window can dispatch while these are in flight.
func (c *Controller) triggerRemote(text string) {
	src, tgt := c.lang, c.remoteTarget
	ctx := c.runCtx
	go func() {
		res := c.remote.Translate(ctx, text, src, tgt)
		c.post(func() {
			c.stats.RemoteTranslations++
			log.TranslationMetrics("remote", tgt, float64(res.Elapsed.Milliseconds()))
			c.sink.RemoteTranslation(res.Text, tgt, res.Elapsed)
		})
	}()
}

func (c *Controller) triggerLocal(text string) {
	c.send(worker.Request{
		Kind:   worker.ReqTranslate,
		Text:   text,
		Source: c.lang,
		Target: c.localTarget,
	})
}

func (c *Controller) startCapture() {
	c.buf.Reset()
	if err := c.capture.Start(); err != nil {
		log.Errorf("capture start: %v", err)
		c.sink.FatalError("capture: " + err.Error())
		c.state = Failed
		return
	}
	c.capturing = true
	c.sink.CaptureState(true)
}

func (c *Controller) stopCapture() {
	c.capture.Stop()
	c.capturing = false
	c.sink.CaptureState(false)
}

func (c *Controller) send(req worker.Request) {
	c.requests <- req
}

func (c *Controller) ledgerSnapshot() []ProgressItem {
	items := make([]ProgressItem, 0, len(c.ledgerOrder))
	for _, f := range c.ledgerOrder {
		items = append(items, c.ledger[f])
	}
	return items
}

func (c *Controller) logSummary() {
	log.SessionSummary(c.stats.WindowsDispatched, c.stats.WindowsSkipped, c.stats.Completions, c.stats.RemoteTranslations, c.stats.LocalTranslations)
}
