// Package worker is the message-passing boundary between the control
// context (capture, UI, session state) and the compute context (model
// loading and inference). The two sides share no mutable state; the
// request/event schema below is the wire contract, and events are
// delivered strictly in the order the compute side emits them, with no
// reordering or coalescing. The controller relies on start preceding
// update/complete for the same request.
package worker

import "glot/pcm"

type RequestKind string

const (
	ReqLoad           RequestKind = "load"
	ReqLoadTranslator RequestKind = "load-translator"
	ReqGenerate       RequestKind = "generate"
	ReqTranslate      RequestKind = "translate"
)

// Request is a control-to-compute message. Only the fields for its Kind
// are meaningful.
type Request struct {
	Kind RequestKind

	// generate
	Window   pcm.Window
	Language string

	// translate
	Text   string
	Source string
	Target string
}

type EventKind string

const (
	// Recognizer loading lifecycle.
	EvtLoading  EventKind = "loading"
	EvtInitiate EventKind = "initiate"
	EvtProgress EventKind = "progress"
	EvtDone     EventKind = "done"
	EvtReady    EventKind = "ready"

	// Transcription stream.
	EvtStart    EventKind = "start"
	EvtUpdate   EventKind = "update"
	EvtComplete EventKind = "complete"

	// Translator lifecycle and results.
	EvtLoadingTranslator   EventKind = "loading-translator"
	EvtTranslatorReady     EventKind = "translator-ready"
	EvtTranslationComplete EventKind = "translation-complete"
)

// Event is a compute-to-control message.
type Event struct {
	Kind EventKind

	// loading / loading-translator: human-readable status. A failed load
	// is reported here too (Fatal set), terminal for the session.
	Text  string
	Fatal bool

	// initiate / progress / done: per-artifact download progress, keyed
	// by File.
	File   string
	Loaded int64
	Total  int64

	// update: streamed transcript so far plus token rate; complete: the
	// final transcript. NumTokens is 0 on the first update, which carries
	// no rate.
	Tps       float64
	NumTokens int

	// translation-complete: translated Text plus the Target it was
	// requested for and the model-side latency in milliseconds.
	Target    string
	LatencyMs float64
}
