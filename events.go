package main

import (
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"glot/session"
)

// TUI message types, one per controller event.
type StatusMsg struct{ Text string }
type FatalMsg struct{ Text string }
type ProgressMsg struct{ Items []session.ProgressItem }
type ReadyMsg struct{}
type CaptureMsg struct{ Active bool }
type TranscribeStartMsg struct{}
type TranscriptMsg struct {
	Text      string
	Tps       float64
	NumTokens int
	Final     bool
}
type RemoteTranslationMsg struct {
	Text    string
	Target  string
	Latency time.Duration
}
type LocalTranslationMsg struct {
	Text    string
	Target  string
	Latency time.Duration
}
type TranslatorMsg struct {
	State  session.TranslatorState
	Detail string
}
type AudioLevelMsg struct{ Level float64 }

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// tuiSink forwards controller events into the Bubble Tea message loop.
// All methods run on the controller goroutine; Send is safe there.
type tuiSink struct{}

func (tuiSink) StatusLine(text string) { tuiSend(StatusMsg{Text: text}) }
func (tuiSink) FatalError(text string) { tuiSend(FatalMsg{Text: text}) }

func (tuiSink) LoadProgress(items []session.ProgressItem) { tuiSend(ProgressMsg{Items: items}) }

func (tuiSink) Ready()                   { tuiSend(ReadyMsg{}) }
func (tuiSink) CaptureState(active bool) { tuiSend(CaptureMsg{Active: active}) }
func (tuiSink) TranscribeStart()         { tuiSend(TranscribeStartMsg{}) }

func (tuiSink) Transcript(text string, tps float64, numTokens int, final bool) {
	tuiSend(TranscriptMsg{Text: text, Tps: tps, NumTokens: numTokens, Final: final})
}

func (tuiSink) RemoteTranslation(text, target string, latency time.Duration) {
	tuiSend(RemoteTranslationMsg{Text: text, Target: target, Latency: latency})
}

func (tuiSink) LocalTranslation(text, target string, latency time.Duration) {
	tuiSend(LocalTranslationMsg{Text: text, Target: target, Latency: latency})
}

func (tuiSink) TranslatorStatus(state session.TranslatorState, detail string) {
	tuiSend(TranslatorMsg{State: state, Detail: detail})
}

// consoleSink is the headless event surface: one line per event on
// stdout, plus channels the stdin driver waits on.
type consoleSink struct {
	readyCh    chan struct{}
	completeCh chan string
	remoteCh   chan string
	localCh    chan string
	loadedCh   chan struct{}
}

func newConsoleSink() *consoleSink {
	return &consoleSink{
		readyCh:    make(chan struct{}, 1),
		completeCh: make(chan string, 16),
		remoteCh:   make(chan string, 16),
		localCh:    make(chan string, 16),
		loadedCh:   make(chan struct{}, 1),
	}
}

func (s *consoleSink) StatusLine(text string) { fmt.Println("STATUS " + text) }
func (s *consoleSink) FatalError(text string) { fmt.Println("FATAL " + text) }

func (s *consoleSink) LoadProgress(items []session.ProgressItem) {
	for _, it := range items {
		fmt.Printf("PROGRESS %s %d/%d\n", it.File, it.Loaded, it.Total)
	}
}

func (s *consoleSink) Ready() {
	fmt.Println("READY")
	select {
	case s.readyCh <- struct{}{}:
	default:
	}
}

func (s *consoleSink) CaptureState(active bool) {
	if active {
		fmt.Println("CAPTURE on")
	} else {
		fmt.Println("CAPTURE off")
	}
}

func (s *consoleSink) TranscribeStart() {}

func (s *consoleSink) Transcript(text string, tps float64, numTokens int, final bool) {
	if !final {
		return
	}
	fmt.Println("TRANSCRIPT " + text)
	select {
	case s.completeCh <- text:
	default:
	}
}

func (s *consoleSink) RemoteTranslation(text, target string, latency time.Duration) {
	fmt.Printf("REMOTE[%s] %s (%dms)\n", target, text, latency.Milliseconds())
	select {
	case s.remoteCh <- text:
	default:
	}
}

func (s *consoleSink) LocalTranslation(text, target string, latency time.Duration) {
	fmt.Printf("LOCAL[%s] %s (%dms)\n", target, text, latency.Milliseconds())
	select {
	case s.localCh <- text:
	default:
	}
}

func (s *consoleSink) TranslatorStatus(state session.TranslatorState, detail string) {
	switch state {
	case session.TranslatorLoading:
		fmt.Println("TRANSLATOR loading")
	case session.TranslatorLoaded:
		fmt.Println("TRANSLATOR ready")
		select {
		case s.loadedCh <- struct{}{}:
		default:
		}
	case session.TranslatorFailed:
		fmt.Println("TRANSLATOR failed " + detail)
	}
}
