package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"glot/audio"
	"glot/log"
	"glot/pcm"
	"glot/session"
	"glot/shutdown"
	"glot/translate"
	"glot/worker"
)

var version = "dev"

const (
	defaultRecognizer  = "onnx-community/whisper-base"
	defaultTranslator  = "Xenova/nllb-200-distilled-600M"
	maxNewTokens       = 64
	translateMaxTokens = 200
)

// micCapture adapts an audio.CaptureDevice to the controller's
// start/stop slice. The data callback stays wired across restarts.
type micCapture struct {
	dev audio.CaptureDevice
}

func (m *micCapture) Start() error { return m.dev.Start() }
func (m *micCapture) Stop()        { m.dev.Stop() }

func main() {
	langFlag := flag.String("lang", "en", "Recognition language code (e.g., en, es, fr)")
	targetFlag := flag.String("target", "es", "Remote translation target language code")
	localTargetFlag := flag.String("local-target", "es", "Local translation target language code")
	translatorFlag := flag.Bool("translator", false, "Load the local translation model at startup")
	modelFlag := flag.String("model", defaultRecognizer, "Recognition model name")
	translatorModelFlag := flag.String("translator-model", defaultTranslator, "Translation model name")
	quantizedFlag := flag.Bool("quantized", true, "Use quantized model weights")
	runtimeFlag := flag.String("runtime", "synthetic", "Inference runtime backend")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	setupFlag := flag.Bool("setup", false, "Select microphone device interactively")
	fileFlag := flag.String("file", "", "Replay a .wav or .flac recording instead of capturing live")
	realtimeFlag := flag.Bool("realtime", false, "Pace file replay at the sample rate")
	logPathFlag := flag.String("logpath", "", "Log directory path (default: OS-specific location)")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	testFlag := flag.Bool("test", false, "Headless stdin-driven mode")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("glot %s\n", version)
		os.Exit(0)
	}

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	rt, err := newRuntime(*runtimeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var audioCtx audio.Context
	if *fileFlag != "" {
		audioCtx, err = audio.NewReplayContext(*fileFlag, *realtimeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", *fileFlag, err)
			os.Exit(1)
		}
	} else {
		audioCtx, err = audio.NewContext()
		if err != nil {
			log.Errorf("audio context init: %v", err)
			fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
			os.Exit(1)
		}
	}
	defer audioCtx.Close()

	var selectedDevice *audio.DeviceInfo
	if *fileFlag == "" {
		switch {
		case *deviceFlag != "":
			if devices, err := audioCtx.Devices(); err == nil {
				for i := range devices {
					if devices[i].Name == *deviceFlag {
						selectedDevice = &devices[i]
						break
					}
				}
			}
			if selectedDevice == nil {
				fmt.Fprintf(os.Stderr, "Warning: device %q not found, using default\n", *deviceFlag)
			}
		case *setupFlag:
			selectedDevice, err = audio.SelectDevice(audioCtx)
			if err != nil {
				log.Warnf("device selection failed: %v", err)
				fmt.Fprintf(os.Stderr, "Warning: device selection failed: %v, using default\n", err)
			}
		}
	}

	captureDevice, err := audioCtx.NewCapture(selectedDevice, audio.CaptureConfig{
		SampleRate: pcm.SampleRate,
		Channels:   pcm.Channels,
	})
	if err != nil {
		log.Errorf("capture init: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing capture device: %v\n", err)
		os.Exit(1)
	}
	defer captureDevice.Close()

	buf := pcm.NewBuffer()
	captureDevice.SetCallback(func(data []byte, _ uint32) {
		buf.Append(data)
		if len(data) > 1 {
			var sumSquares float64
			for i := 0; i+1 < len(data); i += 2 {
				s := int16(binary.LittleEndian.Uint16(data[i:]))
				n := float64(s) / 32768.0
				sumSquares += n * n
			}
			tuiSend(AudioLevelMsg{Level: math.Sqrt(sumSquares / float64(len(data)/2))})
		}
	})
	defer captureDevice.ClearCallback()

	w := worker.New(rt, worker.Config{
		RecognizerModel:    *modelFlag,
		TranslatorModel:    *translatorModelFlag,
		MaxNewTokens:       maxNewTokens,
		TranslateMaxTokens: translateMaxTokens,
		Quantized:          *quantizedFlag,
	})

	headless := *testFlag || !*tuiFlag

	var sink session.EventSink
	var console *consoleSink
	if headless {
		console = newConsoleSink()
		sink = console
	} else {
		sink = tuiSink{}
	}

	ctrl := session.New(session.Config{
		Language:     *langFlag,
		RemoteTarget: *targetFlag,
		LocalTarget:  *localTargetFlag,
		AutoCapture:  true,
	}, &micCapture{dev: captureDevice}, buf, w, translate.NewRemote(), sink)

	log.SessionStart(*modelFlag, *translatorModelFlag, *langFlag)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		cancel()
	}()

	// The program must exist before the controller starts emitting, or
	// early load events would be dropped by tuiSend.
	if !headless {
		tuiMu.Lock()
		tuiProgram = NewTUIProgram(ctrl, *langFlag)
		tuiMu.Unlock()
	}

	go w.Run(runCtx)
	ctrlDone := make(chan struct{})
	go func() {
		ctrl.Run(runCtx)
		close(ctrlDone)
	}()

	if *translatorFlag {
		ctrl.LoadTranslator()
	}

	if headless {
		runTestMode(ctrl, console, captureDevice)
		cancel()
		<-ctrlDone
		return
	}

	if _, err := tuiProgram.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
	}
	cancel()
	<-ctrlDone
}
