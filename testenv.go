package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"glot/audio"
	"glot/session"
)

// runTestMode drives the session from stdin commands, one per line.
// Events come back as the consoleSink's stdout lines, so a test harness
// can script a whole session and assert on the output.
//
//	TOGGLE            start/stop capture
//	LANG <code>       switch recognition language
//	TARGET <code>     switch remote translation target
//	LOCAL <code>      switch local translation target
//	TRANSLATOR        load the local translation model
//	WAIT_READY        block until the recognizer is ready
//	WAIT              block until the next transcription completes
//	WAIT_REMOTE       block until the next remote translation
//	WAIT_LOCAL        block until the next local translation
//	WAIT_TRANSLATOR   block until the local translator is loaded
//	WAIT_AUDIO_DONE   block until file replay finishes (replay mode only)
//	SLEEP <ms>        pause the driver
//	QUIT              exit
func runTestMode(ctrl *session.Controller, sink *consoleSink, capture audio.CaptureDevice) {
	replay, _ := capture.(*audio.ReplayCapture)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(cmd)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "TOGGLE":
			ctrl.ToggleCapture()
		case "LANG":
			if len(fields) > 1 {
				ctrl.SetLanguage(fields[1])
			}
		case "TARGET":
			if len(fields) > 1 {
				ctrl.SetRemoteTarget(fields[1])
			}
		case "LOCAL":
			if len(fields) > 1 {
				ctrl.SetLocalTarget(fields[1])
			}
		case "TRANSLATOR":
			ctrl.LoadTranslator()
		case "WAIT_READY":
			<-sink.readyCh
		case "WAIT":
			<-sink.completeCh
		case "WAIT_REMOTE":
			<-sink.remoteCh
		case "WAIT_LOCAL":
			<-sink.localCh
		case "WAIT_TRANSLATOR":
			<-sink.loadedCh
		case "WAIT_AUDIO_DONE":
			if replay != nil {
				<-replay.AudioDone()
			} else {
				fmt.Fprintln(os.Stderr, "WAIT_AUDIO_DONE: not in replay mode")
			}
		case "SLEEP":
			if len(fields) > 1 {
				if ms, err := strconv.Atoi(fields[1]); err == nil {
					time.Sleep(time.Duration(ms) * time.Millisecond)
				}
			}
		case "QUIT":
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", fields[0])
		}
	}
}
