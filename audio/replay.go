package audio

import (
	"sync"
	"time"

	"glot/pcm"
)

const (
	replayFrameSize     = 1024
	replayBytesPerFrame = 2 // 16-bit mono
)

// ReplayContext feeds a decoded audio file (.wav or .flac) through the
// capture interface. In realtime mode chunks arrive paced at the sample
// rate; otherwise the whole file is delivered on Start and silence
// follows, which keeps the flush loop alive exactly like a quiet mic.
type ReplayContext struct {
	pcmBytes []byte
	realtime bool
}

func NewReplayContext(path string, realtime bool) (*ReplayContext, error) {
	raw, err := pcm.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return &ReplayContext{pcmBytes: raw, realtime: realtime}, nil
}

func (r *ReplayContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "replay", Name: "file replay"}}, nil
}

func (r *ReplayContext) Close() {}

func (r *ReplayContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &ReplayCapture{pcmBytes: r.pcmBytes, realtime: r.realtime, audioDone: make(chan struct{})}, nil
}

type ReplayCapture struct {
	pcmBytes  []byte
	realtime  bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone closes once the file content has been fully delivered.
// Silence keeps flowing after that until Stop. Stop swaps the channel
// for the next take, so the read is guarded like the callback.
func (r *ReplayCapture) AudioDone() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audioDone
}

func (r *ReplayCapture) SetCallback(cb DataCallback) {
	r.mu.Lock()
	r.cb = cb
	r.mu.Unlock()
}

func (r *ReplayCapture) ClearCallback() {
	r.mu.Lock()
	r.cb = nil
	r.mu.Unlock()
}

func (r *ReplayCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(r.pcmBytes))
	chunk := make([]byte, end-pos)
	copy(chunk, r.pcmBytes[pos:end])
	cb(chunk, uint32(len(chunk)/replayBytesPerFrame))
	return end
}

func (r *ReplayCapture) Start() error {
	r.stopCh = make(chan struct{})
	r.feedDone = make(chan struct{})
	// audioDone is NOT recreated here; callers may already be waiting on
	// it. Stop resets it for replay.
	r.mu.Lock()
	audioDone := r.audioDone
	r.mu.Unlock()

	chunkBytes := replayFrameSize * replayBytesPerFrame

	if !r.realtime {
		r.mu.Lock()
		cb := r.cb
		r.mu.Unlock()
		if cb != nil {
			for pos := 0; pos < len(r.pcmBytes); {
				pos = r.feedChunk(cb, pos, chunkBytes)
			}
		}
		close(audioDone)

		go func() {
			defer close(r.feedDone)
			silence := make([]byte, chunkBytes)
			for {
				select {
				case <-r.stopCh:
					return
				case <-time.After(time.Millisecond):
				}
				r.mu.Lock()
				cb := r.cb
				r.mu.Unlock()
				if cb != nil {
					cb(silence, replayFrameSize)
				}
			}
		}()
		return nil
	}

	interval := time.Duration(replayFrameSize) * time.Second / time.Duration(pcm.SampleRate)
	go func() {
		defer close(r.feedDone)
		pos := 0
		silence := make([]byte, chunkBytes)
		audioFinished := false

		for {
			select {
			case <-r.stopCh:
				return
			default:
			}

			r.mu.Lock()
			cb := r.cb
			r.mu.Unlock()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if pos < len(r.pcmBytes) {
				pos = r.feedChunk(cb, pos, chunkBytes)
			} else {
				if !audioFinished {
					audioFinished = true
					close(audioDone)
				}
				cb(silence, replayFrameSize)
			}

			select {
			case <-r.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()

	return nil
}

func (r *ReplayCapture) Stop() {
	if r.stopCh == nil {
		return
	}
	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	if r.feedDone != nil {
		<-r.feedDone
	}
	r.mu.Lock()
	r.audioDone = make(chan struct{}) // reset for replay
	r.mu.Unlock()
}

func (r *ReplayCapture) Close() {}
