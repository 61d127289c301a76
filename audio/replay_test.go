package audio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"glot/pcm"
)

func writeTestWAV(t *testing.T, samples []int16) string {
	t.Helper()
	dataLen := len(samples) * 2
	buf := make([]byte, 44+dataLen)
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+dataLen))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:], pcm.SampleRate)
	binary.LittleEndian.PutUint32(buf[28:], pcm.SampleRate*2)
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(dataLen))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(s))
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReplayDeliversFileThenSilence(t *testing.T) {
	samples := make([]int16, 4000)
	for i := range samples {
		samples[i] = 1000
	}
	ctx, err := NewReplayContext(writeTestWAV(t, samples), false)
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: pcm.SampleRate, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var total int
	sawSilence := false
	dev.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		defer mu.Unlock()
		allZero := true
		for _, b := range data {
			if b != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			sawSilence = true
		} else {
			total += len(data)
		}
	})

	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}

	replay := dev.(*ReplayCapture)
	select {
	case <-replay.AudioDone():
	case <-time.After(time.Second):
		t.Fatal("audio never finished")
	}
	time.Sleep(10 * time.Millisecond) // let a silence chunk or two through
	dev.Stop()

	mu.Lock()
	defer mu.Unlock()
	if total != len(samples)*2 {
		t.Errorf("delivered %d bytes of audio, want %d", total, len(samples)*2)
	}
	if !sawSilence {
		t.Error("no silence chunks after end of file")
	}
}

func TestReplayStopIsIdempotentAndRestartable(t *testing.T) {
	ctx, err := NewReplayContext(writeTestWAV(t, make([]int16, 256)), false)
	if err != nil {
		t.Fatal(err)
	}
	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: pcm.SampleRate, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	dev.Stop() // never started: must be a no-op, not a panic
	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}
	dev.Stop()
	dev.Stop()
	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}
	dev.Stop()
}

// The headless driver polls AudioDone from its own goroutine while the
// controller may stop and restart the capture; the channel swap in Stop
// must be safe against those concurrent reads.
func TestReplayAudioDoneConcurrentWithStop(t *testing.T) {
	ctx, err := NewReplayContext(writeTestWAV(t, make([]int16, 512)), false)
	if err != nil {
		t.Fatal(err)
	}
	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: pcm.SampleRate, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	replay := dev.(*ReplayCapture)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				select {
				case <-replay.AudioDone():
				case <-time.After(time.Millisecond):
				}
			}
		}
	}()

	for i := 0; i < 20; i++ {
		if err := dev.Start(); err != nil {
			t.Fatal(err)
		}
		dev.Stop()
	}
	close(stop)
	wg.Wait()
}

func TestIsBluetooth(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"Sony WH-1000XM5", true},
		{"Built-in Microphone", false},
		{"USB Condenser Mic", false},
		{"Galaxy Buds2", true},
	}
	for _, c := range cases {
		if got := IsBluetooth(c.name); got != c.want {
			t.Errorf("IsBluetooth(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}
