// Package capture records microphone audio into a single WAV blob and
// feeds live amplitude samples to the overlay.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

const (
	// SampleRate matches what transcription providers expect for speech.
	SampleRate = 16000
	// Channels is fixed to mono capture.
	Channels = 1

	framesPerBuffer = 1024
)

// ErrBusy is returned when starting while a stream is already open.
var ErrBusy = errors.New("capture already in progress")

// ErrNotRecording is returned by Stop/Abort without an open stream.
var ErrNotRecording = errors.New("no capture in progress")

// MicAccessError reports a failure to open or start the input device.
type MicAccessError struct {
	Err error
}

// Error formats the device failure for logs and the overlay.
func (e *MicAccessError) Error() string {
	return fmt.Sprintf("microphone unavailable: %v", e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *MicAccessError) Unwrap() error {
	return e.Err
}

// Blob is one finished recording ready for upload.
type Blob struct {
	Data []byte
	MIME string
}

// frameSource abstracts the platform audio stream for testability.
// Read fills the buffer it was opened with.
type frameSource interface {
	Read() error
	Close() error
}

// streamOpener opens a frame source that reads into buf.
type streamOpener func(buf []int16) (frameSource, error)

// portaudioSource adapts a portaudio input stream to frameSource.
type portaudioSource struct {
	stream *portaudio.Stream
}

// Read blocks until one buffer of frames is available.
func (s *portaudioSource) Read() error {
	return s.stream.Read()
}

// Close stops the stream and releases the portaudio runtime.
func (s *portaudioSource) Close() error {
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	termErr := portaudio.Terminate()
	if stopErr != nil {
		return stopErr
	}
	if closeErr != nil {
		return closeErr
	}
	return termErr
}

// openPortAudio initializes portaudio and opens the default input device.
func openPortAudio(buf []int16) (frameSource, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(Channels, 0, float64(SampleRate), len(buf), buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	return &portaudioSource{stream: stream}, nil
}

// Recorder manages a single microphone capture at a time.
type Recorder struct {
	mu        sync.Mutex
	open      streamOpener
	logger    *zap.Logger
	recording bool
	abort     bool
	stop      chan struct{}
	done      chan struct{}
	samples   []int16
	readErr   error
}

// NewRecorder creates a recorder using the default input device.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{open: openPortAudio, logger: logger}
}

// Start opens the microphone and begins buffering frames. onAmplitude
// receives one normalized peak sample (0.0-1.0) per captured buffer.
func (r *Recorder) Start(onAmplitude func(float64)) error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return ErrBusy
	}

	buf := make([]int16, framesPerBuffer*Channels)
	source, err := r.open(buf)
	if err != nil {
		r.mu.Unlock()
		return &MicAccessError{Err: err}
	}

	r.recording = true
	r.abort = false
	r.samples = nil
	r.readErr = nil
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.mu.Unlock()

	go r.captureLoop(source, buf, onAmplitude, r.stop, r.done)
	return nil
}

// Stop finalizes the capture and returns the encoded WAV blob.
func (r *Recorder) Stop() (Blob, error) {
	samples, err := r.finish(false)
	if err != nil {
		return Blob{}, err
	}

	data, err := encodeWAV(samples)
	if err != nil {
		return Blob{}, fmt.Errorf("encode wav: %w", err)
	}
	return Blob{Data: data, MIME: "audio/wav"}, nil
}

// Abort discards buffered audio and releases the microphone.
func (r *Recorder) Abort() error {
	_, err := r.finish(true)
	return err
}

// Recording reports whether a stream is currently open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// finish signals the capture loop, waits for it to drain, and returns the
// buffered samples. The microphone is released on every path.
func (r *Recorder) finish(abort bool) ([]int16, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.abort = abort
	stop := r.stop
	done := r.done
	r.mu.Unlock()

	close(stop)
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	samples := r.samples
	r.samples = nil
	if abort {
		return nil, nil
	}
	if len(samples) == 0 && r.readErr != nil {
		return nil, fmt.Errorf("capture failed: %w", r.readErr)
	}
	return samples, nil
}

// captureLoop reads frames until stopped, accumulating samples and
// reporting per-buffer amplitude.
func (r *Recorder) captureLoop(source frameSource, buf []int16, onAmplitude func(float64), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if err := source.Close(); err != nil {
			r.logger.Warn("close input stream", zap.Error(err))
		}
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := source.Read(); err != nil {
			r.mu.Lock()
			r.readErr = err
			r.mu.Unlock()
			r.logger.Warn("read input frames", zap.Error(err))
			continue
		}

		r.mu.Lock()
		if !r.abort {
			r.samples = append(r.samples, buf...)
		}
		r.mu.Unlock()

		if onAmplitude != nil {
			onAmplitude(peakAmplitude(buf))
		}
	}
}

// peakAmplitude returns the normalized peak of one frame buffer.
func peakAmplitude(buf []int16) float64 {
	var peak int16
	for _, v := range buf {
		if v < 0 {
			// math.MinInt16 negates to itself; clamp via int32 math.
			if -int32(v) > int32(peak) {
				if -int32(v) > 32767 {
					return 1.0
				}
				peak = int16(-int32(v))
			}
			continue
		}
		if v > peak {
			peak = v
		}
	}
	return float64(peak) / 32767.0
}

// NewRecorderForTests creates a recorder with an injectable stream opener.
func NewRecorderForTests(open streamOpener) *Recorder {
	return &Recorder{open: open, logger: zap.NewNop()}
}
