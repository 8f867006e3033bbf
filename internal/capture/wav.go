package capture

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// encodeWAV renders captured PCM samples as a 16-bit WAV file image.
// The encoder needs a seekable writer for its header rewrite, so the
// output goes through a temp file that is always removed.
func encodeWAV(samples []int16) ([]byte, error) {
	file, err := os.CreateTemp("", "murmur-capture-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp wav: %w", err)
	}
	path := file.Name()
	defer os.Remove(path)

	enc := wav.NewEncoder(file, SampleRate, 16, Channels, 1)

	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: Channels, SampleRate: SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		_ = file.Close()
		return nil, fmt.Errorf("write wav frames: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, err
	}

	out, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read back wav: %w", err)
	}
	return out, nil
}
