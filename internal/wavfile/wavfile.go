// Package wavfile builds, decodes, and concatenates uncompressed
// linear-PCM WAV containers.
//
// Building and concatenation manipulate the 44-byte canonical header
// directly: concatenation must strip all but the first header and rewrite
// the aggregate length fields, which no encoder API expresses. Decoding
// goes through go-audio so downstream code works with audio.IntBuffer.
package wavfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// HeaderSize is the canonical RIFF/fmt/data header length in bytes.
const HeaderSize = 44

// ErrNotWAV is returned for data that does not start with a RIFF header.
var ErrNotWAV = errors.New("not a RIFF/WAVE container")

// Build wraps raw little-endian PCM bytes in a WAV container.
func Build(pcm []byte, sampleRate, channels, bitDepth int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 || bitDepth <= 0 {
		return nil, fmt.Errorf("invalid format: rate=%d channels=%d bits=%d", sampleRate, channels, bitDepth)
	}

	blockAlign := channels * bitDepth / 8
	byteRate := sampleRate * blockAlign

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitDepth))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// BuildFromSamples encodes 16-bit samples into a WAV container.
func BuildFromSamples(samples []int, sampleRate, channels int) ([]byte, error) {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
	}
	return Build(pcm, sampleRate, channels, 16)
}

// Decode parses a WAV container into an IntBuffer of samples.
func Decode(data []byte) (*audio.IntBuffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, ErrNotWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	return buf, nil
}

// SamplesFromPCM converts raw 16-bit little-endian mono PCM into an
// IntBuffer without a container round trip.
func SamplesFromPCM(pcm []byte, sampleRate int) (*audio.IntBuffer, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not 16-bit aligned: %d bytes", len(pcm))
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           samples,
	}, nil
}

// Duration returns the container's play time in seconds.
func Duration(data []byte) (float64, error) {
	if err := validate(data); err != nil {
		return 0, err
	}
	byteRate := binary.LittleEndian.Uint32(data[28:32])
	dataLen := binary.LittleEndian.Uint32(data[40:44])
	if byteRate == 0 {
		return 0, fmt.Errorf("container declares zero byte rate")
	}
	return float64(dataLen) / float64(byteRate), nil
}

// Concat joins containers by stripping all but the first header and
// rewriting the RIFF and data chunk lengths. All inputs must share the
// first container's format fields.
func Concat(containers ...[]byte) ([]byte, error) {
	if len(containers) == 0 {
		return nil, fmt.Errorf("nothing to concatenate")
	}
	for i, c := range containers {
		if err := validate(c); err != nil {
			return nil, fmt.Errorf("container %d: %w", i, err)
		}
	}

	first := containers[0]
	format := first[20:36]
	totalData := 0
	for i, c := range containers {
		if i > 0 && !bytes.Equal(c[20:36], format) {
			return nil, fmt.Errorf("container %d: format mismatch", i)
		}
		totalData += len(c) - HeaderSize
	}

	out := make([]byte, 0, HeaderSize+totalData)
	out = append(out, first[:HeaderSize]...)
	for _, c := range containers {
		out = append(out, c[HeaderSize:]...)
	}
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+totalData))
	binary.LittleEndian.PutUint32(out[40:44], uint32(totalData))
	return out, nil
}

func validate(data []byte) error {
	if len(data) < HeaderSize ||
		!bytes.Equal(data[0:4], []byte("RIFF")) ||
		!bytes.Equal(data[8:12], []byte("WAVE")) ||
		!bytes.Equal(data[36:40], []byte("data")) {
		return ErrNotWAV
	}
	return nil
}
