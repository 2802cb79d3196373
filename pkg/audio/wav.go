package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	bitsPerSample = 16
	wavHeaderSize = 44
)

// ErrNotWAV is returned by [DecodeWAVHeader] when the input is not a
// RIFF/WAVE stream with 16-bit PCM data.
var ErrNotWAV = errors.New("audio: not a 16-bit PCM WAV stream")

// EncodeWAV wraps samples in a standard 44-byte RIFF/WAV container suitable
// for a multipart transcription upload.
func EncodeWAV(samples []int16, f Format) []byte {
	byteRate := f.SampleRate * f.Channels * bitsPerSample / 8
	blockAlign := f.Channels * bitsPerSample / 8
	dataSize := len(samples) * 2

	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[wavHeaderSize+i*2:], uint16(s))
	}
	return buf
}

// DecodeWAVHeader reads a RIFF/WAVE header from r, skipping any chunks that
// precede the data chunk, and leaves r positioned at the first PCM byte. It
// returns the stream format and the declared data size in bytes.
func DecodeWAVHeader(r io.Reader) (Format, int64, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, 0, fmt.Errorf("audio: read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, 0, ErrNotWAV
	}

	var (
		f      Format
		seenFm bool
		hdr    [8]byte
	)
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return Format{}, 0, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return Format{}, 0, ErrNotWAV
			}
			fmtChunk := make([]byte, size)
			if _, err := io.ReadFull(r, fmtChunk); err != nil {
				return Format{}, 0, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			if binary.LittleEndian.Uint16(fmtChunk[0:2]) != 1 ||
				binary.LittleEndian.Uint16(fmtChunk[14:16]) != bitsPerSample {
				return Format{}, 0, ErrNotWAV
			}
			f.Channels = int(binary.LittleEndian.Uint16(fmtChunk[2:4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(fmtChunk[4:8]))
			seenFm = true
		case "data":
			if !seenFm || !f.Valid() {
				return Format{}, 0, ErrNotWAV
			}
			return f, size, nil
		default:
			// Chunks are word aligned.
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return Format{}, 0, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}
