package audio

import (
	"bytes"
	"encoding/binary"
)

// WavHeaderSize is the length of the canonical PCM RIFF header written by NewWavBuffer.
const WavHeaderSize = 44

// NewWavBuffer wraps 16-bit mono PCM in a RIFF/WAVE container. Batch
// transcription endpoints expect a file upload rather than raw samples.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(WavHeaderSize + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*BytesPerSample))
	binary.Write(buf, binary.LittleEndian, uint16(BytesPerSample))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// StripWavHeader returns the PCM payload of a canonical WAV buffer. Input
// without a RIFF prefix is returned unchanged.
func StripWavHeader(data []byte) []byte {
	if len(data) < WavHeaderSize || !bytes.HasPrefix(data, []byte("RIFF")) {
		return data
	}
	// Walk chunks so files with LIST/fact chunks still resolve to "data".
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if id == "data" {
			end := off + size
			if end > len(data) || size == 0 {
				end = len(data)
			}
			return data[off:end]
		}
		off += size + size%2
	}
	return data[WavHeaderSize:]
}
