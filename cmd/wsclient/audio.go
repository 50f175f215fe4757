package main

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// pcmPayload returns the sample data of a WAV file, or data unchanged when it
// is not a RIFF/WAVE container.
func pcmPayload(data []byte) ([]byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" {
		return data, nil
	}
	if string(data[8:12]) != "WAVE" {
		return nil, errors.New("not a valid WAVE file")
	}

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		offset += 8

		if chunkID == "data" {
			end := offset + chunkSize
			if end > len(data) {
				end = len(data)
			}
			return data[offset:end], nil
		}

		// Chunks are word aligned.
		offset += chunkSize + chunkSize%2
	}
	return nil, fmt.Errorf("data chunk not found")
}

// chunkBytes is the size of duration milliseconds of 16-bit mono audio.
func chunkBytes(sampleRateHertz, durationMs int) int {
	return sampleRateHertz * 2 * durationMs / 1000
}

// errInvalidChunkSize is returned by splitChunks for a size below one byte.
var errInvalidChunkSize = errors.New("chunk size must be positive")

func splitChunks(pcm []byte, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", errInvalidChunkSize, size)
	}

	var chunks [][]byte
	for start := 0; start < len(pcm); start += size {
		end := start + size
		if end > len(pcm) {
			end = len(pcm)
		}
		chunks = append(chunks, pcm[start:end])
	}
	return chunks, nil
}
