// Package media provides lightweight audio container inspection. Payload
// validation must not depend on the inference stack, so the checks here work
// from magic bytes alone.
package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Format identifies an audio container recognized by the service.
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatOGG     Format = "ogg"
	FormatFLAC    Format = "flac"
	FormatUnknown Format = ""
)

// Ext returns the filename extension for the format, including the dot.
func (f Format) Ext() string {
	if f == FormatUnknown {
		return ".bin"
	}
	return "." + string(f)
}

const sniffLen = 12

// DetectFormat sniffs the container format from the payload's leading bytes.
func DetectFormat(data []byte) Format {
	if len(data) < sniffLen {
		return FormatUnknown
	}
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(data, []byte("OggS")):
		return FormatOGG
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3
	case data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// Bare MPEG audio frame sync, MP3 without an ID3 tag.
		return FormatMP3
	}
	return FormatUnknown
}

var errNotWAV = errors.New("media: not a RIFF/WAVE payload")

// WAVDuration walks the RIFF chunks of a PCM WAV payload and derives the
// play time from the fmt byte rate and the data chunk length.
func WAVDuration(data []byte) (time.Duration, error) {
	if DetectFormat(data) != FormatWAV {
		return 0, errNotWAV
	}

	var (
		byteRate uint32
		dataLen  uint32
		haveFmt  bool
		haveData bool
	)

	// Chunks start after the 12-byte RIFF header.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		body := off + 8
		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return 0, fmt.Errorf("media: truncated fmt chunk")
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
			haveFmt = true
		case "data":
			dataLen = size
			haveData = true
		}
		// Chunk bodies are word aligned.
		off = body + int(size)
		if size%2 == 1 {
			off++
		}
		if haveFmt && haveData {
			break
		}
	}

	if !haveFmt || !haveData {
		return 0, fmt.Errorf("media: missing fmt or data chunk")
	}
	if byteRate == 0 {
		return 0, fmt.Errorf("media: zero byte rate")
	}

	seconds := float64(dataLen) / float64(byteRate)
	return time.Duration(seconds * float64(time.Second)), nil
}
