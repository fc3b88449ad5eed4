package audio

import (
	"encoding/binary"
	"errors"
)

const wavHeaderSize = 44

// PCMToWAV wraps raw PCM audio data with a 44-byte WAV header.
func PCMToWAV(pcm []byte, format Format) []byte {
	dataLen := len(pcm)
	byteRate := format.SampleRate * format.Channels * format.BitsPerSample / 8
	blockAlign := format.Channels * format.BitsPerSample / 8

	header := make([]byte, wavHeaderSize, wavHeaderSize+dataLen)

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(format.BitsPerSample))

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))

	return append(header, pcm...)
}

var errNotWAV = errors.New("audio: not a RIFF/WAVE PCM stream")

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// ParseWAVHeader reads the format and payload of a canonical 44-byte header WAV.
func ParseWAVHeader(data []byte) (Format, []byte, error) {
	if len(data) < wavHeaderSize || !IsWAV(data) || string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return Format{}, nil, errNotWAV
	}
	if binary.LittleEndian.Uint16(data[20:22]) != 1 {
		return Format{}, nil, errNotWAV
	}
	f := Format{
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
	}
	n := int(binary.LittleEndian.Uint32(data[40:44]))
	payload := data[wavHeaderSize:]
	if n < len(payload) {
		payload = payload[:n]
	}
	return f, payload, nil
}
