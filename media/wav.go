package media

import (
	"bytes"
	"encoding/binary"
	"mime"
	"strconv"
	"strings"
)

const (
	DefaultSampleRate = 24000

	pcmChannels = 1
	pcmBits     = 16
)

// WrapPCM puts raw little-endian 16 bit mono samples into RIFF/WAVE container.
func WrapPCM(pcm []byte, rate int) []byte {
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	blockAlign := pcmChannels * pcmBits / 8

	buf := new(bytes.Buffer)
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16)) // PCM header size
	binary.Write(buf, binary.LittleEndian, uint16(1))  // PCM format
	binary.Write(buf, binary.LittleEndian, uint16(pcmChannels))
	binary.Write(buf, binary.LittleEndian, uint32(rate))
	binary.Write(buf, binary.LittleEndian, uint32(rate*blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(pcmBits))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// IsPCM reports whether MIME type describes raw samples, returns sample rate
// if present in parameters.
func IsPCM(mimeType string) (bool, int) {
	mt, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	if mt != "audio/l16" && mt != "audio/pcm" {
		return false, 0
	}
	rate := DefaultSampleRate
	if v, ok := params["rate"]; ok {
		if r, err := strconv.Atoi(v); err == nil && r > 0 {
			rate = r
		}
	}
	return true, rate
}

// Normalize makes audio playable: raw PCM becomes audio/wav, everything else
// is returned as is.
func Normalize(m *Media) *Media {
	if m == nil {
		return nil
	}
	if ok, rate := IsPCM(m.MimeType); ok {
		return &Media{Data: WrapPCM(m.Data, rate), MimeType: "audio/wav"}
	}
	return m
}

// PCMFromWAV returns sample data of a canonical WAV produced by WrapPCM, nil
// if data is not such WAV.
func PCMFromWAV(data []byte) []byte {
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
		return nil
	}
	return data[44:]
}
