package audio

import (
	"bytes"
	"encoding/binary"
	"time"
)

// SilentWAV renders a mono PCM16 WAV file of digital silence
func SilentWAV(duration time.Duration, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = SampleRate16kHz
	}
	frames := int(duration.Seconds() * float64(sampleRate))
	dataSize := frames * bytesPerSample

	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataSize)) //nolint:gosec // bounded by duration
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))                         // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))                         // mono
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))                //nolint:gosec // positive
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*bytesPerSample)) //nolint:gosec // positive
	_ = binary.Write(buf, binary.LittleEndian, uint16(bytesPerSample))
	_ = binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataSize)) //nolint:gosec // bounded by duration
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}
