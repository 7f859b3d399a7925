package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

type wavHeader struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	hdr := wavHeader{
		AudioFormat:   1, // PCM
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
	}

	dataSize := uint32(len(pcm))
	if _, err := out.Write([]byte("RIFF")); err != nil {
		return err
	}
	if err := binary.Write(out, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := out.Write([]byte("WAVEfmt ")); err != nil {
		return err
	}
	if err := binary.Write(out, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(out, binary.LittleEndian, hdr); err != nil {
		return err
	}
	if _, err := out.Write([]byte("data")); err != nil {
		return err
	}
	if err := binary.Write(out, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// DecodeWAVPCM16LE extracts the raw PCM payload and sample rate from a WAV
// stream. Only uncompressed 16-bit PCM is supported.
func DecodeWAVPCM16LE(r io.Reader) (pcm []byte, sampleRate int, err error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a WAV stream")
	}

	var hdr wavHeader
	sawFormat := false
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, 0, errors.New("wav stream has no data chunk")
			}
			return nil, 0, fmt.Errorf("read chunk header: %w", err)
		}
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch string(chunk[0:4]) {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("wav fmt chunk too short")
			}
			if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
				return nil, 0, fmt.Errorf("read fmt chunk: %w", err)
			}
			if hdr.AudioFormat != 1 || hdr.BitsPerSample != 16 {
				return nil, 0, fmt.Errorf("unsupported wav format %d/%d-bit", hdr.AudioFormat, hdr.BitsPerSample)
			}
			if rest := int64(size) - 16; rest > 0 {
				if _, err := io.CopyN(io.Discard, r, rest); err != nil {
					return nil, 0, err
				}
			}
			sawFormat = true
		case "data":
			if !sawFormat {
				return nil, 0, errors.New("wav data chunk precedes fmt chunk")
			}
			pcm := make([]byte, size)
			if _, err := io.ReadFull(r, pcm); err != nil {
				return nil, 0, fmt.Errorf("read data chunk: %w", err)
			}
			return pcm, int(hdr.SampleRate), nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
				return nil, 0, fmt.Errorf("skip chunk: %w", err)
			}
		}
	}
}
