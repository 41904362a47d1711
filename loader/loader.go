// Package loader decodes stem assets into PCM for the session. Files are read
// from the local disk or fetched over HTTP and decoded for the container given
// by the file extension: .wav with go-audio/wav, the compressed formats with
// the beep decoders.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/vorbis"
	"github.com/go-audio/wav"
	"github.com/stemsync/stemsync"
)

type (
	// Decoder implements session.AssetLoader.
	Decoder struct {
		// SampleRate is the rate the decoded audio is resampled to; 0 keeps
		// the rate of the file.
		SampleRate int
		// Quality of the resampler, see beep.Resample.
		Quality int
		Client  *http.Client
	}
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrUnsupportedScheme = errors.New("unsupported uri scheme")

	// DefaultStemNames are the stems produced by the separation backend.
	DefaultStemNames = []string{"vocals", "drums", "bass", "other"}
)

const (
	DefaultExtension = "wav"
	defaultQuality   = 4
	readChunk        = 8192
	wavFormatFloat   = 3
)

func NewDecoder(sampleRate int) *Decoder {
	return &Decoder{SampleRate: sampleRate, Quality: defaultQuality, Client: http.DefaultClient}
}

// Load reads the whole asset into memory, then decodes it.
func (d *Decoder) Load(ctx context.Context, uri *url.URL) (*stemsync.PCM, error) {
	b, err := d.read(ctx, uri)
	if err != nil {
		return nil, err
	}
	pcm, err := decode(b, path.Ext(uri.Path))
	if err != nil {
		return nil, fmt.Errorf("could not decode %v: %w", uri, err)
	}
	if d.SampleRate <= 0 || d.SampleRate == pcm.SampleRate {
		return pcm, nil
	}
	return d.resample(ctx, pcm)
}

func (d *Decoder) resample(ctx context.Context, pcm *stemsync.PCM) (*stemsync.PCM, error) {
	quality := d.Quality
	if quality <= 0 {
		quality = defaultQuality
	}
	s := beep.Resample(quality, beep.SampleRate(pcm.SampleRate), beep.SampleRate(d.SampleRate), &bufferStreamer{frames: pcm.Frames})
	ret := &stemsync.PCM{
		SampleRate: d.SampleRate,
		Frames:     make(stemsync.AudioBuffer, 0, int(int64(len(pcm.Frames))*int64(d.SampleRate)/int64(pcm.SampleRate))+1),
	}
	chunk := make([][2]float64, readChunk)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, ok := s.Stream(chunk)
		for _, f := range chunk[:n] {
			ret.Frames = append(ret.Frames, [2]float32{float32(f[0]), float32(f[1])})
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("could not resample: %w", err)
	}
	return ret, nil
}

func (d *Decoder) read(ctx context.Context, uri *url.URL) ([]byte, error) {
	switch uri.Scheme {
	case "", "file":
		b, err := os.ReadFile(filepath.FromSlash(uri.Path))
		if err != nil {
			return nil, fmt.Errorf("could not open %v: %w", uri, err)
		}
		return b, nil
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("could not create request for %v: %w", uri, err)
		}
		client := d.Client
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("could not fetch %v: %w", uri, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("could not fetch %v: %s", uri, resp.Status)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("could not read %v: %w", uri, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%q: %w", uri.Scheme, ErrUnsupportedScheme)
}

func decode(b []byte, ext string) (*stemsync.PCM, error) {
	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	rc := io.NopCloser(bytes.NewReader(b))
	switch strings.ToLower(ext) {
	case ".wav", ".wave":
		return decodeWav(bytes.NewReader(b))
	case ".mp3":
		streamer, format, err = mp3.Decode(rc)
	case ".flac":
		streamer, format, err = flac.Decode(rc)
	case ".ogg", ".oga":
		streamer, format, err = vorbis.Decode(rc)
	default:
		return nil, fmt.Errorf("extension %q: %w", ext, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}
	defer streamer.Close()
	pcm := &stemsync.PCM{SampleRate: int(format.SampleRate)}
	if n := streamer.Len(); n > 0 {
		pcm.Frames = make(stemsync.AudioBuffer, 0, n)
	}
	chunk := make([][2]float64, readChunk)
	for {
		n, ok := streamer.Stream(chunk)
		for _, f := range chunk[:n] {
			pcm.Frames = append(pcm.Frames, [2]float32{float32(f[0]), float32(f[1])})
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, err
	}
	return pcm, nil
}

// decodeWav decodes integer PCM .wav files. Samples are scaled by
// 2^(bitDepth-1), mono is copied to both channels and channels past the
// second are dropped.
func decodeWav(r io.ReadSeeker) (*stemsync.PCM, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file: %w", ErrUnsupportedFormat)
	}
	if dec.WavAudioFormat == wavFormatFloat {
		return nil, fmt.Errorf("floating point wav: %w", ErrUnsupportedFormat)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("FullPCMBuffer failed: %w", err)
	}
	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	if channels < 1 || bitDepth < 8 || bitDepth > 32 {
		return nil, fmt.Errorf("%d channels at %d bits: %w", channels, bitDepth, ErrUnsupportedFormat)
	}
	factor := float64(int64(1) << (bitDepth - 1))
	offset := 0.0
	if bitDepth == 8 {
		offset = factor // 8-bit samples are unsigned
	}
	frames := len(buf.Data) / channels
	pcm := &stemsync.PCM{SampleRate: int(dec.SampleRate), Frames: make(stemsync.AudioBuffer, frames)}
	for i := range pcm.Frames {
		l := float32((float64(buf.Data[i*channels]) - offset) / factor)
		r := l
		if channels > 1 {
			r = float32((float64(buf.Data[i*channels+1]) - offset) / factor)
		}
		pcm.Frames[i] = [2]float32{l, r}
	}
	return pcm, nil
}

// bufferStreamer feeds decoded frames to beep.Resample.
type bufferStreamer struct {
	frames stemsync.AudioBuffer
	pos    int
}

func (b *bufferStreamer) Stream(samples [][2]float64) (int, bool) {
	if b.pos >= len(b.frames) {
		return 0, false
	}
	n := min(len(samples), len(b.frames)-b.pos)
	for i, f := range b.frames[b.pos : b.pos+n] {
		samples[i] = [2]float64{float64(f[0]), float64(f[1])}
	}
	b.pos += n
	return n, true
}

func (b *bufferStreamer) Err() error { return nil }
