//go:build (darwin || linux) && !noopus && !cgo

// Opus audio codec support via libstream_opus using
// purego. libstream_opus predates the libmedia_* naming convention used by
// the video backends but is kept as-is rather than renamed, matching how it
// ships upstream.

package webcodecs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	streamOpusOnce    sync.Once
	streamOpusHandle  uintptr
	streamOpusInitErr error
	streamOpusLoaded  bool
)

// libstream_opus function pointers
var (
	streamOpusEncoderCreate      func(sampleRate, channels, application, bitrateBps int32) uint64
	streamOpusEncoderEncodeFloat func(encoder uint64, pcm uintptr, frameSize int32, outData uintptr, outCapacity int32) int32
	streamOpusEncoderSetBitrate  func(encoder uint64, bitrateBps int32) int32
	streamOpusEncoderDestroy     func(encoder uint64)

	streamOpusDecoderCreate      func(sampleRate, channels int32) uint64
	streamOpusDecoderDecodeFloat func(decoder uint64, data uintptr, dataLen int32, pcmOut uintptr, frameSizeOut int32) int32
	streamOpusDecoderReset       func(decoder uint64) int32
	streamOpusDecoderDestroy     func(decoder uint64)

	streamOpusPacketGetSamples func(data uintptr, dataLen, sampleRate int32) int32

	streamOpusGetError func() uintptr
)

// Constants from stream_opus.h
const (
	streamOpusApplicationVOIP     = 2048
	streamOpusApplicationAudio    = 2049
	streamOpusApplicationLowDelay = 2051

	streamOpusOK = 0
)

// OpusApplication selects the Opus encoder's internal tuning.
type OpusApplication int32

const (
	OpusApplicationVOIP     OpusApplication = streamOpusApplicationVOIP
	OpusApplicationAudio    OpusApplication = streamOpusApplicationAudio
	OpusApplicationLowDelay OpusApplication = streamOpusApplicationLowDelay
)

func loadStreamOpus() error {
	streamOpusOnce.Do(func() {
		streamOpusInitErr = loadStreamOpusLib()
		if streamOpusInitErr == nil {
			streamOpusLoaded = true
		}
	})
	return streamOpusInitErr
}

func loadStreamOpusLib() error {
	paths := getStreamOpusLibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			streamOpusHandle = handle
			if err := loadStreamOpusSymbols(); err != nil {
				purego.Dlclose(handle)
				lastErr = err
				continue
			}
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libstream_opus: %w", lastErr)
	}
	return errors.New("libstream_opus not found in any standard location")
}

func getStreamOpusLibPaths() []string {
	var paths []string

	libName := "libstream_opus.so"
	if runtime.GOOS == "darwin" {
		libName = "libstream_opus.dylib"
	}

	if envPath := os.Getenv("STREAM_OPUS_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv("MEDIA_SDK_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	if wd, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(wd, "build", libName),
			filepath.Join(wd, "build", "ffi", libName),
		)
	}

	if root := findModuleRoot(); root != "" {
		paths = append(paths,
			filepath.Join(root, "build", libName),
			filepath.Join(root, "build", "ffi", libName),
		)
	}

	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			"libstream_opus.dylib",
			"/usr/local/lib/libstream_opus.dylib",
			"/opt/homebrew/lib/libstream_opus.dylib",
		)
	case "linux":
		paths = append(paths,
			"libstream_opus.so",
			"/usr/local/lib/libstream_opus.so",
			"/usr/lib/libstream_opus.so",
		)
	}

	return paths
}

func loadStreamOpusSymbols() error {
	purego.RegisterLibFunc(&streamOpusEncoderCreate, streamOpusHandle, "stream_opus_encoder_create")
	purego.RegisterLibFunc(&streamOpusEncoderEncodeFloat, streamOpusHandle, "stream_opus_encoder_encode_float")
	purego.RegisterLibFunc(&streamOpusEncoderSetBitrate, streamOpusHandle, "stream_opus_encoder_set_bitrate")
	purego.RegisterLibFunc(&streamOpusEncoderDestroy, streamOpusHandle, "stream_opus_encoder_destroy")

	purego.RegisterLibFunc(&streamOpusDecoderCreate, streamOpusHandle, "stream_opus_decoder_create")
	purego.RegisterLibFunc(&streamOpusDecoderDecodeFloat, streamOpusHandle, "stream_opus_decoder_decode_float")
	purego.RegisterLibFunc(&streamOpusDecoderReset, streamOpusHandle, "stream_opus_decoder_reset")
	purego.RegisterLibFunc(&streamOpusDecoderDestroy, streamOpusHandle, "stream_opus_decoder_destroy")

	purego.RegisterLibFunc(&streamOpusPacketGetSamples, streamOpusHandle, "stream_opus_packet_get_samples")
	purego.RegisterLibFunc(&streamOpusGetError, streamOpusHandle, "stream_opus_get_error")

	return nil
}

func isOpusAvailable() bool {
	if err := loadStreamOpus(); err != nil {
		return false
	}
	return streamOpusLoaded
}

func getOpusError() string {
	ptr := streamOpusGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

const opusMaxFrameSamples = 5760 // 120ms at 48kHz, the largest Opus frame

// opusEncoder adapts libstream_opus's encoder primitives to audioEncoderBackend.
type opusEncoder struct {
	handle     uint64
	channels   int
	sampleRate int
	outputBuf  []byte
	mu         sync.Mutex
}

func newOpusEncoder(cfg AudioEncoderConfig) (*opusEncoder, error) {
	if err := loadStreamOpus(); err != nil {
		return nil, fmt.Errorf("%w: %s", errBackendUnavailable, err)
	}

	app := OpusApplicationAudio
	if cfg.Opus != nil {
		switch cfg.Opus.Application {
		case "voip":
			app = OpusApplicationVOIP
		case "lowdelay":
			app = OpusApplicationLowDelay
		}
	}
	bitrate := cfg.Bitrate
	if bitrate <= 0 {
		bitrate = 64000
	}

	handle := streamOpusEncoderCreate(int32(cfg.SampleRate), int32(cfg.NumberOfChannels), int32(app), int32(bitrate))
	if handle == 0 {
		return nil, encodingErrorf("failed to create opus encoder: %s", getOpusError())
	}

	return &opusEncoder{
		handle:     handle,
		channels:   cfg.NumberOfChannels,
		sampleRate: cfg.SampleRate,
		outputBuf:  make([]byte, 4000), // Opus packets are always well under 4000 bytes
	}, nil
}

// extradata returns the OpusHead identification header; libopus itself has
// no out-of-band side data, so the header is synthesized from the encoder's
// configuration.
func (e *opusEncoder) extradata() []byte {
	return opusHeadDescription(e.sampleRate, e.channels)
}

// encode expects samples as interleaved float32 PCM, the only format
// libstream_opus accepts; audio_encoder.go converts via AudioData.CopyTo
// before calling in.
func (e *opusEncoder) encode(samples []byte, numberOfFrames int) (encodedAudio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(samples) == 0 {
		return encodedAudio{}, typeErrorf("empty pcm input")
	}

	result := streamOpusEncoderEncodeFloat(
		e.handle,
		uintptr(unsafe.Pointer(&samples[0])),
		int32(numberOfFrames),
		uintptr(unsafe.Pointer(&e.outputBuf[0])),
		int32(len(e.outputBuf)),
	)
	runtime.KeepAlive(samples)

	if result < 0 {
		return encodedAudio{}, encodingErrorf("opus encode failed: %s", getOpusError())
	}

	out := make([]byte, result)
	copy(out, e.outputBuf[:result])
	return encodedAudio{Data: out}, nil
}

func (e *opusEncoder) setBitrate(bitrateBps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if streamOpusEncoderSetBitrate(e.handle, int32(bitrateBps)) != streamOpusOK {
		return encodingErrorf("failed to set opus bitrate: %s", getOpusError())
	}
	return nil
}

func (e *opusEncoder) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != 0 {
		streamOpusEncoderDestroy(e.handle)
		e.handle = 0
	}
}

// opusDecoder adapts libstream_opus's decoder primitives to audioDecoderBackend.
type opusDecoder struct {
	handle     uint64
	channels   int
	sampleRate int
	pcmBuf     []byte
	mu         sync.Mutex
}

func newOpusDecoder(cfg AudioDecoderConfig) (*opusDecoder, error) {
	if err := loadStreamOpus(); err != nil {
		return nil, fmt.Errorf("%w: %s", errBackendUnavailable, err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	channels := cfg.NumberOfChannels
	if channels <= 0 {
		channels = 2
	}

	handle := streamOpusDecoderCreate(int32(sampleRate), int32(channels))
	if handle == 0 {
		return nil, encodingErrorf("failed to create opus decoder: %s", getOpusError())
	}

	return &opusDecoder{
		handle:     handle,
		channels:   channels,
		sampleRate: sampleRate,
		pcmBuf:     make([]byte, opusMaxFrameSamples*channels*4),
	}, nil
}

func (d *opusDecoder) decode(data []byte) (*decodedAudio, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(data) == 0 {
		return nil, typeErrorf("empty encoded data")
	}

	maxFrameSize := int32(len(d.pcmBuf) / (d.channels * 4))
	result := streamOpusDecoderDecodeFloat(
		d.handle,
		uintptr(unsafe.Pointer(&data[0])),
		int32(len(data)),
		uintptr(unsafe.Pointer(&d.pcmBuf[0])),
		maxFrameSize,
	)
	runtime.KeepAlive(data)

	if result < 0 {
		return nil, encodingErrorf("opus decode failed: %s", getOpusError())
	}

	out := make([]byte, int(result)*d.channels*4)
	copy(out, d.pcmBuf[:len(out)])

	return &decodedAudio{
		Samples:          out,
		Format:           SampleFormatF32,
		NumberOfFrames:   int(result),
		NumberOfChannels: d.channels,
	}, nil
}

func (d *opusDecoder) reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if streamOpusDecoderReset(d.handle) != streamOpusOK {
		return encodingErrorf("failed to reset opus decoder: %s", getOpusError())
	}
	return nil
}

func (d *opusDecoder) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != 0 {
		streamOpusDecoderDestroy(d.handle)
		d.handle = 0
	}
}

func init() {
	if err := loadStreamOpus(); err != nil {
		return
	}
	setProviderAvailable(ProviderLibopus)
}
