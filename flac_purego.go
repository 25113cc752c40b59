//go:build (darwin || linux) && !noflac && !cgo

// FLAC audio codec support via libmedia_flac using purego, the lossless
// counterpart of vorbis_purego.go. FLAC has no bitrate knob; the encoder
// takes a compression level (0 fastest, 8 smallest) instead.

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
	mediaFLACOnce    sync.Once
	mediaFLACHandle  uintptr
	mediaFLACInitErr error
	mediaFLACLoaded  bool
)

var (
	mediaFLACEncoderCreate  func(sampleRate, channels, bitsPerSample, compressionLevel int32) uint64
	mediaFLACEncoderEncode  func(encoder uint64, pcm uintptr, frameSize int32, outData uintptr, outCapacity int32) int32
	mediaFLACEncoderDestroy func(encoder uint64)

	mediaFLACDecoderCreate  func(sampleRate, channels, bitsPerSample int32) uint64
	mediaFLACDecoderDecode  func(decoder uint64, data uintptr, dataLen int32, pcmOut uintptr, maxFrames int32) int32
	mediaFLACDecoderDestroy func(decoder uint64)

	mediaFLACGetError func() uintptr
)

const mediaFLACOK = 0

func loadMediaFLAC() error {
	mediaFLACOnce.Do(func() {
		mediaFLACInitErr = loadMediaFLACLib()
		if mediaFLACInitErr == nil {
			mediaFLACLoaded = true
		}
	})
	return mediaFLACInitErr
}

func loadMediaFLACLib() error {
	paths := getMediaFLACLibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			mediaFLACHandle = handle
			if err := loadMediaFLACSymbols(); err != nil {
				purego.Dlclose(handle)
				lastErr = err
				continue
			}
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libmedia_flac: %w", lastErr)
	}
	return errors.New("libmedia_flac not found in any standard location")
}

func getMediaFLACLibPaths() []string {
	var paths []string

	libName := "libmedia_flac.so"
	if runtime.GOOS == "darwin" {
		libName = "libmedia_flac.dylib"
	}

	if envPath := os.Getenv("MEDIA_FLAC_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv("MEDIA_SDK_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}
	if root := findModuleRoot(); root != "" {
		paths = append(paths,
			filepath.Join(root, "build", libName),
			filepath.Join(root, "build", "ffi", libName),
		)
	}

	switch runtime.GOOS {
	case "darwin":
		paths = append(paths, "libmedia_flac.dylib", "/usr/local/lib/libmedia_flac.dylib", "/opt/homebrew/lib/libmedia_flac.dylib")
	case "linux":
		paths = append(paths, "libmedia_flac.so", "/usr/local/lib/libmedia_flac.so", "/usr/lib/libmedia_flac.so")
	}

	return paths
}

func loadMediaFLACSymbols() error {
	purego.RegisterLibFunc(&mediaFLACEncoderCreate, mediaFLACHandle, "media_flac_encoder_create")
	purego.RegisterLibFunc(&mediaFLACEncoderEncode, mediaFLACHandle, "media_flac_encoder_encode")
	purego.RegisterLibFunc(&mediaFLACEncoderDestroy, mediaFLACHandle, "media_flac_encoder_destroy")

	purego.RegisterLibFunc(&mediaFLACDecoderCreate, mediaFLACHandle, "media_flac_decoder_create")
	purego.RegisterLibFunc(&mediaFLACDecoderDecode, mediaFLACHandle, "media_flac_decoder_decode")
	purego.RegisterLibFunc(&mediaFLACDecoderDestroy, mediaFLACHandle, "media_flac_decoder_destroy")

	purego.RegisterLibFunc(&mediaFLACGetError, mediaFLACHandle, "media_flac_get_error")
	return nil
}

func isFLACAvailable() bool {
	if err := loadMediaFLAC(); err != nil {
		return false
	}
	return mediaFLACLoaded
}

func getFLACError() string {
	ptr := mediaFLACGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

type flacEncoder struct {
	handle     uint64
	bps        int
	channels   int
	sampleRate int
	outputBuf  []byte
	mu         sync.Mutex
}

func newFLACEncoder(cfg AudioEncoderConfig) (*flacEncoder, error) {
	if err := loadMediaFLAC(); err != nil {
		return nil, fmt.Errorf("%w: %s", errBackendUnavailable, err)
	}

	bps := 16
	compression := int32(5)
	if cfg.FLAC != nil && cfg.FLAC.CompressLevel > 0 {
		if cfg.FLAC.CompressLevel > 8 {
			return nil, typeErrorf("flac compress level %d out of range [0,8]", cfg.FLAC.CompressLevel)
		}
		compression = int32(cfg.FLAC.CompressLevel)
	}

	handle := mediaFLACEncoderCreate(int32(cfg.SampleRate), int32(cfg.NumberOfChannels), int32(bps), compression)
	if handle == 0 {
		return nil, encodingErrorf("failed to create flac encoder: %s", getFLACError())
	}
	return &flacEncoder{
		handle:     handle,
		bps:        bps,
		channels:   cfg.NumberOfChannels,
		sampleRate: cfg.SampleRate,
		outputBuf:  make([]byte, cfg.SampleRate*cfg.NumberOfChannels*2),
	}, nil
}

// extradata returns the fLaC marker plus a STREAMINFO block synthesized
// from the encoder's configuration; the wrapper library does not surface
// libFLAC's own header bytes.
func (e *flacEncoder) extradata() []byte {
	return flacStreamInfoDescription(e.sampleRate, e.channels, e.bps)
}

// encode expects interleaved s16 PCM; audio_encoder.go converts into this
// format before calling, since libFLAC's stream encoder works natively in
// integer samples.
func (e *flacEncoder) encode(samples []byte, numberOfFrames int) (encodedAudio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(samples) == 0 {
		return encodedAudio{}, typeErrorf("empty pcm input")
	}

	result := mediaFLACEncoderEncode(
		e.handle,
		uintptr(unsafe.Pointer(&samples[0])),
		int32(numberOfFrames),
		uintptr(unsafe.Pointer(&e.outputBuf[0])),
		int32(len(e.outputBuf)),
	)
	runtime.KeepAlive(samples)

	if result < 0 {
		return encodedAudio{}, encodingErrorf("flac encode failed: %s", getFLACError())
	}
	out := make([]byte, result)
	copy(out, e.outputBuf[:result])
	return encodedAudio{Data: out}, nil
}

func (e *flacEncoder) setBitrate(bitrateBps int) error {
	return notSupportedErrorf("FLAC is lossless and has no bitrate to set")
}

func (e *flacEncoder) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != 0 {
		mediaFLACEncoderDestroy(e.handle)
		e.handle = 0
	}
}

type flacDecoder struct {
	handle     uint64
	channels   int
	sampleRate int
	pcmBuf     []byte
	mu         sync.Mutex
}

func newFLACDecoder(cfg AudioDecoderConfig) (*flacDecoder, error) {
	if err := loadMediaFLAC(); err != nil {
		return nil, fmt.Errorf("%w: %s", errBackendUnavailable, err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	channels := cfg.NumberOfChannels
	if channels <= 0 {
		channels = 2
	}

	handle := mediaFLACDecoderCreate(int32(sampleRate), int32(channels), 16)
	if handle == 0 {
		return nil, encodingErrorf("failed to create flac decoder: %s", getFLACError())
	}
	return &flacDecoder{handle: handle, channels: channels, sampleRate: sampleRate, pcmBuf: make([]byte, sampleRate*channels*2)}, nil
}

func (d *flacDecoder) decode(data []byte) (*decodedAudio, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(data) == 0 {
		return nil, typeErrorf("empty encoded data")
	}

	maxFrames := int32(len(d.pcmBuf) / (d.channels * 2))
	result := mediaFLACDecoderDecode(d.handle, uintptr(unsafe.Pointer(&data[0])), int32(len(data)), uintptr(unsafe.Pointer(&d.pcmBuf[0])), maxFrames)
	runtime.KeepAlive(data)

	if result < 0 {
		return nil, encodingErrorf("flac decode failed: %s", getFLACError())
	}

	out := make([]byte, int(result)*d.channels*2)
	copy(out, d.pcmBuf[:len(out)])
	return &decodedAudio{Samples: out, Format: SampleFormatS16, NumberOfFrames: int(result), NumberOfChannels: d.channels}, nil
}

func (d *flacDecoder) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != 0 {
		mediaFLACDecoderDestroy(d.handle)
		d.handle = 0
	}
}

func init() {
	if err := loadMediaFLAC(); err != nil {
		return
	}
	setProviderAvailable(ProviderFLAC)
}
