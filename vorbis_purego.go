//go:build (darwin || linux) && !novorbis && !cgo

// Vorbis audio codec support via libmedia_vorbis using purego, following the
// same wrapper-library idiom as opus_purego.go and vpx_purego.go: a thin C
// shim over libvorbis exposing a primitive create/encode/decode/destroy API.

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
	mediaVorbisOnce    sync.Once
	mediaVorbisHandle  uintptr
	mediaVorbisInitErr error
	mediaVorbisLoaded  bool
)

var (
	mediaVorbisEncoderCreate      func(sampleRate, channels int32, quality float32) uint64
	mediaVorbisEncoderEncodeFloat func(encoder uint64, pcm uintptr, frameSize int32, outData uintptr, outCapacity int32) int32
	mediaVorbisEncoderDestroy     func(encoder uint64)

	mediaVorbisDecoderCreate      func(sampleRate, channels int32) uint64
	mediaVorbisDecoderDecodeFloat func(decoder uint64, data uintptr, dataLen int32, pcmOut uintptr, maxFrames int32) int32
	mediaVorbisDecoderDestroy     func(decoder uint64)

	mediaVorbisGetError func() uintptr
)

const mediaVorbisOK = 0

func loadMediaVorbis() error {
	mediaVorbisOnce.Do(func() {
		mediaVorbisInitErr = loadMediaVorbisLib()
		if mediaVorbisInitErr == nil {
			mediaVorbisLoaded = true
		}
	})
	return mediaVorbisInitErr
}

func loadMediaVorbisLib() error {
	paths := getMediaVorbisLibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			mediaVorbisHandle = handle
			if err := loadMediaVorbisSymbols(); err != nil {
				purego.Dlclose(handle)
				lastErr = err
				continue
			}
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libmedia_vorbis: %w", lastErr)
	}
	return errors.New("libmedia_vorbis not found in any standard location")
}

func getMediaVorbisLibPaths() []string {
	var paths []string

	libName := "libmedia_vorbis.so"
	if runtime.GOOS == "darwin" {
		libName = "libmedia_vorbis.dylib"
	}

	if envPath := os.Getenv("MEDIA_VORBIS_LIB_PATH"); envPath != "" {
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
		paths = append(paths, "libmedia_vorbis.dylib", "/usr/local/lib/libmedia_vorbis.dylib", "/opt/homebrew/lib/libmedia_vorbis.dylib")
	case "linux":
		paths = append(paths, "libmedia_vorbis.so", "/usr/local/lib/libmedia_vorbis.so", "/usr/lib/libmedia_vorbis.so")
	}

	return paths
}

func loadMediaVorbisSymbols() error {
	purego.RegisterLibFunc(&mediaVorbisEncoderCreate, mediaVorbisHandle, "media_vorbis_encoder_create")
	purego.RegisterLibFunc(&mediaVorbisEncoderEncodeFloat, mediaVorbisHandle, "media_vorbis_encoder_encode_float")
	purego.RegisterLibFunc(&mediaVorbisEncoderDestroy, mediaVorbisHandle, "media_vorbis_encoder_destroy")

	purego.RegisterLibFunc(&mediaVorbisDecoderCreate, mediaVorbisHandle, "media_vorbis_decoder_create")
	purego.RegisterLibFunc(&mediaVorbisDecoderDecodeFloat, mediaVorbisHandle, "media_vorbis_decoder_decode_float")
	purego.RegisterLibFunc(&mediaVorbisDecoderDestroy, mediaVorbisHandle, "media_vorbis_decoder_destroy")

	purego.RegisterLibFunc(&mediaVorbisGetError, mediaVorbisHandle, "media_vorbis_get_error")
	return nil
}

func isVorbisAvailable() bool {
	if err := loadMediaVorbis(); err != nil {
		return false
	}
	return mediaVorbisLoaded
}

func getVorbisError() string {
	ptr := mediaVorbisGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

type vorbisEncoder struct {
	handle    uint64
	outputBuf []byte
	mu        sync.Mutex
}

func newVorbisEncoder(cfg AudioEncoderConfig) (*vorbisEncoder, error) {
	if err := loadMediaVorbis(); err != nil {
		return nil, fmt.Errorf("%w: %s", errBackendUnavailable, err)
	}

	// Vorbis is normally driven by a quality factor rather than a target
	// bitrate; approximate one from the requested bitrate per channel.
	quality := float32(0.4)
	if cfg.Bitrate > 0 && cfg.NumberOfChannels > 0 {
		perChannel := float32(cfg.Bitrate) / float32(cfg.NumberOfChannels)
		quality = perChannel/64000 - 0.2
		if quality < -0.2 {
			quality = -0.2
		}
		if quality > 1.0 {
			quality = 1.0
		}
	}

	handle := mediaVorbisEncoderCreate(int32(cfg.SampleRate), int32(cfg.NumberOfChannels), quality)
	if handle == 0 {
		return nil, encodingErrorf("failed to create vorbis encoder: %s", getVorbisError())
	}
	return &vorbisEncoder{handle: handle, outputBuf: make([]byte, 8192)}, nil
}

func (e *vorbisEncoder) encode(samples []byte, numberOfFrames int) (encodedAudio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(samples) == 0 {
		return encodedAudio{}, typeErrorf("empty pcm input")
	}

	result := mediaVorbisEncoderEncodeFloat(
		e.handle,
		uintptr(unsafe.Pointer(&samples[0])),
		int32(numberOfFrames),
		uintptr(unsafe.Pointer(&e.outputBuf[0])),
		int32(len(e.outputBuf)),
	)
	runtime.KeepAlive(samples)

	if result < 0 {
		return encodedAudio{}, encodingErrorf("vorbis encode failed: %s", getVorbisError())
	}
	out := make([]byte, result)
	copy(out, e.outputBuf[:result])
	return encodedAudio{Data: out}, nil
}

// extradata: the wrapper library does not expose the three Xiph setup
// headers, so no decoder description is available for Vorbis.
func (e *vorbisEncoder) extradata() []byte { return nil }

func (e *vorbisEncoder) setBitrate(bitrateBps int) error {
	// The wrapper library only takes a quality factor at creation time.
	return notSupportedErrorf("libvorbis backend does not support runtime bitrate changes")
}

func (e *vorbisEncoder) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != 0 {
		mediaVorbisEncoderDestroy(e.handle)
		e.handle = 0
	}
}

type vorbisDecoder struct {
	handle     uint64
	channels   int
	sampleRate int
	pcmBuf     []byte
	mu         sync.Mutex
}

func newVorbisDecoder(cfg AudioDecoderConfig) (*vorbisDecoder, error) {
	if err := loadMediaVorbis(); err != nil {
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

	handle := mediaVorbisDecoderCreate(int32(sampleRate), int32(channels))
	if handle == 0 {
		return nil, encodingErrorf("failed to create vorbis decoder: %s", getVorbisError())
	}
	return &vorbisDecoder{handle: handle, channels: channels, sampleRate: sampleRate, pcmBuf: make([]byte, sampleRate*channels*4)}, nil
}

func (d *vorbisDecoder) decode(data []byte) (*decodedAudio, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(data) == 0 {
		return nil, typeErrorf("empty encoded data")
	}

	maxFrames := int32(len(d.pcmBuf) / (d.channels * 4))
	result := mediaVorbisDecoderDecodeFloat(d.handle, uintptr(unsafe.Pointer(&data[0])), int32(len(data)), uintptr(unsafe.Pointer(&d.pcmBuf[0])), maxFrames)
	runtime.KeepAlive(data)

	if result < 0 {
		return nil, encodingErrorf("vorbis decode failed: %s", getVorbisError())
	}

	out := make([]byte, int(result)*d.channels*4)
	copy(out, d.pcmBuf[:len(out)])
	return &decodedAudio{Samples: out, Format: SampleFormatF32, NumberOfFrames: int(result), NumberOfChannels: d.channels}, nil
}

func (d *vorbisDecoder) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != 0 {
		mediaVorbisDecoderDestroy(d.handle)
		d.handle = 0
	}
}

func init() {
	if err := loadMediaVorbis(); err != nil {
		return
	}
	setProviderAvailable(ProviderLibvorbis)
}
