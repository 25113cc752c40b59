//go:build (darwin || linux) && !noav1 && !cgo

// AV1 codec support via libmedia_av1 using purego,
// a thin wrapper around libaom with a simple primitive-only API. Library
// resolution mirrors vpx_purego.go.

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
	mediaAV1Once    sync.Once
	mediaAV1Handle  uintptr
	mediaAV1InitErr error
	mediaAV1Loaded  bool
)

// libmedia_av1 function pointers
var (
	mediaAV1EncoderCreate        func(width, height, fps, bitrateKbps, threads, usage int32) uint64
	mediaAV1EncoderEncode        func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, forceKeyframe, sarNum, sarDen int32, outData uintptr, outCapacity int32, outFrameType, outPts uintptr) int32
	mediaAV1EncoderMaxOutputSize func(encoder uint64) int32
	mediaAV1EncoderRequestKF     func(encoder uint64)
	mediaAV1EncoderSetBitrate    func(encoder uint64, bitrateKbps int32) int32
	mediaAV1EncoderDestroy       func(encoder uint64)

	mediaAV1DecoderCreate  func(threads int32) uint64
	mediaAV1DecoderDecode  func(decoder uint64, data uintptr, dataLen int32, resultOut uintptr) int32
	mediaAV1DecoderReset   func(decoder uint64) int32
	mediaAV1DecoderDestroy func(decoder uint64)

	mediaAV1GetError         func() uintptr
	mediaAV1EncoderAvailable func() int32
	mediaAV1DecoderAvailable func() int32
)

// mediaAV1DecodeResult mirrors media_av1_decode_result_t in C, matching
// mediaVPXDecodeResult's layout since both wrappers were generated from the
// same template.
type mediaAV1DecodeResult struct {
	YPtr                                     uint64
	UPtr                                     uint64
	VPtr                                     uint64
	YStride                                  int32
	UVStride                                 int32
	Width                                    int32
	Height                                   int32
	Result                                   int32
	CropLeft, CropTop, CropRight, CropBottom int32
	SARNum, SARDen                           int32
	Reserved                                 int32
}

// Constants from media_av1.h
const (
	mediaAV1FrameKey = 0

	mediaAV1UsageRealtime    = 0
	mediaAV1UsageGoodQuality = 1

	mediaAV1OK = 0
)

// AV1Usage selects the aom usage profile: realtime favors encode speed,
// goodQuality favors compression efficiency at the cost of latency.
type AV1Usage int32

const (
	AV1UsageRealtime    AV1Usage = mediaAV1UsageRealtime
	AV1UsageGoodQuality AV1Usage = mediaAV1UsageGoodQuality
)

func loadMediaAV1() error {
	mediaAV1Once.Do(func() {
		mediaAV1InitErr = loadMediaAV1Lib()
		if mediaAV1InitErr == nil {
			mediaAV1Loaded = true
		}
	})
	return mediaAV1InitErr
}

func loadMediaAV1Lib() error {
	paths := getMediaAV1LibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			mediaAV1Handle = handle
			if err := loadMediaAV1Symbols(); err != nil {
				purego.Dlclose(handle)
				lastErr = err
				continue
			}
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libmedia_av1: %w", lastErr)
	}
	return errors.New("libmedia_av1 not found in any standard location")
}

func getMediaAV1LibPaths() []string {
	var paths []string

	libName := "libmedia_av1.so"
	if runtime.GOOS == "darwin" {
		libName = "libmedia_av1.dylib"
	}

	if envPath := os.Getenv("MEDIA_AV1_LIB_PATH"); envPath != "" {
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

	if moduleRoot := findModuleRoot(); moduleRoot != "" {
		paths = append(paths,
			filepath.Join(moduleRoot, "build", libName),
			filepath.Join(moduleRoot, "build", "ffi", libName),
		)
	}

	switch runtime.GOOS {
	case "darwin":
		paths = append(paths,
			"libmedia_av1.dylib",
			"/usr/local/lib/libmedia_av1.dylib",
			"/opt/homebrew/lib/libmedia_av1.dylib",
		)
	case "linux":
		paths = append(paths,
			"libmedia_av1.so",
			"/usr/local/lib/libmedia_av1.so",
			"/usr/lib/libmedia_av1.so",
		)
	}

	return paths
}

func loadMediaAV1Symbols() error {
	purego.RegisterLibFunc(&mediaAV1EncoderCreate, mediaAV1Handle, "media_av1_encoder_create")
	purego.RegisterLibFunc(&mediaAV1EncoderEncode, mediaAV1Handle, "media_av1_encoder_encode")
	purego.RegisterLibFunc(&mediaAV1EncoderMaxOutputSize, mediaAV1Handle, "media_av1_encoder_max_output_size")
	purego.RegisterLibFunc(&mediaAV1EncoderRequestKF, mediaAV1Handle, "media_av1_encoder_request_keyframe")
	purego.RegisterLibFunc(&mediaAV1EncoderSetBitrate, mediaAV1Handle, "media_av1_encoder_set_bitrate")
	purego.RegisterLibFunc(&mediaAV1EncoderDestroy, mediaAV1Handle, "media_av1_encoder_destroy")

	purego.RegisterLibFunc(&mediaAV1DecoderCreate, mediaAV1Handle, "media_av1_decoder_create")
	purego.RegisterLibFunc(&mediaAV1DecoderDecode, mediaAV1Handle, "media_av1_decoder_decode")
	purego.RegisterLibFunc(&mediaAV1DecoderReset, mediaAV1Handle, "media_av1_decoder_reset")
	purego.RegisterLibFunc(&mediaAV1DecoderDestroy, mediaAV1Handle, "media_av1_decoder_destroy")

	purego.RegisterLibFunc(&mediaAV1GetError, mediaAV1Handle, "media_av1_get_error")
	purego.RegisterLibFunc(&mediaAV1EncoderAvailable, mediaAV1Handle, "media_av1_encoder_available")
	purego.RegisterLibFunc(&mediaAV1DecoderAvailable, mediaAV1Handle, "media_av1_decoder_available")

	return nil
}

func isAOMAvailable() bool {
	if err := loadMediaAV1(); err != nil {
		return false
	}
	return mediaAV1Loaded
}

func getAV1Error() string {
	ptr := mediaAV1GetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// av1Encoder adapts libmedia_av1's encoder primitives to videoEncoderBackend.
type av1Encoder struct {
	handle       uint64
	outputBuf    []byte
	maxOutputLen int
	mu           sync.Mutex
}

func newAV1Encoder(cfg VideoEncoderConfig, usage AV1Usage) (*av1Encoder, error) {
	if err := loadMediaAV1(); err != nil {
		return nil, fmt.Errorf("%w: %s", errBackendUnavailable, err)
	}
	if mediaAV1EncoderAvailable() == 0 {
		return nil, errBackendUnavailable
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = 4
	}
	fps := cfg.Framerate
	if fps <= 0 {
		fps = 30
	}
	bitrateKbps := int32(cfg.Bitrate / 1000)
	if bitrateKbps <= 0 {
		bitrateKbps = 1000
	}

	handle := mediaAV1EncoderCreate(int32(cfg.Width), int32(cfg.Height), int32(fps), bitrateKbps, int32(threads), int32(usage))
	if handle == 0 {
		return nil, encodingErrorf("failed to create av1 encoder: %s", getAV1Error())
	}

	maxOutput := mediaAV1EncoderMaxOutputSize(handle)
	if maxOutput <= 0 {
		maxOutput = int32(cfg.Width * cfg.Height * 3 / 2)
	}

	return &av1Encoder{handle: handle, outputBuf: make([]byte, maxOutput), maxOutputLen: int(maxOutput)}, nil
}

func (e *av1Encoder) encode(planes []rawVideoPlane, width, height int, forceKeyframe bool, sarNum, sarDen int) (encodedVideo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(planes) < 3 {
		return encodedVideo{}, typeErrorf("libaom backend requires 3 planes (Y, U, V), got %d", len(planes))
	}

	fkf := int32(0)
	if forceKeyframe {
		fkf = 1
	}
	if sarNum <= 0 || sarDen <= 0 {
		sarNum, sarDen = 1, 1
	}

	var frameType int32
	var pts int64

	result := mediaAV1EncoderEncode(
		e.handle,
		uintptr(unsafe.Pointer(&planes[0].Data[0])),
		uintptr(unsafe.Pointer(&planes[1].Data[0])),
		uintptr(unsafe.Pointer(&planes[2].Data[0])),
		int32(planes[0].Stride),
		int32(planes[1].Stride),
		fkf,
		int32(sarNum),
		int32(sarDen),
		uintptr(unsafe.Pointer(&e.outputBuf[0])),
		int32(len(e.outputBuf)),
		uintptr(unsafe.Pointer(&frameType)),
		uintptr(unsafe.Pointer(&pts)),
	)
	runtime.KeepAlive(planes)

	if result < 0 {
		return encodedVideo{}, encodingErrorf("av1 encode failed: %s", getAV1Error())
	}

	out := make([]byte, result)
	copy(out, e.outputBuf[:result])
	return encodedVideo{Data: out, Keyframe: frameType == mediaAV1FrameKey}, nil
}

func (e *av1Encoder) setBitrate(bitrateBps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if mediaAV1EncoderSetBitrate(e.handle, int32(bitrateBps/1000)) != mediaAV1OK {
		return encodingErrorf("failed to set bitrate: %s", getAV1Error())
	}
	return nil
}

// extradata: AV1 carries its sequence header in-band; no description.
func (e *av1Encoder) extradata() []byte { return nil }

func (e *av1Encoder) requestKeyframe() {
	e.mu.Lock()
	defer e.mu.Unlock()
	mediaAV1EncoderRequestKF(e.handle)
}

func (e *av1Encoder) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != 0 {
		mediaAV1EncoderDestroy(e.handle)
		e.handle = 0
	}
}

// av1Decoder adapts libmedia_av1's decoder primitives to videoDecoderBackend.
type av1Decoder struct {
	handle       uint64
	decodeResult *mediaAV1DecodeResult
	mu           sync.Mutex
}

func newAV1Decoder(cfg VideoDecoderConfig) (*av1Decoder, error) {
	if err := loadMediaAV1(); err != nil {
		return nil, fmt.Errorf("%w: %s", errBackendUnavailable, err)
	}
	if mediaAV1DecoderAvailable() == 0 {
		return nil, errBackendUnavailable
	}

	threads := int32(4)
	if cfg.Threads > 0 {
		threads = int32(cfg.Threads)
	}

	handle := mediaAV1DecoderCreate(threads)
	if handle == 0 {
		return nil, encodingErrorf("failed to create av1 decoder: %s", getAV1Error())
	}
	return &av1Decoder{handle: handle, decodeResult: &mediaAV1DecodeResult{}}, nil
}

func (d *av1Decoder) decode(data []byte) (*decodedVideo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(data) == 0 {
		return nil, typeErrorf("empty encoded data")
	}

	out := d.decodeResult
	result := mediaAV1DecoderDecode(d.handle, uintptr(unsafe.Pointer(&data[0])), int32(len(data)), uintptr(unsafe.Pointer(out)))
	runtime.KeepAlive(data)
	runtime.KeepAlive(out)

	if result < 0 {
		return nil, encodingErrorf("av1 decode failed: %s", getAV1Error())
	}
	if result == 0 {
		return nil, nil
	}

	w, h := int(out.Width), int(out.Height)
	if w <= 0 || h <= 0 || out.YPtr == 0 || out.YStride <= 0 || out.UVStride <= 0 {
		return nil, encodingErrorf("invalid av1 decoder output: stride=%d/%d, size=%dx%d", out.YStride, out.UVStride, w, h)
	}

	uvW, uvH := (w+1)/2, (h+1)/2
	y := copyPlaneFromC(unsafe.Pointer(uintptr(out.YPtr)), int(out.YStride), w, h)
	u := copyPlaneFromC(unsafe.Pointer(uintptr(out.UPtr)), int(out.UVStride), uvW, uvH)
	v := copyPlaneFromC(unsafe.Pointer(uintptr(out.VPtr)), int(out.UVStride), uvW, uvH)

	return &decodedVideo{
		Planes: []rawVideoPlane{
			{Data: y, Stride: w},
			{Data: u, Stride: uvW},
			{Data: v, Stride: uvW},
		},
		Format:     PixelFormatI420,
		Width:      w,
		Height:     h,
		CropLeft:   int(out.CropLeft),
		CropTop:    int(out.CropTop),
		CropRight:  int(out.CropRight),
		CropBottom: int(out.CropBottom),
		SARNum:     int(out.SARNum),
		SARDen:     int(out.SARDen),
	}, nil
}

func (d *av1Decoder) reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mediaAV1DecoderReset(d.handle) != mediaAV1OK {
		return encodingErrorf("failed to reset av1 decoder: %s", getAV1Error())
	}
	return nil
}

func (d *av1Decoder) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != 0 {
		mediaAV1DecoderDestroy(d.handle)
		d.handle = 0
	}
}

func init() {
	if err := loadMediaAV1(); err != nil {
		return
	}
	if mediaAV1EncoderAvailable() != 0 || mediaAV1DecoderAvailable() != 0 {
		setProviderAvailable(ProviderAOM)
	}
}
