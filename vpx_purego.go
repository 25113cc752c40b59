//go:build (darwin || linux) && !novpx

// VP8/VP9 codec support via libmedia_vpx using purego.
//
// This implementation uses purego to load libmedia_vpx dynamically at runtime,
// which is a thin wrapper around libvpx with a simple primitive-only API.
//
// Library locations checked (in order):
//   - MEDIA_VPX_LIB_PATH environment variable
//   - MEDIA_SDK_LIB_PATH environment variable (same as main FFI)
//   - build/ffi directory (development)
//   - System library paths

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
	mediaVPXOnce    sync.Once
	mediaVPXHandle  uintptr
	mediaVPXInitErr error
	mediaVPXLoaded  bool
)

// libmedia_vpx function pointers
var (
	mediaVPXEncoderCreate        func(codec, width, height, fps, bitrateKbps, threads int32) uint64
	mediaVPXEncoderEncode        func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, forceKeyframe, sarNum, sarDen int32, outData uintptr, outCapacity int32, outFrameType, outPts uintptr) int32
	mediaVPXEncoderMaxOutputSize func(encoder uint64) int32
	mediaVPXEncoderRequestKF     func(encoder uint64)
	mediaVPXEncoderSetBitrate    func(encoder uint64, bitrateKbps int32) int32
	mediaVPXEncoderDestroy       func(encoder uint64)

	mediaVPXDecoderCreate   func(codec, threads int32) uint64
	mediaVPXDecoderDecodeV2 func(decoder uint64, data uintptr, dataLen int32, resultOut uintptr) int32
	mediaVPXDecoderReset    func(decoder uint64) int32
	mediaVPXDecoderDestroy  func(decoder uint64)

	mediaVPXGetError       func() uintptr
	mediaVPXCodecAvailable func(codec int32) int32
)

// mediaVPXDecodeResult matches media_vpx_decode_result_t in C. It must be
// heap-allocated for purego to work correctly on arm64.
type mediaVPXDecodeResult struct {
	YPtr                                     uint64
	UPtr                                     uint64
	VPtr                                     uint64
	YStride                                  int32
	UVStride                                 int32
	Width                                    int32
	Height                                   int32
	Result                                   int32 // 1=decoded, 0=buffering, <0=error
	CropLeft, CropTop, CropRight, CropBottom int32
	SARNum, SARDen                           int32 // 0/0 when unsignaled
	Reserved                                 int32
}

// Constants from media_vpx.h
const (
	mediaVPXCodecVP8 = 0
	mediaVPXCodecVP9 = 1

	mediaVPXFrameKey = 0

	mediaVPXOK = 0
)

// loadMediaVPX loads the libmedia_vpx shared library.
func loadMediaVPX() error {
	mediaVPXOnce.Do(func() {
		mediaVPXInitErr = loadMediaVPXLib()
		if mediaVPXInitErr == nil {
			mediaVPXLoaded = true
		}
	})
	return mediaVPXInitErr
}

func loadMediaVPXLib() error {
	paths := getMediaVPXLibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			mediaVPXHandle = handle
			if err := loadMediaVPXSymbols(); err != nil {
				purego.Dlclose(handle)
				lastErr = err
				continue
			}
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libmedia_vpx: %w", lastErr)
	}
	return errors.New("libmedia_vpx not found in any standard location")
}

func getMediaVPXLibPaths() []string {
	var paths []string

	libName := "libmedia_vpx.so"
	if runtime.GOOS == "darwin" {
		libName = "libmedia_vpx.dylib"
	}

	if envPath := os.Getenv("MEDIA_VPX_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv("MEDIA_SDK_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
			filepath.Join(exeDir, "..", "..", "build", "ffi", libName),
		)
	}

	if wd, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(wd, "build", libName),
			filepath.Join(wd, "build", "ffi", libName),
			filepath.Join(wd, "..", "build", "ffi", libName),
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
			"libmedia_vpx.dylib",
			"/usr/local/lib/libmedia_vpx.dylib",
			"/opt/homebrew/lib/libmedia_vpx.dylib",
		)
	case "linux":
		paths = append(paths,
			"libmedia_vpx.so",
			"/usr/local/lib/libmedia_vpx.so",
			"/usr/lib/libmedia_vpx.so",
		)
	}

	return paths
}

func loadMediaVPXSymbols() error {
	purego.RegisterLibFunc(&mediaVPXEncoderCreate, mediaVPXHandle, "media_vpx_encoder_create")
	purego.RegisterLibFunc(&mediaVPXEncoderEncode, mediaVPXHandle, "media_vpx_encoder_encode")
	purego.RegisterLibFunc(&mediaVPXEncoderMaxOutputSize, mediaVPXHandle, "media_vpx_encoder_max_output_size")
	purego.RegisterLibFunc(&mediaVPXEncoderRequestKF, mediaVPXHandle, "media_vpx_encoder_request_keyframe")
	purego.RegisterLibFunc(&mediaVPXEncoderSetBitrate, mediaVPXHandle, "media_vpx_encoder_set_bitrate")
	purego.RegisterLibFunc(&mediaVPXEncoderDestroy, mediaVPXHandle, "media_vpx_encoder_destroy")

	purego.RegisterLibFunc(&mediaVPXDecoderCreate, mediaVPXHandle, "media_vpx_decoder_create")
	purego.RegisterLibFunc(&mediaVPXDecoderDecodeV2, mediaVPXHandle, "media_vpx_decoder_decode_v2")
	purego.RegisterLibFunc(&mediaVPXDecoderReset, mediaVPXHandle, "media_vpx_decoder_reset")
	purego.RegisterLibFunc(&mediaVPXDecoderDestroy, mediaVPXHandle, "media_vpx_decoder_destroy")

	purego.RegisterLibFunc(&mediaVPXGetError, mediaVPXHandle, "media_vpx_get_error")
	purego.RegisterLibFunc(&mediaVPXCodecAvailable, mediaVPXHandle, "media_vpx_codec_available")

	return nil
}

// isVPXAvailable checks if libmedia_vpx is available.
func isVPXAvailable() bool {
	if err := loadMediaVPX(); err != nil {
		return false
	}
	return mediaVPXLoaded
}

func getVPXError() string {
	ptr := mediaVPXGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

func vpxCodecConst(codec VideoCodec) (int32, error) {
	switch codec {
	case VideoCodecVP8:
		return mediaVPXCodecVP8, nil
	case VideoCodecVP9:
		return mediaVPXCodecVP9, nil
	default:
		return 0, notSupportedErrorf("libvpx backend does not handle %s", codec)
	}
}

// vpxEncoder adapts libmedia_vpx's encoder primitives to videoEncoderBackend.
type vpxEncoder struct {
	handle       uint64
	outputBuf    []byte
	maxOutputLen int
	mu           sync.Mutex
}

func newVPXEncoder(codec VideoCodec, cfg VideoEncoderConfig) (*vpxEncoder, error) {
	if err := loadMediaVPX(); err != nil {
		return nil, fmt.Errorf("%w: %s", errBackendUnavailable, err)
	}
	codecType, err := vpxCodecConst(codec)
	if err != nil {
		return nil, err
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

	handle := mediaVPXEncoderCreate(codecType, int32(cfg.Width), int32(cfg.Height), int32(fps), bitrateKbps, int32(threads))
	if handle == 0 {
		return nil, encodingErrorf("failed to create %s encoder: %s", codec, getVPXError())
	}

	maxOutput := mediaVPXEncoderMaxOutputSize(handle)
	if maxOutput <= 0 {
		maxOutput = int32(cfg.Width * cfg.Height * 3 / 2)
	}

	return &vpxEncoder{handle: handle, outputBuf: make([]byte, maxOutput), maxOutputLen: int(maxOutput)}, nil
}

func (e *vpxEncoder) encode(planes []rawVideoPlane, width, height int, forceKeyframe bool, sarNum, sarDen int) (encodedVideo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(planes) < 3 {
		return encodedVideo{}, typeErrorf("libvpx backend requires 3 planes (Y, U, V), got %d", len(planes))
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

	result := mediaVPXEncoderEncode(
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
		return encodedVideo{}, encodingErrorf("vpx encode failed: %s", getVPXError())
	}

	out := make([]byte, result)
	copy(out, e.outputBuf[:result])
	return encodedVideo{Data: out, Keyframe: frameType == mediaVPXFrameKey}, nil
}

func (e *vpxEncoder) setBitrate(bitrateBps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if mediaVPXEncoderSetBitrate(e.handle, int32(bitrateBps/1000)) != mediaVPXOK {
		return encodingErrorf("failed to set bitrate: %s", getVPXError())
	}
	return nil
}

// extradata: VP8/VP9 bitstreams are self-describing; there is no
// out-of-band decoder description.
func (e *vpxEncoder) extradata() []byte { return nil }

func (e *vpxEncoder) requestKeyframe() {
	e.mu.Lock()
	defer e.mu.Unlock()
	mediaVPXEncoderRequestKF(e.handle)
}

func (e *vpxEncoder) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != 0 {
		mediaVPXEncoderDestroy(e.handle)
		e.handle = 0
	}
}

// vpxDecoder adapts libmedia_vpx's decoder primitives to videoDecoderBackend.
type vpxDecoder struct {
	handle       uint64
	decodeResult *mediaVPXDecodeResult
	mu           sync.Mutex
}

func newVPXDecoder(codec VideoCodec, cfg VideoDecoderConfig) (*vpxDecoder, error) {
	if err := loadMediaVPX(); err != nil {
		return nil, fmt.Errorf("%w: %s", errBackendUnavailable, err)
	}
	codecType, err := vpxCodecConst(codec)
	if err != nil {
		return nil, err
	}

	threads := int32(4)
	if cfg.Threads > 0 {
		threads = int32(cfg.Threads)
	}

	handle := mediaVPXDecoderCreate(codecType, threads)
	if handle == 0 {
		return nil, encodingErrorf("failed to create %s decoder: %s", codec, getVPXError())
	}
	return &vpxDecoder{handle: handle, decodeResult: &mediaVPXDecodeResult{}}, nil
}

func (d *vpxDecoder) decode(data []byte) (*decodedVideo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(data) == 0 {
		return nil, typeErrorf("empty encoded data")
	}

	out := d.decodeResult
	result := mediaVPXDecoderDecodeV2(d.handle, uintptr(unsafe.Pointer(&data[0])), int32(len(data)), uintptr(unsafe.Pointer(out)))
	runtime.KeepAlive(data)
	runtime.KeepAlive(out)

	if result < 0 {
		return nil, encodingErrorf("vpx decode failed: %s", getVPXError())
	}
	if result == 0 {
		return nil, nil // buffering, no frame yet
	}

	w, h := int(out.Width), int(out.Height)
	if w <= 0 || h <= 0 || out.YPtr == 0 || out.YStride <= 0 || out.UVStride <= 0 {
		return nil, encodingErrorf("invalid vpx decoder output: stride=%d/%d, size=%dx%d", out.YStride, out.UVStride, w, h)
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

// copyPlaneFromC tightly packs a w-by-h plane out of C memory laid out with
// the given row stride, so downstream Go code never holds a pointer into
// memory the native backend may reuse on its next call.
func copyPlaneFromC(base unsafe.Pointer, stride, w, h int) []byte {
	out := make([]byte, w*h)
	for row := 0; row < h; row++ {
		src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(base)+uintptr(row*stride))), w)
		copy(out[row*w:row*w+w], src)
	}
	return out
}

func (d *vpxDecoder) reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mediaVPXDecoderReset(d.handle) != mediaVPXOK {
		return encodingErrorf("failed to reset vpx decoder: %s", getVPXError())
	}
	return nil
}

func (d *vpxDecoder) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != 0 {
		mediaVPXDecoderDestroy(d.handle)
		d.handle = 0
	}
}

func init() {
	if err := loadMediaVPX(); err != nil {
		return
	}
	if mediaVPXCodecAvailable(mediaVPXCodecVP8) != 0 || mediaVPXCodecAvailable(mediaVPXCodecVP9) != 0 {
		setProviderAvailable(ProviderLibvpx)
	}
}
