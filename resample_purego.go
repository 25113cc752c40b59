//go:build (darwin || linux) && !noresample && !cgo

// Sample-rate and channel-layout conversion via libmedia_resample using
// purego, grounded the same way the codec backends are: a thin dlopen'd C
// wrapper over a real resampling library (libswresample/libavresample),
// rather than a hand-rolled filter. Used by the audio encoder's resample
// filter whenever an AudioData's rate or channel count doesn't match the
// configured encoder.

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
	mediaResampleOnce    sync.Once
	mediaResampleHandle  uintptr
	mediaResampleInitErr error
	mediaResampleLoaded  bool
)

var (
	mediaResampleCreate   func(inRate, inChannels, outRate, outChannels int32) uint64
	mediaResampleConvert  func(resampler uint64, inPCM uintptr, inFrames int32, outPCM uintptr, outCapacityFrames int32) int32
	mediaResampleFlush    func(resampler uint64, outPCM uintptr, outCapacityFrames int32) int32
	mediaResampleDestroy  func(resampler uint64)
	mediaResampleGetError func() uintptr
)

func loadMediaResample() error {
	mediaResampleOnce.Do(func() {
		mediaResampleInitErr = loadMediaResampleLib()
		if mediaResampleInitErr == nil {
			mediaResampleLoaded = true
		}
	})
	return mediaResampleInitErr
}

func loadMediaResampleLib() error {
	paths := getMediaResampleLibPaths()

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			mediaResampleHandle = handle
			if err := loadMediaResampleSymbols(); err != nil {
				purego.Dlclose(handle)
				lastErr = err
				continue
			}
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to load libmedia_resample: %w", lastErr)
	}
	return errors.New("libmedia_resample not found in any standard location")
}

func getMediaResampleLibPaths() []string {
	var paths []string

	libName := "libmedia_resample.so"
	if runtime.GOOS == "darwin" {
		libName = "libmedia_resample.dylib"
	}

	if envPath := os.Getenv("MEDIA_RESAMPLE_LIB_PATH"); envPath != "" {
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
		paths = append(paths, "libmedia_resample.dylib", "/usr/local/lib/libmedia_resample.dylib", "/opt/homebrew/lib/libmedia_resample.dylib")
	case "linux":
		paths = append(paths, "libmedia_resample.so", "/usr/local/lib/libmedia_resample.so", "/usr/lib/libmedia_resample.so")
	}

	return paths
}

func loadMediaResampleSymbols() error {
	purego.RegisterLibFunc(&mediaResampleCreate, mediaResampleHandle, "media_resample_create")
	purego.RegisterLibFunc(&mediaResampleConvert, mediaResampleHandle, "media_resample_convert")
	purego.RegisterLibFunc(&mediaResampleFlush, mediaResampleHandle, "media_resample_flush")
	purego.RegisterLibFunc(&mediaResampleDestroy, mediaResampleHandle, "media_resample_destroy")
	purego.RegisterLibFunc(&mediaResampleGetError, mediaResampleHandle, "media_resample_get_error")
	return nil
}

func isResampleAvailable() bool {
	if err := loadMediaResample(); err != nil {
		return false
	}
	return mediaResampleLoaded
}

func getResampleError() string {
	ptr := mediaResampleGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// resampleFilter wraps one libmedia_resample instance, keyed by its
// (inRate, inChannels, outRate, outChannels) configuration: audio_encoder.go
// lazily constructs it and rebuilds it when the input parameters drift.
type resampleFilter struct {
	handle               uint64
	inRate, inChannels   int
	outRate, outChannels int
	mu                   sync.Mutex
}

func newResampleFilter(inRate, inChannels, outRate, outChannels int) (*resampleFilter, error) {
	if err := loadMediaResample(); err != nil {
		return nil, fmt.Errorf("%w: %s", errBackendUnavailable, err)
	}
	handle := mediaResampleCreate(int32(inRate), int32(inChannels), int32(outRate), int32(outChannels))
	if handle == 0 {
		return nil, encodingErrorf("failed to create resampler: %s", getResampleError())
	}
	return &resampleFilter{handle: handle, inRate: inRate, inChannels: inChannels, outRate: outRate, outChannels: outChannels}, nil
}

// matches reports whether this filter instance already has the requested
// configuration, so audio_encoder.go can reuse it instead of rebuilding.
func (r *resampleFilter) matches(inRate, inChannels, outRate, outChannels int) bool {
	return r.inRate == inRate && r.inChannels == inChannels && r.outRate == outRate && r.outChannels == outChannels
}

// convert resamples interleaved float32 PCM. The returned slice may be
// shorter than a naive rate-ratio estimate due to internal buffering; call
// flush() once at end-of-stream to drain what remains.
func (r *resampleFilter) convert(pcm []byte, inFrames int) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	outCapacityFrames := inFrames*r.outRate/r.inRate + 64
	out := make([]byte, outCapacityFrames*r.outChannels*4)

	var n int32
	if len(pcm) > 0 {
		n = mediaResampleConvert(r.handle, uintptr(unsafe.Pointer(&pcm[0])), int32(inFrames), uintptr(unsafe.Pointer(&out[0])), int32(outCapacityFrames))
		runtime.KeepAlive(pcm)
	}
	if n < 0 {
		return nil, encodingErrorf("resample failed: %s", getResampleError())
	}
	return out[:int(n)*r.outChannels*4], nil
}

func (r *resampleFilter) flush() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]byte, 4096*r.outChannels*4)
	n := mediaResampleFlush(r.handle, uintptr(unsafe.Pointer(&out[0])), 4096)
	if n < 0 {
		return nil, encodingErrorf("resample flush failed: %s", getResampleError())
	}
	return out[:int(n)*r.outChannels*4], nil
}

func (r *resampleFilter) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handle != 0 {
		mediaResampleDestroy(r.handle)
		r.handle = 0
	}
}
