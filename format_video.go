package webcodecs

import "fmt"

// PixelFormat identifies the planar/packed layout of a VideoFrame's pixel
// buffer, matching the WebCodecs VideoPixelFormat enum.
type PixelFormat int

const (
	PixelFormatI420 PixelFormat = iota
	PixelFormatI420A
	PixelFormatI420P10
	PixelFormatI420AP10
	PixelFormatI420P12
	PixelFormatI420AP12
	PixelFormatI422
	PixelFormatI422A
	PixelFormatI422P10
	PixelFormatI422AP10
	PixelFormatI422P12
	PixelFormatI422AP12
	PixelFormatI444
	PixelFormatI444A
	PixelFormatI444P10
	PixelFormatI444AP10
	PixelFormatI444P12
	PixelFormatI444AP12
	PixelFormatNV12
	PixelFormatRGBA
	PixelFormatRGBX
	PixelFormatBGRA
	PixelFormatBGRX
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatI420:     "I420",
	PixelFormatI420A:    "I420A",
	PixelFormatI420P10:  "I420P10",
	PixelFormatI420AP10: "I420AP10",
	PixelFormatI420P12:  "I420P12",
	PixelFormatI420AP12: "I420AP12",
	PixelFormatI422:     "I422",
	PixelFormatI422A:    "I422A",
	PixelFormatI422P10:  "I422P10",
	PixelFormatI422AP10: "I422AP10",
	PixelFormatI422P12:  "I422P12",
	PixelFormatI422AP12: "I422AP12",
	PixelFormatI444:     "I444",
	PixelFormatI444A:    "I444A",
	PixelFormatI444P10:  "I444P10",
	PixelFormatI444AP10: "I444AP10",
	PixelFormatI444P12:  "I444P12",
	PixelFormatI444AP12: "I444AP12",
	PixelFormatNV12:     "NV12",
	PixelFormatRGBA:     "RGBA",
	PixelFormatRGBX:     "RGBX",
	PixelFormatBGRA:     "BGRA",
	PixelFormatBGRX:     "BGRX",
}

func (p PixelFormat) String() string {
	if s, ok := pixelFormatNames[p]; ok {
		return s
	}
	return "unknown"
}

// ParsePixelFormat maps a W3C VideoPixelFormat string to its variant.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for k, v := range pixelFormatNames {
		if v == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown pixel format %q", ErrNotSupported, s)
}

// hasAlpha reports whether the format carries a 4th (alpha) plane.
func (p PixelFormat) hasAlpha() bool {
	switch p {
	case PixelFormatI420A, PixelFormatI420AP10, PixelFormatI420AP12,
		PixelFormatI422A, PixelFormatI422AP10, PixelFormatI422AP12,
		PixelFormatI444A, PixelFormatI444AP10, PixelFormatI444AP12:
		return true
	default:
		return false
	}
}

// isPacked reports whether the format is a single-plane packed RGB family.
func (p PixelFormat) isPacked() bool {
	switch p {
	case PixelFormatRGBA, PixelFormatRGBX, PixelFormatBGRA, PixelFormatBGRX:
		return true
	default:
		return false
	}
}

// bitDepth returns 8, 10 or 12 for the YUV families (packed RGB is always 8).
func (p PixelFormat) bitDepth() int {
	switch p {
	case PixelFormatI420P10, PixelFormatI420AP10, PixelFormatI422P10, PixelFormatI422AP10, PixelFormatI444P10, PixelFormatI444AP10:
		return 10
	case PixelFormatI420P12, PixelFormatI420AP12, PixelFormatI422P12, PixelFormatI422AP12, PixelFormatI444P12, PixelFormatI444AP12:
		return 12
	default:
		return 8
	}
}

// chromaFamily classifies the 4:2:0 / 4:2:2 / 4:4:4 subsampling family. NV12
// belongs to the 4:2:0 family; packed RGB formats report chromaNone.
type chromaFamily int

const (
	chroma420 chromaFamily = iota
	chroma422
	chroma444
	chromaNone
)

func (p PixelFormat) family() chromaFamily {
	switch p {
	case PixelFormatI420, PixelFormatI420A, PixelFormatI420P10, PixelFormatI420AP10, PixelFormatI420P12, PixelFormatI420AP12, PixelFormatNV12:
		return chroma420
	case PixelFormatI422, PixelFormatI422A, PixelFormatI422P10, PixelFormatI422AP10, PixelFormatI422P12, PixelFormatI422AP12:
		return chroma422
	case PixelFormatI444, PixelFormatI444A, PixelFormatI444P10, PixelFormatI444AP10, PixelFormatI444P12, PixelFormatI444AP12:
		return chroma444
	default:
		return chromaNone
	}
}

// PlaneCount returns the number of planes for this pixel format: 1 for
// packed RGB, 2 for NV12, 3 for YUV without alpha, 4 for YUV with alpha.
func (p PixelFormat) PlaneCount() int {
	if p.isPacked() {
		return 1
	}
	if p == PixelFormatNV12 {
		return 2
	}
	if p.hasAlpha() {
		return 4
	}
	return 3
}

// BytesPerSample returns the per-element size of the given plane: 1 for
// 8-bit luma/chroma, 2 for 10/12-bit or NV12 chroma, 4 for packed RGB.
func (p PixelFormat) BytesPerSample(plane int) (int, error) {
	if plane < 0 || plane >= p.PlaneCount() {
		return 0, fmt.Errorf("%w: plane %d out of range for %s", ErrRange, plane, p)
	}
	if p.isPacked() {
		return 4, nil
	}
	if p == PixelFormatNV12 {
		if plane == 0 {
			return 1, nil
		}
		return 2, nil // interleaved UV plane, 2 bytes per (U,V) pair
	}
	if p.bitDepth() > 8 {
		return 2, nil
	}
	return 1, nil
}

// SubsamplingFactor returns the horizontal and vertical subsampling factor
// of the given plane relative to plane 0. Plane 0 and the alpha plane (3)
// are always 1x1.
func (p PixelFormat) SubsamplingFactor(plane int) (horiz, vert int, err error) {
	if plane < 0 || plane >= p.PlaneCount() {
		return 0, 0, fmt.Errorf("%w: plane %d out of range for %s", ErrRange, plane, p)
	}
	if p.isPacked() || plane == 0 || plane == 3 {
		return 1, 1, nil
	}
	switch p.family() {
	case chroma420:
		return 2, 2, nil
	case chroma422:
		return 2, 1, nil
	case chroma444:
		return 1, 1, nil
	default:
		return 1, 1, nil
	}
}

// Interleaved returns true for single-plane (packed RGB) or NV12's UV plane.
func (p PixelFormat) Interleaved() bool {
	return p.isPacked() || p == PixelFormatNV12
}
