package webcodecs

import (
	"errors"
	"testing"
)

func TestPixelFormatPlaneCount(t *testing.T) {
	tests := []struct {
		format PixelFormat
		planes int
	}{
		{PixelFormatI420, 3},
		{PixelFormatI420A, 4},
		{PixelFormatI420P10, 3},
		{PixelFormatI422, 3},
		{PixelFormatI422AP12, 4},
		{PixelFormatI444, 3},
		{PixelFormatI444A, 4},
		{PixelFormatNV12, 2},
		{PixelFormatRGBA, 1},
		{PixelFormatRGBX, 1},
		{PixelFormatBGRA, 1},
		{PixelFormatBGRX, 1},
	}
	for _, tt := range tests {
		if got := tt.format.PlaneCount(); got != tt.planes {
			t.Errorf("%s.PlaneCount() = %d, want %d", tt.format, got, tt.planes)
		}
	}
}

func TestPixelFormatBytesPerSample(t *testing.T) {
	tests := []struct {
		format PixelFormat
		plane  int
		bps    int
	}{
		{PixelFormatI420, 0, 1},
		{PixelFormatI420, 1, 1},
		{PixelFormatI420P10, 0, 2},
		{PixelFormatI420P12, 2, 2},
		{PixelFormatNV12, 0, 1},
		{PixelFormatNV12, 1, 2},
		{PixelFormatRGBA, 0, 4},
		{PixelFormatBGRX, 0, 4},
	}
	for _, tt := range tests {
		got, err := tt.format.BytesPerSample(tt.plane)
		if err != nil {
			t.Errorf("%s.BytesPerSample(%d) failed: %v", tt.format, tt.plane, err)
			continue
		}
		if got != tt.bps {
			t.Errorf("%s.BytesPerSample(%d) = %d, want %d", tt.format, tt.plane, got, tt.bps)
		}
	}

	if _, err := PixelFormatI420.BytesPerSample(3); !errors.Is(err, ErrRange) {
		t.Errorf("out-of-range plane should yield RangeError, got %v", err)
	}
}

func TestPixelFormatSubsampling(t *testing.T) {
	tests := []struct {
		format PixelFormat
		plane  int
		h, v   int
	}{
		{PixelFormatI420, 0, 1, 1},
		{PixelFormatI420, 1, 2, 2},
		{PixelFormatI420, 2, 2, 2},
		{PixelFormatI420A, 3, 1, 1}, // alpha plane never subsampled
		{PixelFormatI422, 1, 2, 1},
		{PixelFormatI444, 1, 1, 1},
		{PixelFormatNV12, 1, 2, 2},
		{PixelFormatRGBA, 0, 1, 1},
	}
	for _, tt := range tests {
		h, v, err := tt.format.SubsamplingFactor(tt.plane)
		if err != nil {
			t.Errorf("%s.SubsamplingFactor(%d) failed: %v", tt.format, tt.plane, err)
			continue
		}
		if h != tt.h || v != tt.v {
			t.Errorf("%s.SubsamplingFactor(%d) = (%d,%d), want (%d,%d)", tt.format, tt.plane, h, v, tt.h, tt.v)
		}
	}
}

func TestParsePixelFormat(t *testing.T) {
	for format, name := range pixelFormatNames {
		parsed, err := ParsePixelFormat(name)
		if err != nil {
			t.Errorf("ParsePixelFormat(%q) failed: %v", name, err)
		}
		if parsed != format {
			t.Errorf("ParsePixelFormat(%q) = %v, want %v", name, parsed, format)
		}
	}
	if _, err := ParsePixelFormat("YUY2"); !errors.Is(err, ErrNotSupported) {
		t.Errorf("ParsePixelFormat(YUY2) = %v, want NotSupported", err)
	}
}
