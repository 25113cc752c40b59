package webcodecs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func s16Bytes(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func f32FromBytes(t *testing.T, b []byte) []float32 {
	t.Helper()
	if len(b)%4 != 0 {
		t.Fatalf("byte length %d not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func TestNewAudioDataValidation(t *testing.T) {
	valid := AudioDataInit{
		Format:           SampleFormatS16,
		SampleRate:       48000,
		NumberOfFrames:   4,
		NumberOfChannels: 2,
		Data:             make([]byte, 4*2*2),
	}

	if _, err := NewAudioData(valid); err != nil {
		t.Fatalf("valid init rejected: %v", err)
	}

	bad := valid
	bad.SampleRate = 0
	if _, err := NewAudioData(bad); !errors.Is(err, ErrType) {
		t.Errorf("zero sampleRate: got %v, want TypeError", err)
	}

	bad = valid
	bad.NumberOfFrames = 0
	if _, err := NewAudioData(bad); !errors.Is(err, ErrType) {
		t.Errorf("zero frames: got %v, want TypeError", err)
	}

	bad = valid
	bad.NumberOfChannels = 0
	if _, err := NewAudioData(bad); !errors.Is(err, ErrType) {
		t.Errorf("zero channels: got %v, want TypeError", err)
	}

	bad = valid
	bad.Data = make([]byte, 15) // one byte short of 4*2*2
	if _, err := NewAudioData(bad); !errors.Is(err, ErrType) {
		t.Errorf("short buffer: got %v, want TypeError", err)
	}
}

func TestAudioDataDuration(t *testing.T) {
	data, err := NewAudioData(AudioDataInit{
		Format:           SampleFormatF32,
		SampleRate:       48000,
		NumberOfFrames:   960,
		NumberOfChannels: 1,
		Data:             make([]byte, 960*4),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := data.Duration(); got != 20000 {
		t.Errorf("Duration = %dµs, want 20000", got)
	}
}

func TestAudioDataCopyToSameFormat(t *testing.T) {
	// 3 frames, 2 channels, interleaved s16: L0 R0 L1 R1 L2 R2
	src := s16Bytes(100, -100, 200, -200, 300, -300)
	data, err := NewAudioData(AudioDataInit{
		Format:           SampleFormatS16,
		SampleRate:       48000,
		NumberOfFrames:   3,
		NumberOfChannels: 2,
		Data:             src,
	})
	if err != nil {
		t.Fatal(err)
	}

	size, err := data.AllocationSize(AudioDataCopyToOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if size != len(src) {
		t.Fatalf("AllocationSize = %d, want %d", size, len(src))
	}

	dest := make([]byte, size)
	if err := data.CopyTo(dest, AudioDataCopyToOptions{}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dest, src) {
		t.Error("same-format copy is not byte-identical")
	}

	// Offset slice: frames 1..2 only.
	two := 2
	size, err = data.AllocationSize(AudioDataCopyToOptions{FrameOffset: 1, FrameCount: &two})
	if err != nil {
		t.Fatal(err)
	}
	if size != 2*2*2 {
		t.Fatalf("offset AllocationSize = %d, want 8", size)
	}
	dest = make([]byte, size)
	if err := data.CopyTo(dest, AudioDataCopyToOptions{FrameOffset: 1, FrameCount: &two}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dest, src[4:]) {
		t.Error("offset copy mismatch")
	}
}

func TestAudioDataCopyToF32Conversion(t *testing.T) {
	f32p := SampleFormatF32Planar

	// u8: (sample - 128) / 128
	u8, err := NewAudioData(AudioDataInit{
		Format:           SampleFormatU8,
		SampleRate:       48000,
		NumberOfFrames:   3,
		NumberOfChannels: 1,
		Data:             []byte{0, 128, 255},
	})
	if err != nil {
		t.Fatal(err)
	}
	dest := make([]byte, 3*4)
	if err := u8.CopyTo(dest, AudioDataCopyToOptions{Format: &f32p}); err != nil {
		t.Fatal(err)
	}
	got := f32FromBytes(t, dest)
	want := []float32{-1, 0, 127.0 / 128.0}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("u8 sample %d: got %v, want %v", i, got[i], want[i])
		}
	}

	// s16 interleaved stereo, extracting channel 1: sample / 32768
	s16, err := NewAudioData(AudioDataInit{
		Format:           SampleFormatS16,
		SampleRate:       48000,
		NumberOfFrames:   2,
		NumberOfChannels: 2,
		Data:             s16Bytes(0, 16384, 0, -32768),
	})
	if err != nil {
		t.Fatal(err)
	}
	dest = make([]byte, 2*4)
	if err := s16.CopyTo(dest, AudioDataCopyToOptions{PlaneIndex: 1, Format: &f32p}); err != nil {
		t.Fatal(err)
	}
	got = f32FromBytes(t, dest)
	want = []float32{0.5, -1}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("s16 ch1 sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestAudioDataCopyElementCountInvariants(t *testing.T) {
	data, err := NewAudioData(AudioDataInit{
		Format:           SampleFormatS16,
		SampleRate:       48000,
		NumberOfFrames:   10,
		NumberOfChannels: 2,
		Data:             make([]byte, 10*2*2),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Interleaved destination requires planeIndex 0.
	if _, err := data.AllocationSize(AudioDataCopyToOptions{PlaneIndex: 1}); !errors.Is(err, ErrRange) {
		t.Errorf("interleaved planeIndex 1: got %v, want RangeError", err)
	}

	// Planar destination: planeIndex must be < channels.
	f32p := SampleFormatF32Planar
	if _, err := data.AllocationSize(AudioDataCopyToOptions{PlaneIndex: 2, Format: &f32p}); !errors.Is(err, ErrRange) {
		t.Errorf("planar planeIndex 2 of 2ch: got %v, want RangeError", err)
	}

	// Only same-format and f32-planar conversions are legal.
	u8 := SampleFormatU8
	if _, err := data.AllocationSize(AudioDataCopyToOptions{Format: &u8}); !errors.Is(err, ErrNotSupported) {
		t.Errorf("s16->u8: got %v, want NotSupported", err)
	}

	// frameOffset must be < numberOfFrames.
	if _, err := data.AllocationSize(AudioDataCopyToOptions{FrameOffset: 10}); !errors.Is(err, ErrRange) {
		t.Errorf("frameOffset at end: got %v, want RangeError", err)
	}

	// An exact-fit frameCount is legal.
	count := 5
	size, err := data.AllocationSize(AudioDataCopyToOptions{FrameOffset: 5, FrameCount: &count})
	if err != nil {
		t.Fatalf("exact-fit frameCount rejected: %v", err)
	}
	if size != 5*2*2 {
		t.Errorf("exact-fit size = %d, want 20", size)
	}

	// One past the end is not.
	count = 6
	if _, err := data.AllocationSize(AudioDataCopyToOptions{FrameOffset: 5, FrameCount: &count}); !errors.Is(err, ErrRange) {
		t.Errorf("overlong frameCount: got %v, want RangeError", err)
	}

	// Destination too small.
	dest := make([]byte, 4)
	if err := data.CopyTo(dest, AudioDataCopyToOptions{}); !errors.Is(err, ErrRange) {
		t.Errorf("short destination: got %v, want RangeError", err)
	}
}

func TestAudioDataCloneAndClose(t *testing.T) {
	src := s16Bytes(1, 2, 3, 4)
	data, err := NewAudioData(AudioDataInit{
		Format:           SampleFormatS16,
		SampleRate:       44100,
		NumberOfFrames:   2,
		NumberOfChannels: 2,
		Timestamp:        12345,
		Data:             src,
	})
	if err != nil {
		t.Fatal(err)
	}

	clone, err := data.Clone()
	if err != nil {
		t.Fatal(err)
	}
	if clone.Format() != data.Format() ||
		clone.SampleRate() != data.SampleRate() ||
		clone.NumberOfFrames() != data.NumberOfFrames() ||
		clone.NumberOfChannels() != data.NumberOfChannels() ||
		clone.Timestamp() != data.Timestamp() {
		t.Error("clone attribute mismatch")
	}

	orig := make([]byte, 8)
	copied := make([]byte, 8)
	if err := data.CopyTo(orig, AudioDataCopyToOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := clone.CopyTo(copied, AudioDataCopyToOptions{}); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(orig, copied) {
		t.Error("clone bytes differ from source")
	}

	data.Close()
	if !data.Closed() {
		t.Error("Closed() false after Close")
	}
	if _, err := data.Clone(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Clone after Close: got %v, want InvalidState", err)
	}
	if err := data.CopyTo(orig, AudioDataCopyToOptions{}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("CopyTo after Close: got %v, want InvalidState", err)
	}

	// The clone is an independent owner and survives the source's Close.
	if err := clone.CopyTo(copied, AudioDataCopyToOptions{}); err != nil {
		t.Errorf("clone unusable after source Close: %v", err)
	}
}
