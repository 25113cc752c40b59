package webcodecs

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// The tests in this file drive the four codec state machines against fake
// backends installed through the constructor variables in backend.go, so
// queueing, ordering, metadata and error semantics are exercised without
// any native library present.

func stubAudioDecoderBackend(t *testing.T, f func(family backendFamily, cfg AudioDecoderConfig) (audioDecoderBackend, error)) {
	t.Helper()
	orig := newAudioDecoderBackend
	newAudioDecoderBackend = f
	t.Cleanup(func() { newAudioDecoderBackend = orig })
}

func stubAudioEncoderBackend(t *testing.T, f func(family backendFamily, cfg AudioEncoderConfig) (audioEncoderBackend, error)) {
	t.Helper()
	orig := newAudioEncoderBackend
	newAudioEncoderBackend = f
	t.Cleanup(func() { newAudioEncoderBackend = orig })
}

func stubVideoDecoderBackend(t *testing.T, f func(codec VideoCodec, family backendFamily, cfg VideoDecoderConfig) (videoDecoderBackend, error)) {
	t.Helper()
	orig := newVideoDecoderBackend
	newVideoDecoderBackend = f
	t.Cleanup(func() { newVideoDecoderBackend = orig })
}

func stubVideoEncoderBackend(t *testing.T, f func(codec VideoCodec, family backendFamily, cfg VideoEncoderConfig) (videoEncoderBackend, error)) {
	t.Helper()
	orig := newVideoEncoderBackend
	newVideoEncoderBackend = f
	t.Cleanup(func() { newVideoEncoderBackend = orig })
}

type fakeAudioDecoderBackend struct {
	mu      sync.Mutex
	gate    chan struct{} // when non-nil, decode blocks until closed
	fail    bool
	decodes int
	closed  bool
}

func (f *fakeAudioDecoderBackend) decode(data []byte) (*decodedAudio, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decodes++
	if f.fail {
		return nil, encodingErrorf("fake decode failure")
	}
	samples := make([]byte, 960*2*4)
	return &decodedAudio{
		Samples:          samples,
		Format:           SampleFormatF32,
		NumberOfFrames:   960,
		NumberOfChannels: 2,
	}, nil
}

func (f *fakeAudioDecoderBackend) close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func audioChunk(t *testing.T, ts int64) *EncodedAudioChunk {
	t.Helper()
	chunk, err := NewEncodedAudioChunk(EncodedAudioChunkInit{
		Type: ChunkTypeKey, Timestamp: ts, Data: []byte{1, 2, 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	return chunk
}

func TestAudioDecoderLifecycle(t *testing.T) {
	backend := &fakeAudioDecoderBackend{}
	stubAudioDecoderBackend(t, func(backendFamily, AudioDecoderConfig) (audioDecoderBackend, error) {
		return backend, nil
	})

	var outputs []*AudioData
	var dequeues atomic.Int32
	dec, err := NewAudioDecoder(AudioDecoderInit{
		Output:    func(d *AudioData) { outputs = append(outputs, d) },
		Error:     func(err error) { t.Errorf("unexpected error callback: %v", err) },
		OnDequeue: func() { dequeues.Add(1) },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	if dec.State() != "unconfigured" {
		t.Fatalf("initial state %q", dec.State())
	}

	if err := dec.Configure(DefaultAudioDecoderConfig("opus")); err != nil {
		t.Fatal(err)
	}
	if dec.State() != "configured" {
		t.Fatalf("state after configure %q", dec.State())
	}

	for i := 0; i < 3; i++ {
		if err := dec.Decode(audioChunk(t, int64(i)*20000)); err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
	}
	if err := dec.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if len(outputs) != 3 {
		t.Fatalf("got %d outputs, want 3", len(outputs))
	}
	for i, out := range outputs {
		if out.Timestamp() != int64(i)*20000 {
			t.Errorf("output %d timestamp %d, want %d", i, out.Timestamp(), int64(i)*20000)
		}
		if out.SampleRate() != 48000 || out.NumberOfChannels() != 2 || out.NumberOfFrames() != 960 {
			t.Errorf("output %d shape %v/%d/%d", i, out.SampleRate(), out.NumberOfChannels(), out.NumberOfFrames())
		}
	}
	if got := dec.DecodeQueueSize(); got != 0 {
		t.Errorf("DecodeQueueSize after flush = %d", got)
	}
	if got := dequeues.Load(); got != 3 {
		t.Errorf("dequeue events = %d, want 3", got)
	}
}

func TestAudioDecoderStateErrors(t *testing.T) {
	stubAudioDecoderBackend(t, func(backendFamily, AudioDecoderConfig) (audioDecoderBackend, error) {
		return &fakeAudioDecoderBackend{}, nil
	})

	dec, _ := NewAudioDecoder(AudioDecoderInit{
		Output: func(*AudioData) {},
		Error:  func(error) {},
	})

	// Decode and Flush require the configured state.
	if err := dec.Decode(audioChunk(t, 0)); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Decode unconfigured: %v", err)
	}
	if err := dec.Flush(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Flush unconfigured: %v", err)
	}

	// Unknown codec identifier is a TypeError and does not change state.
	if err := dec.Configure(AudioDecoderConfig{Codec: "speex", SampleRate: 48000, NumberOfChannels: 2}); !errors.Is(err, ErrType) {
		t.Errorf("unknown codec: %v", err)
	}
	if dec.State() != "unconfigured" {
		t.Errorf("state mutated by failed configure: %q", dec.State())
	}

	// Recognized-but-unsupported identifiers are NotSupported.
	if err := dec.Configure(AudioDecoderConfig{Codec: "mp3", SampleRate: 48000, NumberOfChannels: 2}); !errors.Is(err, ErrNotSupported) {
		t.Errorf("mp3: %v", err)
	}

	// Closed is terminal.
	if err := dec.Close(); err != nil {
		t.Fatal(err)
	}
	if dec.State() != "closed" {
		t.Fatalf("state after close %q", dec.State())
	}
	if err := dec.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if err := dec.Configure(DefaultAudioDecoderConfig("opus")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("configure after close: %v", err)
	}
	if err := dec.Reset(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("reset after close: %v", err)
	}
}

func TestAudioDecoderErrorClosesOnce(t *testing.T) {
	backend := &fakeAudioDecoderBackend{fail: true}
	stubAudioDecoderBackend(t, func(backendFamily, AudioDecoderConfig) (audioDecoderBackend, error) {
		return backend, nil
	})

	errCh := make(chan error, 8)
	var outputs atomic.Int32
	dec, _ := NewAudioDecoder(AudioDecoderInit{
		Output: func(*AudioData) { outputs.Add(1) },
		Error:  func(err error) { errCh <- err },
	})

	if err := dec.Configure(DefaultAudioDecoderConfig("opus")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		// Decode may start rejecting with InvalidState once the first
		// failure has closed the instance; both are acceptable.
		_ = dec.Decode(audioChunk(t, 0))
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrEncoding) {
			t.Errorf("error callback got %v, want EncodingError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error callback never fired")
	}

	dec.Close()
	dec.queue.wait()

	select {
	case err := <-errCh:
		t.Fatalf("error callback fired more than once: %v", err)
	default:
	}
	if outputs.Load() != 0 {
		t.Errorf("%d outputs delivered after backend failure", outputs.Load())
	}
	if dec.State() != "closed" {
		t.Errorf("state %q after error", dec.State())
	}
}

func TestAudioDecoderCloseDuringPendingWork(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeAudioDecoderBackend{gate: gate}
	stubAudioDecoderBackend(t, func(backendFamily, AudioDecoderConfig) (audioDecoderBackend, error) {
		return backend, nil
	})

	var outputs, errs, dequeues atomic.Int32
	dec, _ := NewAudioDecoder(AudioDecoderInit{
		Output:    func(*AudioData) { outputs.Add(1) },
		Error:     func(error) { errs.Add(1) },
		OnDequeue: func() { dequeues.Add(1) },
	})

	if err := dec.Configure(DefaultAudioDecoderConfig("opus")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if err := dec.Decode(audioChunk(t, int64(i))); err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
	}

	if err := dec.Close(); err != nil {
		t.Fatal(err)
	}
	if dec.State() != "closed" {
		t.Fatal("close is not synchronous")
	}
	close(gate)
	dec.queue.wait()

	if got := dec.DecodeQueueSize(); got != 0 {
		t.Errorf("queue size %d after drain", got)
	}
	if got := dequeues.Load(); got != 10 {
		t.Errorf("dequeue events = %d, want 10", got)
	}
	if outputs.Load() != 0 {
		t.Errorf("%d outputs fired after close", outputs.Load())
	}
	if errs.Load() != 0 {
		t.Errorf("%d error callbacks fired; close is abort-class", errs.Load())
	}
}

func TestAudioDecoderResetAbandonsOutput(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeAudioDecoderBackend{gate: gate}
	stubAudioDecoderBackend(t, func(backendFamily, AudioDecoderConfig) (audioDecoderBackend, error) {
		return backend, nil
	})

	var outputs atomic.Int32
	dec, _ := NewAudioDecoder(AudioDecoderInit{
		Output: func(*AudioData) { outputs.Add(1) },
		Error:  func(err error) { t.Errorf("unexpected error: %v", err) },
	})
	defer dec.Close()

	if err := dec.Configure(DefaultAudioDecoderConfig("opus")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := dec.Decode(audioChunk(t, int64(i))); err != nil {
			t.Fatal(err)
		}
	}

	if err := dec.Reset(); err != nil {
		t.Fatal(err)
	}
	if dec.State() != "unconfigured" {
		t.Fatalf("state after reset %q", dec.State())
	}
	close(gate)

	// Drain: reconfigure and flush through the same queue.
	if err := dec.Configure(DefaultAudioDecoderConfig("opus")); err != nil {
		t.Fatal(err)
	}
	if err := dec.Flush(); err != nil {
		t.Fatal(err)
	}

	if outputs.Load() != 0 {
		t.Errorf("%d outputs delivered from pre-reset work", outputs.Load())
	}
	backend.mu.Lock()
	closed := backend.closed
	backend.mu.Unlock()
	if !closed {
		t.Error("reset did not free the old backend")
	}
}

type fakeAudioEncoderBackend struct {
	mu      sync.Mutex
	encodes int
	closed  bool
	extra   []byte
}

func (f *fakeAudioEncoderBackend) encode(samples []byte, numberOfFrames int) (encodedAudio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.encodes++
	return encodedAudio{Data: []byte{byte(f.encodes), 0xAB}}, nil
}

func (f *fakeAudioEncoderBackend) setBitrate(int) error { return nil }
func (f *fakeAudioEncoderBackend) extradata() []byte    { return f.extra }
func (f *fakeAudioEncoderBackend) close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func f32AudioData(t *testing.T, rate, channels, frames int, ts int64) *AudioData {
	t.Helper()
	data, err := NewAudioData(AudioDataInit{
		Format:           SampleFormatF32,
		SampleRate:       float64(rate),
		NumberOfFrames:   frames,
		NumberOfChannels: channels,
		Timestamp:        ts,
		Data:             make([]byte, frames*channels*4),
	})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestAudioEncoderMetadataFirstChunkOnly(t *testing.T) {
	extra := []byte("streaminfo")
	stubAudioEncoderBackend(t, func(backendFamily, AudioEncoderConfig) (audioEncoderBackend, error) {
		return &fakeAudioEncoderBackend{extra: extra}, nil
	})

	type emission struct {
		chunk *EncodedAudioChunk
		meta  *EncodedAudioChunkMetadata
	}
	var emitted []emission
	enc, err := NewAudioEncoder(AudioEncoderInit{
		Output: func(c *EncodedAudioChunk, m *EncodedAudioChunkMetadata) {
			emitted = append(emitted, emission{c, m})
		},
		Error: func(err error) { t.Errorf("unexpected error: %v", err) },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()

	cfg := DefaultAudioEncoderConfig("flac")
	if err := enc.Configure(cfg); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := enc.Encode(f32AudioData(t, 48000, 2, 960, int64(i)*20000)); err != nil {
			t.Fatalf("encode %d: %v", i, err)
		}
	}
	if err := enc.Flush(); err != nil {
		t.Fatal(err)
	}

	if len(emitted) != 3 {
		t.Fatalf("got %d chunks, want 3", len(emitted))
	}
	first := emitted[0]
	if first.meta == nil || first.meta.DecoderConfig == nil {
		t.Fatal("first chunk missing decoder-config metadata")
	}
	dc := first.meta.DecoderConfig
	if dc.Codec != "flac" || dc.SampleRate != 48000 || dc.NumberOfChannels != 2 {
		t.Errorf("decoder config = %+v", dc)
	}
	if !bytes.Equal(dc.Description, extra) {
		t.Errorf("description = %q, want %q", dc.Description, extra)
	}
	for i, em := range emitted[1:] {
		if em.meta != nil {
			t.Errorf("chunk %d carries metadata; only the first should", i+1)
		}
	}

	// Reconfiguring starts a new epoch: metadata is sent again.
	emitted = nil
	if err := enc.Configure(cfg); err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode(f32AudioData(t, 48000, 2, 960, 0)); err != nil {
		t.Fatal(err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatal(err)
	}
	if len(emitted) != 1 || emitted[0].meta == nil {
		t.Fatal("reconfigure did not restart the metadata epoch")
	}
}

func TestAudioEncoderRejectsDetachedInput(t *testing.T) {
	stubAudioEncoderBackend(t, func(backendFamily, AudioEncoderConfig) (audioEncoderBackend, error) {
		return &fakeAudioEncoderBackend{}, nil
	})

	enc, _ := NewAudioEncoder(AudioEncoderInit{
		Output: func(*EncodedAudioChunk, *EncodedAudioChunkMetadata) {},
		Error:  func(error) {},
	})
	defer enc.Close()

	if err := enc.Configure(DefaultAudioEncoderConfig("opus")); err != nil {
		t.Fatal(err)
	}

	data := f32AudioData(t, 48000, 2, 960, 0)
	data.Close()
	if err := enc.Encode(data); !errors.Is(err, ErrType) {
		t.Errorf("encode of closed AudioData: got %v, want TypeError", err)
	}
	if got := enc.EncodeQueueSize(); got != 0 {
		t.Errorf("queue size changed by rejected encode: %d", got)
	}
}

func TestAudioEncoderConfigValidation(t *testing.T) {
	stubAudioEncoderBackend(t, func(backendFamily, AudioEncoderConfig) (audioEncoderBackend, error) {
		return &fakeAudioEncoderBackend{}, nil
	})

	enc, _ := NewAudioEncoder(AudioEncoderInit{
		Output: func(*EncodedAudioChunk, *EncodedAudioChunkMetadata) {},
		Error:  func(error) {},
	})
	defer enc.Close()

	cfg := DefaultAudioEncoderConfig("opus")
	cfg.Opus = &OpusEncoderConfig{FrameDuration: 12345}
	if err := enc.Configure(cfg); !errors.Is(err, ErrType) {
		t.Errorf("bad frameDuration: %v", err)
	}

	cfg.Opus = &OpusEncoderConfig{PacketLossPerc: 150}
	if err := enc.Configure(cfg); !errors.Is(err, ErrType) {
		t.Errorf("bad packetlossperc: %v", err)
	}

	cfg.Opus = &OpusEncoderConfig{Application: "broadcast"}
	if err := enc.Configure(cfg); !errors.Is(err, ErrType) {
		t.Errorf("bad application: %v", err)
	}

	cfg.Opus = &OpusEncoderConfig{FrameDuration: 20000, Application: "voip", UseInBandFEC: true}
	if err := enc.Configure(cfg); err != nil {
		t.Errorf("valid opus settings rejected: %v", err)
	}
}

type fakeVideoDecoderBackend struct {
	w, h                       int
	cropL, cropT, cropR, cropB int
	sarNum, sarDen             int
	closed                     bool
}

func (f *fakeVideoDecoderBackend) decode(data []byte) (*decodedVideo, error) {
	w, h := f.w, f.h
	uvW, uvH := (w+1)/2, (h+1)/2
	return &decodedVideo{
		Planes: []rawVideoPlane{
			{Data: make([]byte, w*h), Stride: w},
			{Data: make([]byte, uvW*uvH), Stride: uvW},
			{Data: make([]byte, uvW*uvH), Stride: uvW},
		},
		Format:     PixelFormatI420,
		Width:      w,
		Height:     h,
		CropLeft:   f.cropL,
		CropTop:    f.cropT,
		CropRight:  f.cropR,
		CropBottom: f.cropB,
		SARNum:     f.sarNum,
		SARDen:     f.sarDen,
	}, nil
}

func (f *fakeVideoDecoderBackend) reset() error { return nil }
func (f *fakeVideoDecoderBackend) close()       { f.closed = true }

func TestVideoDecoderLifecycle(t *testing.T) {
	stubVideoDecoderBackend(t, func(VideoCodec, backendFamily, VideoDecoderConfig) (videoDecoderBackend, error) {
		return &fakeVideoDecoderBackend{w: 320, h: 180}, nil
	})

	var frames []*VideoFrame
	dec, err := NewVideoDecoder(VideoDecoderInit{
		Output: func(f *VideoFrame) { frames = append(frames, f) },
		Error:  func(err error) { t.Errorf("unexpected error: %v", err) },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	if err := dec.Configure(DefaultVideoDecoderConfig("vp8")); err != nil {
		t.Fatal(err)
	}

	key, _ := NewEncodedVideoChunk(EncodedVideoChunkInit{Type: ChunkTypeKey, Timestamp: 0, Data: []byte{1}})
	delta, _ := NewEncodedVideoChunk(EncodedVideoChunkInit{Type: ChunkTypeDelta, Timestamp: 40000, Data: []byte{2}})
	if err := dec.Decode(key); err != nil {
		t.Fatal(err)
	}
	if err := dec.Decode(delta); err != nil {
		t.Fatal(err)
	}
	if err := dec.Flush(); err != nil {
		t.Fatal(err)
	}

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Timestamp() != 0 || frames[1].Timestamp() != 40000 {
		t.Errorf("timestamps %d,%d", frames[0].Timestamp(), frames[1].Timestamp())
	}
	if frames[0].CodedWidth() != 320 || frames[0].CodedHeight() != 180 {
		t.Errorf("geometry %dx%d", frames[0].CodedWidth(), frames[0].CodedHeight())
	}
	if frames[0].Format() != PixelFormatI420 {
		t.Errorf("format %s", frames[0].Format())
	}
}

func TestVideoDecoderCropAndAspectDerivation(t *testing.T) {
	stubVideoDecoderBackend(t, func(VideoCodec, backendFamily, VideoDecoderConfig) (videoDecoderBackend, error) {
		// 640x368 coded grid with 8 rows of bottom padding and 2:1 wide
		// pixels, the way a 1280x360-display stream is coded.
		return &fakeVideoDecoderBackend{
			w: 640, h: 368,
			cropB:  8,
			sarNum: 2, sarDen: 1,
		}, nil
	})

	var frames []*VideoFrame
	dec, _ := NewVideoDecoder(VideoDecoderInit{
		Output: func(f *VideoFrame) { frames = append(frames, f) },
		Error:  func(err error) { t.Errorf("unexpected error: %v", err) },
	})
	defer dec.Close()

	if err := dec.Configure(DefaultVideoDecoderConfig("vp8")); err != nil {
		t.Fatal(err)
	}
	chunk, _ := NewEncodedVideoChunk(EncodedVideoChunkInit{Type: ChunkTypeKey, Timestamp: 0, Data: []byte{1}})
	if err := dec.Decode(chunk); err != nil {
		t.Fatal(err)
	}
	if err := dec.Flush(); err != nil {
		t.Fatal(err)
	}

	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	frame := frames[0]
	if frame.CodedWidth() != 640 || frame.CodedHeight() != 368 {
		t.Errorf("coded = %dx%d", frame.CodedWidth(), frame.CodedHeight())
	}
	if got := frame.VisibleRect(); got != (Rect{X: 0, Y: 0, Width: 640, Height: 360}) {
		t.Errorf("visibleRect = %+v, want 640x360 at origin", got)
	}
	if frame.DisplayWidth() != 1280 || frame.DisplayHeight() != 360 {
		t.Errorf("display = %dx%d, want 1280x360", frame.DisplayWidth(), frame.DisplayHeight())
	}
	nonSquare, _, _ := frame.NonSquarePixels()
	if !nonSquare {
		t.Error("2:1 pixels should report non-square")
	}
}

func TestVisibleRectFromCropAlignment(t *testing.T) {
	// A 1-pixel left inset cannot be expressed on I420's 2x2 chroma grid;
	// the rect widens back to the aligned column.
	out := &decodedVideo{
		Format: PixelFormatI420, Width: 640, Height: 360,
		CropLeft: 1, CropTop: 2,
	}
	visible, ok := visibleRectFromCrop(out)
	if !ok {
		t.Fatal("crop not derived")
	}
	if visible != (Rect{X: 0, Y: 2, Width: 640, Height: 358}) {
		t.Errorf("visible = %+v", visible)
	}

	// No insets: full coded grid, nothing to derive.
	if _, ok := visibleRectFromCrop(&decodedVideo{Format: PixelFormatI420, Width: 640, Height: 360}); ok {
		t.Error("zero crop should not produce a rect")
	}

	// Degenerate crop consuming the whole width is rejected.
	if _, ok := visibleRectFromCrop(&decodedVideo{Format: PixelFormatI420, Width: 16, Height: 16, CropLeft: 8, CropRight: 8}); ok {
		t.Error("degenerate crop should be rejected")
	}
}

type fakeVideoEncoderBackend struct {
	mu      sync.Mutex
	widths  []int
	heights []int
	strides []int
	sarNums []int
	sarDens []int
	encodes int
	closed  bool
}

func (f *fakeVideoEncoderBackend) encode(planes []rawVideoPlane, width, height int, forceKeyframe bool, sarNum, sarDen int) (encodedVideo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.encodes++
	f.widths = append(f.widths, width)
	f.heights = append(f.heights, height)
	f.strides = append(f.strides, planes[0].Stride)
	f.sarNums = append(f.sarNums, sarNum)
	f.sarDens = append(f.sarDens, sarDen)
	return encodedVideo{Data: []byte{byte(f.encodes)}, Keyframe: forceKeyframe || f.encodes == 1}, nil
}

func (f *fakeVideoEncoderBackend) setBitrate(int) error { return nil }
func (f *fakeVideoEncoderBackend) requestKeyframe()     {}
func (f *fakeVideoEncoderBackend) extradata() []byte    { return nil }
func (f *fakeVideoEncoderBackend) close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func i420Frame(t *testing.T, w, h int, ts int64) *VideoFrame {
	t.Helper()
	frame, err := NewVideoFrame(i420Buffer(w, h), VideoFrameBufferInit{
		Format: PixelFormatI420, CodedWidth: w, CodedHeight: h, Timestamp: ts,
	})
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func TestVideoEncoderSampleAspectRatio(t *testing.T) {
	backend := &fakeVideoEncoderBackend{}
	stubVideoEncoderBackend(t, func(VideoCodec, backendFamily, VideoEncoderConfig) (videoEncoderBackend, error) {
		return backend, nil
	})

	var metas []*EncodedVideoChunkMetadata
	enc, _ := NewVideoEncoder(VideoEncoderInit{
		Output: func(c *EncodedVideoChunk, m *EncodedVideoChunkMetadata) { metas = append(metas, m) },
		Error:  func(err error) { t.Errorf("unexpected error: %v", err) },
	})
	defer enc.Close()

	cfg := DefaultVideoEncoderConfig("vp8", 640, 360)
	cfg.DisplayWidth = 1280
	cfg.DisplayHeight = 360
	if err := enc.Configure(cfg); err != nil {
		t.Fatal(err)
	}

	if err := enc.Encode(i420Frame(t, 640, 360, 0), VideoEncoderEncodeOptions{KeyFrame: true}); err != nil {
		t.Fatal(err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatal(err)
	}

	// The 1280x360-display/640x360-coded configuration is a 2:1 sample
	// aspect ratio; the backend must see it on the encode call itself.
	backend.mu.Lock()
	if len(backend.sarNums) != 1 || backend.sarNums[0] != 460800 || backend.sarDens[0] != 230400 {
		t.Errorf("backend saw sar %v:%v, want [460800]:[230400]", backend.sarNums, backend.sarDens)
	}
	backend.mu.Unlock()

	if len(metas) != 1 || metas[0] == nil || metas[0].DecoderConfig == nil {
		t.Fatal("first chunk missing metadata")
	}
	dc := metas[0].DecoderConfig
	if dc.DisplayAspectWidth != 1280 || dc.DisplayAspectHeight != 360 {
		t.Errorf("display aspect = %dx%d", dc.DisplayAspectWidth, dc.DisplayAspectHeight)
	}
	if dc.CodedWidth != 640 || dc.CodedHeight != 360 {
		t.Errorf("coded = %dx%d", dc.CodedWidth, dc.CodedHeight)
	}

	// displayWidth without displayHeight is malformed.
	bad := DefaultVideoEncoderConfig("vp8", 640, 360)
	bad.DisplayWidth = 1280
	if err := enc.Configure(bad); !errors.Is(err, ErrType) {
		t.Errorf("displayWidth alone: %v", err)
	}
}

func TestVideoEncoderRescalerLifecycle(t *testing.T) {
	backend := &fakeVideoEncoderBackend{}
	stubVideoEncoderBackend(t, func(VideoCodec, backendFamily, VideoEncoderConfig) (videoEncoderBackend, error) {
		return backend, nil
	})

	var chunks []*EncodedVideoChunk
	enc, _ := NewVideoEncoder(VideoEncoderInit{
		Output: func(c *EncodedVideoChunk, m *EncodedVideoChunkMetadata) { chunks = append(chunks, c) },
		Error:  func(err error) { t.Errorf("unexpected error: %v", err) },
	})
	defer enc.Close()

	if err := enc.Configure(DefaultVideoEncoderConfig("vp8", 640, 360)); err != nil {
		t.Fatal(err)
	}

	// Matching frame: no rescaler. Smaller frame: rescaler built. Matching
	// frame again: rescaler bypassed.
	for i, dims := range [][2]int{{640, 360}, {320, 180}, {640, 360}} {
		if err := enc.Encode(i420Frame(t, dims[0], dims[1], int64(i)*33333), VideoEncoderEncodeOptions{}); err != nil {
			t.Fatalf("encode %d: %v", i, err)
		}
	}
	if err := enc.Flush(); err != nil {
		t.Fatal(err)
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	for i, stride := range backend.strides {
		// Every batch the backend sees must already be at the configured
		// output geometry.
		if stride != 640 {
			t.Errorf("encode %d reached backend with stride %d", i, stride)
		}
		if backend.widths[i] != 640 || backend.heights[i] != 360 {
			t.Errorf("encode %d geometry %dx%d", i, backend.widths[i], backend.heights[i])
		}
	}
}

func TestVideoEncoderKeyFrameOption(t *testing.T) {
	backend := &fakeVideoEncoderBackend{}
	stubVideoEncoderBackend(t, func(VideoCodec, backendFamily, VideoEncoderConfig) (videoEncoderBackend, error) {
		return backend, nil
	})

	var chunks []*EncodedVideoChunk
	enc, _ := NewVideoEncoder(VideoEncoderInit{
		Output: func(c *EncodedVideoChunk, m *EncodedVideoChunkMetadata) { chunks = append(chunks, c) },
		Error:  func(err error) { t.Errorf("unexpected error: %v", err) },
	})
	defer enc.Close()

	if err := enc.Configure(DefaultVideoEncoderConfig("vp8", 64, 36)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		opts := VideoEncoderEncodeOptions{KeyFrame: i == 2}
		if err := enc.Encode(i420Frame(t, 64, 36, int64(i)), opts); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.Flush(); err != nil {
		t.Fatal(err)
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	wantTypes := []ChunkType{ChunkTypeKey, ChunkTypeDelta, ChunkTypeKey}
	for i, c := range chunks {
		if c.Type() != wantTypes[i] {
			t.Errorf("chunk %d type %v, want %v", i, c.Type(), wantTypes[i])
		}
	}
}

func TestVideoEncoderRejectsDetachedFrame(t *testing.T) {
	stubVideoEncoderBackend(t, func(VideoCodec, backendFamily, VideoEncoderConfig) (videoEncoderBackend, error) {
		return &fakeVideoEncoderBackend{}, nil
	})

	enc, _ := NewVideoEncoder(VideoEncoderInit{
		Output: func(*EncodedVideoChunk, *EncodedVideoChunkMetadata) {},
		Error:  func(error) {},
	})
	defer enc.Close()

	if err := enc.Configure(DefaultVideoEncoderConfig("vp8", 64, 36)); err != nil {
		t.Fatal(err)
	}

	frame := i420Frame(t, 64, 36, 0)
	frame.Close()
	if err := enc.Encode(frame, VideoEncoderEncodeOptions{}); !errors.Is(err, ErrType) {
		t.Errorf("encode of closed frame: got %v, want TypeError", err)
	}
	if got := enc.EncodeQueueSize(); got != 0 {
		t.Errorf("queue size changed by rejected encode: %d", got)
	}
}

func TestIsConfigSupportedClassification(t *testing.T) {
	origAudio := probeAudioSupport
	origVideo := probeVideoSupport
	probeAudioSupport = func(backendFamily) bool { return true }
	probeVideoSupport = func(backendFamily) bool { return true }
	t.Cleanup(func() {
		probeAudioSupport = origAudio
		probeVideoSupport = origVideo
	})

	if _, err := IsAudioDecoderConfigSupported(AudioDecoderConfig{Codec: "speex"}); !errors.Is(err, ErrType) {
		t.Errorf("unknown audio codec: %v", err)
	}
	sup, err := IsAudioDecoderConfigSupported(AudioDecoderConfig{Codec: "mp3"})
	if err != nil || sup.Supported {
		t.Errorf("mp3: supported=%v err=%v, want unsupported without error", sup.Supported, err)
	}

	sup, err = IsAudioDecoderConfigSupported(AudioDecoderConfig{Codec: "opus"})
	if err != nil || !sup.Supported {
		t.Fatalf("opus: supported=%v err=%v", sup.Supported, err)
	}
	// The echoed configuration is normalized.
	if sup.Config.SampleRate != 48000 || sup.Config.NumberOfChannels != 2 {
		t.Errorf("normalized config = %+v", sup.Config)
	}

	if _, err := IsVideoEncoderConfigSupported(VideoEncoderConfig{Codec: "vp8"}); !errors.Is(err, ErrType) {
		t.Errorf("zero geometry: %v", err)
	}
	vsup, err := IsVideoEncoderConfigSupported(DefaultVideoEncoderConfig("vp8", 640, 360))
	if err != nil || !vsup.Supported {
		t.Errorf("vp8 encode: supported=%v err=%v", vsup.Supported, err)
	}
	vdsup, err := IsVideoDecoderConfigSupported(VideoDecoderConfig{Codec: "hev1"})
	if err != nil || vdsup.Supported {
		t.Errorf("hev1: supported=%v err=%v, want unsupported without error", vdsup.Supported, err)
	}

	probeVideoSupport = func(backendFamily) bool { return false }
	vsup, err = IsVideoEncoderConfigSupported(DefaultVideoEncoderConfig("vp09.00.10.08", 640, 360))
	if err != nil || vsup.Supported {
		t.Errorf("probe=false: supported=%v err=%v", vsup.Supported, err)
	}
}

func TestConfigureFailureClosesWithNotSupported(t *testing.T) {
	stubAudioDecoderBackend(t, func(backendFamily, AudioDecoderConfig) (audioDecoderBackend, error) {
		return nil, fmt.Errorf("%w: stub init failure", ErrNotSupported)
	})

	errCh := make(chan error, 1)
	dec, _ := NewAudioDecoder(AudioDecoderInit{
		Output: func(*AudioData) {},
		Error:  func(err error) { errCh <- err },
	})

	if err := dec.Configure(DefaultAudioDecoderConfig("opus")); err != nil {
		t.Fatalf("synchronous configure failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrNotSupported) {
			t.Errorf("error callback got %v, want NotSupported", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error callback never fired")
	}
	if dec.State() != "closed" {
		t.Errorf("state %q after failed init", dec.State())
	}
}
