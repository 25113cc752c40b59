package webcodecs

import (
	"errors"
	"sync"
	"sync/atomic"
)

// VideoDecoderConfig mirrors the WebCodecs VideoDecoderConfig dictionary,
// trimmed to the fields the backends in this package actually consume.
// ColorSpace is accepted for shape compatibility and ignored: the decoded
// planes are handed back untouched.
type VideoDecoderConfig struct {
	Codec               string // codec identifier string, e.g. "vp8", "vp09.00.10.08"
	CodedWidth          int
	CodedHeight         int
	DisplayAspectWidth  int
	DisplayAspectHeight int
	Description         []byte
	Threads             int
	OptimizeForLatency  bool
}

// DefaultVideoDecoderConfig returns a VideoDecoderConfig with reasonable
// defaults for the given codec identifier.
func DefaultVideoDecoderConfig(codec string) VideoDecoderConfig {
	return VideoDecoderConfig{Codec: codec, Threads: 4}
}

// VideoDecoderSupport is the result of IsVideoDecoderConfigSupported.
type VideoDecoderSupport struct {
	Supported bool
	Config    VideoDecoderConfig
}

// VideoDecoderInit carries the callbacks a VideoDecoder reports through.
type VideoDecoderInit struct {
	Output    func(frame *VideoFrame)
	Error     func(err error)
	OnDequeue func()
}

// VideoDecoder implements the WebCodecs VideoDecoder state machine, driving
// one of this package's native video backends underneath.
type VideoDecoder struct {
	mu         sync.Mutex
	state      codecState
	errorFired bool
	init       VideoDecoderInit
	queue      *controlMessageQueue
	queueSize  atomic.Int32

	codec   VideoCodec
	backend videoDecoderBackend
	cfg     VideoDecoderConfig

	// epoch advances on every configure/reset; queued work from an older
	// epoch drains its counters but delivers no output.
	epoch uint64
}

// NewVideoDecoder constructs a VideoDecoder in the "unconfigured" state.
func NewVideoDecoder(init VideoDecoderInit) (*VideoDecoder, error) {
	if init.Output == nil || init.Error == nil {
		return nil, typeErrorf("VideoDecoderInit requires both Output and Error callbacks")
	}
	d := &VideoDecoder{init: init}
	d.queue = newControlMessageQueue(d.internalClose)
	return d, nil
}

// State reports the decoder's current state.
func (d *VideoDecoder) State() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.String()
}

// DecodeQueueSize reports the number of decode requests not yet processed.
func (d *VideoDecoder) DecodeQueueSize() int { return int(d.queueSize.Load()) }

// IsVideoDecoderConfigSupported reports whether a configuration could be
// used to construct a working decoder, without allocating one.
func IsVideoDecoderConfigSupported(cfg VideoDecoderConfig) (VideoDecoderSupport, error) {
	codec, family, _, err := resolveVideoCodec(cfg.Codec)
	if err != nil {
		if errors.Is(err, ErrNotSupported) {
			return VideoDecoderSupport{Supported: false, Config: cfg}, nil
		}
		return VideoDecoderSupport{}, err
	}
	supported := environmentPrefersHostVideo(codec, cfg, false) || probeVideoSupport(family)
	return VideoDecoderSupport{Supported: supported, Config: cfg}, nil
}

// Configure transitions the decoder into the "configured" state and queues
// the backend init, releasing any previous backend first.
func (d *VideoDecoder) Configure(cfg VideoDecoderConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == codecStateClosed {
		return stateErrorf("VideoDecoder is closed")
	}

	codec, family, _, err := resolveVideoCodec(cfg.Codec)
	if err != nil {
		return err
	}

	d.codec = codec
	d.cfg = cfg
	d.state = codecStateConfigured
	d.epoch++

	return d.queue.enqueue(func() error {
		d.mu.Lock()
		old := d.backend
		d.backend = nil
		d.mu.Unlock()
		if old != nil {
			old.close()
		}

		backend, err := newVideoDecoderBackend(codec, family, cfg)
		if err != nil {
			return err
		}

		d.mu.Lock()
		if d.state != codecStateConfigured {
			d.mu.Unlock()
			backend.close()
			return nil
		}
		d.backend = backend
		d.mu.Unlock()
		return nil
	})
}

// Decode queues a chunk for decoding. Decoded frames are delivered through
// the Output callback.
func (d *VideoDecoder) Decode(chunk *EncodedVideoChunk) error {
	d.mu.Lock()
	if d.state != codecStateConfigured {
		d.mu.Unlock()
		return stateErrorf("VideoDecoder.Decode requires the configured state")
	}
	epoch := d.epoch
	d.mu.Unlock()

	d.queueSize.Add(1)
	err := d.queue.enqueue(func() error {
		defer d.dequeued()

		d.mu.Lock()
		backend := d.backend
		d.mu.Unlock()
		if backend == nil {
			return nil // reset freed the backend; drain without output
		}

		out, err := backend.decode(chunk.Bytes())
		if err != nil {
			return err
		}
		if out == nil {
			return nil // backend buffered the packet; no frame yet
		}

		frame, err := videoFrameFromDecoded(out, chunk.Timestamp(), chunk.Duration())
		if err != nil {
			return err
		}
		d.deliver(frame, epoch)
		return nil
	})
	if err != nil {
		d.queueSize.Add(-1)
	}
	return err
}

func (d *VideoDecoder) dequeued() {
	d.queueSize.Add(-1)
	if d.init.OnDequeue != nil {
		d.init.OnDequeue()
	}
}

func (d *VideoDecoder) deliver(frame *VideoFrame, epoch uint64) {
	d.mu.Lock()
	ok := d.state == codecStateConfigured && d.epoch == epoch
	d.mu.Unlock()
	if ok {
		d.init.Output(frame)
	}
}

// Flush blocks until all queued decodes have completed.
func (d *VideoDecoder) Flush() error {
	d.mu.Lock()
	if d.state != codecStateConfigured {
		d.mu.Unlock()
		return stateErrorf("VideoDecoder.Flush requires the configured state")
	}
	d.mu.Unlock()

	done := make(chan error, 1)
	if err := d.queue.enqueue(func() error {
		d.mu.Lock()
		closed := d.state == codecStateClosed
		d.mu.Unlock()
		if closed {
			done <- ErrAbort
		} else {
			done <- nil
		}
		return nil
	}); err != nil {
		return err
	}
	return <-done
}

// Reset abandons queued work and any buffered decode state, returning to
// the unconfigured state.
func (d *VideoDecoder) Reset() error {
	d.mu.Lock()
	if d.state == codecStateClosed {
		d.mu.Unlock()
		return stateErrorf("VideoDecoder is closed")
	}
	backend := d.backend
	d.backend = nil
	d.state = codecStateUnconfigured
	d.epoch++
	d.mu.Unlock()

	if backend != nil {
		return d.queue.enqueue(func() error {
			backend.close()
			return nil
		})
	}
	return nil
}

// Close releases the backend and transitions to the closed state. It is
// idempotent and fires no error callback.
func (d *VideoDecoder) Close() error {
	d.mu.Lock()
	if d.state == codecStateClosed {
		d.mu.Unlock()
		return nil
	}
	backend := d.backend
	d.backend = nil
	d.state = codecStateClosed
	d.mu.Unlock()

	if backend != nil {
		_ = d.queue.enqueue(func() error {
			backend.close()
			return nil
		})
	}
	d.queue.close()
	return nil
}

func (d *VideoDecoder) internalClose(cause error) {
	d.mu.Lock()
	if d.state == codecStateClosed {
		d.mu.Unlock()
		return
	}
	backend := d.backend
	d.backend = nil
	d.state = codecStateClosed
	fire := cause != nil && !errors.Is(cause, ErrAbort) && !d.errorFired
	if fire {
		d.errorFired = true
	}
	d.mu.Unlock()

	if backend != nil {
		backend.close()
	}
	if fire {
		d.init.Error(cause)
	}
	d.queue.close()
}

// videoFrameFromDecoded wraps a backend's decoded planes into a VideoFrame
// owning a tightly packed copy of the backend's output. The visible
// rectangle is derived from the crop insets the bitstream signaled (full
// coded grid when none), and the display size from the sample aspect ratio.
func videoFrameFromDecoded(out *decodedVideo, timestamp int64, duration *int64) (*VideoFrame, error) {
	total := 0
	layout := make([]PlaneLayout, len(out.Planes))
	for i, p := range out.Planes {
		layout[i] = PlaneLayout{Offset: total, Stride: p.Stride}
		total += len(p.Data)
	}
	data := make([]byte, total)
	for i, p := range out.Planes {
		copy(data[layout[i].Offset:], p.Data)
	}

	init := VideoFrameBufferInit{
		Format:      out.Format,
		CodedWidth:  out.Width,
		CodedHeight: out.Height,
		Timestamp:   timestamp,
		Duration:    duration,
		Layout:      layout,
		Transfer:    true,
	}

	visibleW, visibleH := out.Width, out.Height
	if visible, ok := visibleRectFromCrop(out); ok {
		init.VisibleRect = &visible
		visibleW, visibleH = visible.Width, visible.Height
	}

	// SAR.num > SAR.den means wide pixels: stretch the width; the converse
	// stretches the height. Square or unsignaled SAR keeps the visible size.
	if out.SARNum > 0 && out.SARDen > 0 && out.SARNum != out.SARDen {
		dw, dh := visibleW, visibleH
		if out.SARNum > out.SARDen {
			dw = visibleW * out.SARNum / out.SARDen
		} else {
			dh = visibleH * out.SARDen / out.SARNum
		}
		init.DisplayWidth = &dw
		init.DisplayHeight = &dh
	}

	return NewVideoFrame(data, init)
}

// visibleRectFromCrop turns the decoded frame's crop insets into a visible
// rectangle, widening the rect as needed so its origin stays aligned to the
// format's chroma grid. Reports false for unsignaled or degenerate crops.
func visibleRectFromCrop(out *decodedVideo) (Rect, bool) {
	if out.CropLeft <= 0 && out.CropTop <= 0 && out.CropRight <= 0 && out.CropBottom <= 0 {
		return Rect{}, false
	}
	visible := Rect{
		X:      out.CropLeft,
		Y:      out.CropTop,
		Width:  out.Width - out.CropLeft - out.CropRight,
		Height: out.Height - out.CropTop - out.CropBottom,
	}
	if visible.X < 0 || visible.Y < 0 || visible.Width <= 0 || visible.Height <= 0 {
		return Rect{}, false
	}
	for plane := 0; plane < out.Format.PlaneCount(); plane++ {
		hssf, vssf, err := out.Format.SubsamplingFactor(plane)
		if err != nil {
			return Rect{}, false
		}
		if dx := visible.X % hssf; dx != 0 {
			visible.X -= dx
			visible.Width += dx
		}
		if dy := visible.Y % vssf; dy != 0 {
			visible.Y -= dy
			visible.Height += dy
		}
	}
	return visible, true
}
