package webcodecs

import (
	"errors"
	"sync"
	"sync/atomic"
)

// VideoEncoderConfig mirrors the WebCodecs VideoEncoderConfig dictionary.
// DisplayWidth/DisplayHeight, when they differ from the coded size, declare
// non-square pixels; the resulting sample aspect ratio is recorded and
// carried in the output metadata.
type VideoEncoderConfig struct {
	Codec         string // codec identifier string, e.g. "vp8", "av01.0.04M.08"
	Width         int
	Height        int
	DisplayWidth  int
	DisplayHeight int
	Bitrate       int // bits per second
	Framerate     int
	Threads       int
	Latency       EncoderLatencyMode
}

// EncoderLatencyMode mirrors WebCodecs' LatencyMode: Quality favors
// compression efficiency, Realtime favors low encode latency.
type EncoderLatencyMode int

const (
	LatencyModeQuality EncoderLatencyMode = iota
	LatencyModeRealtime
)

// DefaultVideoEncoderConfig returns a VideoEncoderConfig with reasonable
// defaults for the given codec identifier and geometry.
func DefaultVideoEncoderConfig(codec string, width, height int) VideoEncoderConfig {
	return VideoEncoderConfig{
		Codec:     codec,
		Width:     width,
		Height:    height,
		Bitrate:   1_000_000,
		Framerate: 30,
		Threads:   4,
		Latency:   LatencyModeRealtime,
	}
}

// VideoEncoderSupport is the result of IsVideoEncoderConfigSupported.
type VideoEncoderSupport struct {
	Supported bool
	Config    VideoEncoderConfig
}

// VideoEncoderInit carries the callbacks a VideoEncoder reports through.
// Output receives a non-nil metadata argument only on the first chunk of
// each configuration epoch.
type VideoEncoderInit struct {
	Output    func(chunk *EncodedVideoChunk, metadata *EncodedVideoChunkMetadata)
	Error     func(err error)
	OnDequeue func()
}

// VideoEncoderEncodeOptions mirrors VideoEncoderEncodeOptions.
type VideoEncoderEncodeOptions struct {
	KeyFrame bool
}

// VideoEncoder implements the WebCodecs VideoEncoder state machine, driving
// a native video backend and, when a frame's geometry doesn't match the
// configured output size, the rescale filter first.
type VideoEncoder struct {
	mu         sync.Mutex
	state      codecState
	errorFired bool
	init       VideoEncoderInit
	queue      *controlMessageQueue
	queueSize  atomic.Int32

	codec        VideoCodec
	backend      videoEncoderBackend
	cfg          VideoEncoderConfig
	rescaler     *rescaleFilter
	metadataSent bool

	// epoch advances on every configure/reset; queued work from an older
	// epoch drains its counters but delivers no output.
	epoch uint64

	// Sample aspect ratio derived at configure time from the display vs
	// coded geometry; (1,1) for square pixels.
	sarNum, sarDen int
}

// NewVideoEncoder constructs a VideoEncoder in the "unconfigured" state.
func NewVideoEncoder(init VideoEncoderInit) (*VideoEncoder, error) {
	if init.Output == nil || init.Error == nil {
		return nil, typeErrorf("VideoEncoderInit requires both Output and Error callbacks")
	}
	e := &VideoEncoder{init: init}
	e.queue = newControlMessageQueue(e.internalClose)
	return e, nil
}

// State reports the encoder's current state.
func (e *VideoEncoder) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.String()
}

// EncodeQueueSize reports the number of encode requests not yet processed.
func (e *VideoEncoder) EncodeQueueSize() int { return int(e.queueSize.Load()) }

// IsVideoEncoderConfigSupported reports whether a configuration could be
// used to construct a working encoder, without allocating one.
func IsVideoEncoderConfigSupported(cfg VideoEncoderConfig) (VideoEncoderSupport, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return VideoEncoderSupport{}, typeErrorf("width/height must be > 0, got %dx%d", cfg.Width, cfg.Height)
	}
	codec, family, _, err := resolveVideoCodec(cfg.Codec)
	if err != nil {
		if errors.Is(err, ErrNotSupported) {
			return VideoEncoderSupport{Supported: false, Config: cfg}, nil
		}
		return VideoEncoderSupport{}, err
	}
	decoderShape := VideoDecoderConfig{Codec: cfg.Codec, CodedWidth: cfg.Width, CodedHeight: cfg.Height}
	supported := environmentPrefersHostVideo(codec, decoderShape, true) || probeVideoSupport(family)
	return VideoEncoderSupport{Supported: supported, Config: cfg}, nil
}

// Configure transitions the encoder into the "configured" state, records
// the output geometry and sample aspect ratio, and queues the backend init.
func (e *VideoEncoder) Configure(cfg VideoEncoderConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == codecStateClosed {
		return stateErrorf("VideoEncoder is closed")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return typeErrorf("width/height must be > 0, got %dx%d", cfg.Width, cfg.Height)
	}
	if (cfg.DisplayWidth == 0) != (cfg.DisplayHeight == 0) {
		return typeErrorf("displayWidth and displayHeight must be specified together")
	}
	if cfg.DisplayWidth < 0 || cfg.DisplayHeight < 0 {
		return typeErrorf("displayWidth/displayHeight must be > 0")
	}

	codec, family, _, err := resolveVideoCodec(cfg.Codec)
	if err != nil {
		return err
	}

	e.codec = codec
	e.cfg = cfg
	e.state = codecStateConfigured
	e.metadataSent = false
	e.epoch++
	e.sarNum, e.sarDen = 1, 1
	if cfg.DisplayWidth > 0 && (cfg.DisplayWidth != cfg.Width || cfg.DisplayHeight != cfg.Height) {
		e.sarNum = cfg.DisplayWidth * cfg.Height
		e.sarDen = cfg.DisplayHeight * cfg.Width
	}

	return e.queue.enqueue(func() error {
		e.mu.Lock()
		old := e.backend
		e.backend = nil
		e.rescaler = nil
		e.mu.Unlock()
		if old != nil {
			old.close()
		}

		backend, err := newVideoEncoderBackend(codec, family, cfg)
		if err != nil {
			return err
		}

		e.mu.Lock()
		if e.state != codecStateConfigured {
			e.mu.Unlock()
			backend.close()
			return nil
		}
		e.backend = backend
		e.mu.Unlock()
		return nil
	})
}

// Encode queues a frame for encoding. The frame is cloned on entry, so
// VideoFrame.Close() is safe to call as soon as Encode returns.
func (e *VideoEncoder) Encode(frame *VideoFrame, opts VideoEncoderEncodeOptions) error {
	e.mu.Lock()
	if e.state != codecStateConfigured {
		e.mu.Unlock()
		return stateErrorf("VideoEncoder.Encode requires the configured state")
	}
	epoch := e.epoch
	e.mu.Unlock()

	if frame.Closed() {
		return typeErrorf("cannot encode a closed VideoFrame")
	}

	clone, err := frame.Clone()
	if err != nil {
		return err
	}

	timestamp := frame.Timestamp()
	var duration *int64
	if frame.Duration() != nil {
		d := *frame.Duration()
		duration = &d
	}

	e.queueSize.Add(1)
	qerr := e.queue.enqueue(func() error {
		defer clone.Close()
		defer e.dequeued()

		e.mu.Lock()
		backend := e.backend
		cfg := e.cfg
		sarNum, sarDen := e.sarNum, e.sarDen
		e.mu.Unlock()
		if backend == nil {
			return nil // reset freed the backend; drain without output
		}

		planes, err := clone.rawVideoPlanes()
		if err != nil {
			return err
		}

		// Rescale only when the input geometry drifts from the configured
		// output; a matching frame bypasses the filter entirely.
		srcW, srcH := clone.CodedWidth(), clone.CodedHeight()
		if srcW != cfg.Width || srcH != cfg.Height {
			planes = e.rescalerFor(srcW, srcH, cfg).scale(planes)
		}

		out, err := backend.encode(planes, cfg.Width, cfg.Height, opts.KeyFrame, sarNum, sarDen)
		if err != nil {
			return err
		}
		if len(out.Data) == 0 {
			return nil
		}

		chunkType := ChunkTypeDelta
		if out.Keyframe {
			chunkType = ChunkTypeKey
		}
		chunk, err := NewEncodedVideoChunk(EncodedVideoChunkInit{
			Type:      chunkType,
			Timestamp: timestamp,
			Duration:  duration,
			Data:      out.Data,
			Transfer:  true,
		})
		if err != nil {
			return err
		}
		e.emit(chunk, backend, cfg, epoch)
		return nil
	})
	if qerr != nil {
		e.queueSize.Add(-1)
	}
	return qerr
}

// rescalerFor returns the rescale filter keyed to the source geometry,
// rebuilding it when the input drifts.
func (e *VideoEncoder) rescalerFor(srcW, srcH int, cfg VideoEncoderConfig) *rescaleFilter {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rescaler == nil || !e.rescaler.matches(srcW, srcH, cfg.Width, cfg.Height) {
		e.rescaler = newRescaleFilter(srcW, srcH, cfg.Width, cfg.Height, ScaleModeStretch)
	}
	return e.rescaler
}

// emit delivers a chunk, attaching the decoder-config metadata if this is
// the first output of the configuration epoch.
func (e *VideoEncoder) emit(chunk *EncodedVideoChunk, backend videoEncoderBackend, cfg VideoEncoderConfig, epoch uint64) {
	e.mu.Lock()
	ok := e.state == codecStateConfigured && e.epoch == epoch
	var metadata *EncodedVideoChunkMetadata
	if ok && !e.metadataSent {
		e.metadataSent = true
		metadata = &EncodedVideoChunkMetadata{
			DecoderConfig: &VideoDecoderConfig{
				Codec:               cfg.Codec,
				CodedWidth:          cfg.Width,
				CodedHeight:         cfg.Height,
				DisplayAspectWidth:  cfg.DisplayWidth,
				DisplayAspectHeight: cfg.DisplayHeight,
				Description:         backend.extradata(),
			},
		}
	}
	e.mu.Unlock()
	if ok {
		e.init.Output(chunk, metadata)
	}
}

func (e *VideoEncoder) dequeued() {
	e.queueSize.Add(-1)
	if e.init.OnDequeue != nil {
		e.init.OnDequeue()
	}
}

// Flush blocks until all queued encodes have completed.
func (e *VideoEncoder) Flush() error {
	e.mu.Lock()
	if e.state != codecStateConfigured {
		e.mu.Unlock()
		return stateErrorf("VideoEncoder.Flush requires the configured state")
	}
	e.mu.Unlock()

	done := make(chan error, 1)
	if err := e.queue.enqueue(func() error {
		e.mu.Lock()
		closed := e.state == codecStateClosed
		e.mu.Unlock()
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

// Reset abandons queued work, returning to the unconfigured state.
func (e *VideoEncoder) Reset() error {
	e.mu.Lock()
	if e.state == codecStateClosed {
		e.mu.Unlock()
		return stateErrorf("VideoEncoder is closed")
	}
	backend := e.backend
	e.backend = nil
	e.rescaler = nil
	e.state = codecStateUnconfigured
	e.epoch++
	e.mu.Unlock()

	if backend != nil {
		return e.queue.enqueue(func() error {
			backend.close()
			return nil
		})
	}
	return nil
}

// Close releases the backend and transitions to the closed state. It is
// idempotent and fires no error callback.
func (e *VideoEncoder) Close() error {
	e.mu.Lock()
	if e.state == codecStateClosed {
		e.mu.Unlock()
		return nil
	}
	backend := e.backend
	e.backend = nil
	e.rescaler = nil
	e.state = codecStateClosed
	e.mu.Unlock()

	if backend != nil {
		_ = e.queue.enqueue(func() error {
			backend.close()
			return nil
		})
	}
	e.queue.close()
	return nil
}

func (e *VideoEncoder) internalClose(cause error) {
	e.mu.Lock()
	if e.state == codecStateClosed {
		e.mu.Unlock()
		return
	}
	backend := e.backend
	e.backend = nil
	e.rescaler = nil
	e.state = codecStateClosed
	fire := cause != nil && !errors.Is(cause, ErrAbort) && !e.errorFired
	if fire {
		e.errorFired = true
	}
	e.mu.Unlock()

	if backend != nil {
		backend.close()
	}
	if fire {
		e.init.Error(cause)
	}
	e.queue.close()
}
