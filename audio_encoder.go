package webcodecs

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"
)

// OpusEncoderConfig mirrors the opus-specific member of the WebCodecs
// AudioEncoderConfig. The wrapper library only exposes the application
// tuning and bitrate; the remaining knobs are validated and recorded so a
// configuration round-trips, but do not change the encoded stream.
type OpusEncoderConfig struct {
	Application    string // "voip", "audio" (default) or "lowdelay"
	FrameDuration  int64  // microseconds; one of 2500, 5000, 10000, 20000, 40000, 60000
	Complexity     int    // 0..10
	PacketLossPerc int    // 0..100
	UseInBandFEC   bool
	UseDTX         bool
}

// FLACEncoderConfig mirrors the flac-specific member of AudioEncoderConfig.
type FLACEncoderConfig struct {
	BlockSize     int
	CompressLevel int // 0..8, default 5
}

// AudioEncoderConfig mirrors the WebCodecs AudioEncoderConfig dictionary.
type AudioEncoderConfig struct {
	Codec            string // codec identifier string, e.g. "opus", "vorbis", "flac"
	SampleRate       int
	NumberOfChannels int
	Bitrate          int // bits per second; ignored by lossless codecs
	Opus             *OpusEncoderConfig
	FLAC             *FLACEncoderConfig
}

// DefaultAudioEncoderConfig returns an AudioEncoderConfig with reasonable
// defaults for the given codec identifier.
func DefaultAudioEncoderConfig(codec string) AudioEncoderConfig {
	return AudioEncoderConfig{Codec: codec, SampleRate: 48000, NumberOfChannels: 2, Bitrate: 64000}
}

// AudioEncoderSupport is the result of IsAudioEncoderConfigSupported.
type AudioEncoderSupport struct {
	Supported bool
	Config    AudioEncoderConfig
}

// AudioEncoderInit carries the callbacks an AudioEncoder reports through.
// Output receives a non-nil metadata argument only on the first chunk of
// each configuration epoch.
type AudioEncoderInit struct {
	Output    func(chunk *EncodedAudioChunk, metadata *EncodedAudioChunkMetadata)
	Error     func(err error)
	OnDequeue func()
}

// AudioEncoder implements the WebCodecs AudioEncoder state machine, driving
// a native audio backend and, when the source's sample rate or channel
// count doesn't match the configured one, the resample filter first.
type AudioEncoder struct {
	mu         sync.Mutex
	state      codecState
	errorFired bool
	init       AudioEncoderInit
	queue      *controlMessageQueue
	queueSize  atomic.Int32

	codec         AudioCodec
	family        backendFamily
	backend       audioEncoderBackend
	cfg           AudioEncoderConfig
	resample      *resampleFilter
	metadataSent  bool
	tailTimestamp int64 // where a flush-drained residue belongs on the timeline

	// epoch advances on every configure/reset; queued work from an older
	// epoch drains its counters but delivers no output.
	epoch uint64
}

// NewAudioEncoder constructs an AudioEncoder in the "unconfigured" state.
func NewAudioEncoder(init AudioEncoderInit) (*AudioEncoder, error) {
	if init.Output == nil || init.Error == nil {
		return nil, typeErrorf("AudioEncoderInit requires both Output and Error callbacks")
	}
	e := &AudioEncoder{init: init}
	e.queue = newControlMessageQueue(e.internalClose)
	return e, nil
}

// State reports the encoder's current state.
func (e *AudioEncoder) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.String()
}

// EncodeQueueSize reports the number of encode requests not yet processed.
func (e *AudioEncoder) EncodeQueueSize() int { return int(e.queueSize.Load()) }

// IsAudioEncoderConfigSupported reports whether a configuration could be
// used to construct a working encoder, without allocating one.
func IsAudioEncoderConfigSupported(cfg AudioEncoderConfig) (AudioEncoderSupport, error) {
	if cfg.SampleRate <= 0 || cfg.NumberOfChannels <= 0 {
		return AudioEncoderSupport{}, typeErrorf("sampleRate/numberOfChannels must be > 0, got %d/%d", cfg.SampleRate, cfg.NumberOfChannels)
	}
	if err := validateOpusConfig(cfg.Opus); err != nil {
		return AudioEncoderSupport{}, err
	}
	codec, family, _, err := resolveAudioCodec(cfg.Codec)
	if err != nil {
		if errors.Is(err, ErrNotSupported) {
			return AudioEncoderSupport{Supported: false, Config: cfg}, nil
		}
		return AudioEncoderSupport{}, err
	}
	decoderShape := AudioDecoderConfig{Codec: cfg.Codec, SampleRate: cfg.SampleRate, NumberOfChannels: cfg.NumberOfChannels}
	supported := environmentPrefersHostAudio(codec, decoderShape, true) || probeAudioSupport(family)
	return AudioEncoderSupport{Supported: supported, Config: cfg}, nil
}

func validateOpusConfig(opus *OpusEncoderConfig) error {
	if opus == nil {
		return nil
	}
	switch opus.FrameDuration {
	case 0, 2500, 5000, 10000, 20000, 40000, 60000:
	default:
		return typeErrorf("opus frameDuration %dµs is not a legal Opus frame size", opus.FrameDuration)
	}
	if opus.PacketLossPerc < 0 || opus.PacketLossPerc > 100 {
		return typeErrorf("opus packetlossperc %d out of range [0,100]", opus.PacketLossPerc)
	}
	if opus.Complexity < 0 || opus.Complexity > 10 {
		return typeErrorf("opus complexity %d out of range [0,10]", opus.Complexity)
	}
	switch opus.Application {
	case "", "voip", "audio", "lowdelay":
	default:
		return typeErrorf("opus application %q unknown", opus.Application)
	}
	return nil
}

// Configure transitions the encoder into the "configured" state and queues
// the backend init. The first chunk emitted after a successful configure
// carries a fresh decoder-config metadata record.
func (e *AudioEncoder) Configure(cfg AudioEncoderConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == codecStateClosed {
		return stateErrorf("AudioEncoder is closed")
	}
	if cfg.SampleRate <= 0 || cfg.NumberOfChannels <= 0 {
		return typeErrorf("sampleRate/numberOfChannels must be > 0, got %d/%d", cfg.SampleRate, cfg.NumberOfChannels)
	}
	if err := validateOpusConfig(cfg.Opus); err != nil {
		return err
	}

	codec, family, _, err := resolveAudioCodec(cfg.Codec)
	if err != nil {
		return err
	}

	e.codec = codec
	e.family = family
	e.cfg = cfg
	e.state = codecStateConfigured
	e.metadataSent = false
	e.tailTimestamp = 0
	e.epoch++

	return e.queue.enqueue(func() error {
		e.mu.Lock()
		oldBackend := e.backend
		oldResample := e.resample
		e.backend = nil
		e.resample = nil
		e.mu.Unlock()
		if oldBackend != nil {
			oldBackend.close()
		}
		if oldResample != nil {
			oldResample.close()
		}

		backend, err := newAudioEncoderBackend(family, cfg)
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

// Encode queues an AudioData for encoding. The data is cloned on entry, so
// AudioData.Close() is safe to call as soon as Encode returns.
func (e *AudioEncoder) Encode(data *AudioData) error {
	e.mu.Lock()
	if e.state != codecStateConfigured {
		e.mu.Unlock()
		return stateErrorf("AudioEncoder.Encode requires the configured state")
	}
	epoch := e.epoch
	e.mu.Unlock()

	if data.Closed() {
		return typeErrorf("cannot encode a closed AudioData")
	}

	clone, err := data.Clone()
	if err != nil {
		return err
	}

	e.queueSize.Add(1)
	qerr := e.queue.enqueue(func() error {
		defer clone.Close()
		defer e.dequeued()

		e.mu.Lock()
		backend := e.backend
		family := e.family
		cfg := e.cfg
		e.mu.Unlock()
		if backend == nil {
			return nil // reset freed the backend; drain without output
		}

		pcm, numberOfFrames, err := e.preparePCM(clone, family, cfg, epoch)
		if err != nil {
			return err
		}

		e.mu.Lock()
		e.tailTimestamp = clone.Timestamp() + clone.Duration()
		e.mu.Unlock()

		if numberOfFrames == 0 {
			return nil // resampler buffered everything; flush drains it
		}

		return e.encodeAndEmit(backend, cfg, pcm, numberOfFrames, clone.Timestamp(), epoch)
	})
	if qerr != nil {
		e.queueSize.Add(-1)
	}
	return qerr
}

// encodeAndEmit runs one PCM batch through the backend and delivers the
// resulting chunk, attaching the decoder-config metadata if this is the
// first output of the configuration epoch.
func (e *AudioEncoder) encodeAndEmit(backend audioEncoderBackend, cfg AudioEncoderConfig, pcm []byte, numberOfFrames int, timestamp int64, epoch uint64) error {
	out, err := backend.encode(pcm, numberOfFrames)
	if err != nil {
		return err
	}
	if len(out.Data) == 0 {
		return nil
	}

	duration := int64(float64(numberOfFrames) * 1e6 / float64(cfg.SampleRate))
	chunk, err := NewEncodedAudioChunk(EncodedAudioChunkInit{
		Type:      ChunkTypeKey,
		Timestamp: timestamp,
		Duration:  &duration,
		Data:      out.Data,
		Transfer:  true,
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	ok := e.state == codecStateConfigured && e.epoch == epoch
	var metadata *EncodedAudioChunkMetadata
	if ok && !e.metadataSent {
		e.metadataSent = true
		metadata = &EncodedAudioChunkMetadata{
			DecoderConfig: &AudioDecoderConfig{
				Codec:            cfg.Codec,
				SampleRate:       cfg.SampleRate,
				NumberOfChannels: cfg.NumberOfChannels,
				Description:      backend.extradata(),
			},
		}
	}
	e.mu.Unlock()
	if ok {
		e.init.Output(chunk, metadata)
	}
	return nil
}

func (e *AudioEncoder) dequeued() {
	e.queueSize.Add(-1)
	if e.init.OnDequeue != nil {
		e.init.OnDequeue()
	}
}

// preparePCM resamples (if needed) and converts the AudioData's samples
// into the interleaved layout the backend family expects: interleaved f32
// for Opus/Vorbis, interleaved s16 for FLAC.
func (e *AudioEncoder) preparePCM(data *AudioData, family backendFamily, cfg AudioEncoderConfig, epoch uint64) ([]byte, int, error) {
	f32, numberOfFrames, err := interleavedF32(data)
	if err != nil {
		return nil, 0, err
	}

	srcRate := int(data.SampleRate())
	srcChannels := data.NumberOfChannels()
	if srcRate != cfg.SampleRate || srcChannels != cfg.NumberOfChannels {
		filter, drained, ferr := e.resampleFilterFor(srcRate, srcChannels, cfg)
		if ferr != nil {
			return nil, 0, ferr
		}
		// A rebuilt filter flushed its predecessor's residue; emit it ahead
		// of this batch so no samples are dropped across the change.
		if len(drained) > 0 {
			e.mu.Lock()
			backend := e.backend
			tailTs := e.tailTimestamp
			e.mu.Unlock()
			if backend != nil {
				tailFrames := len(drained) / (4 * cfg.NumberOfChannels)
				pcm := drained
				if family == backendFLAC {
					pcm = f32ToS16(drained)
				}
				if eerr := e.encodeAndEmit(backend, cfg, pcm, tailFrames, tailTs, epoch); eerr != nil {
					return nil, 0, eerr
				}
			}
		}

		converted, cerr := filter.convert(f32, numberOfFrames)
		if cerr != nil {
			return nil, 0, cerr
		}
		f32 = converted
		numberOfFrames = len(f32) / (4 * cfg.NumberOfChannels)
	}

	if family == backendFLAC {
		return f32ToS16(f32), numberOfFrames, nil
	}
	return f32, numberOfFrames, nil
}

// resampleFilterFor returns the filter matching the source parameters,
// rebuilding it (and draining the old instance first) when the input
// configuration drifts.
func (e *AudioEncoder) resampleFilterFor(srcRate, srcChannels int, cfg AudioEncoderConfig) (*resampleFilter, []byte, error) {
	e.mu.Lock()
	current := e.resample
	e.mu.Unlock()

	if current != nil && current.matches(srcRate, srcChannels, cfg.SampleRate, cfg.NumberOfChannels) {
		return current, nil, nil
	}

	var drained []byte
	if current != nil {
		tail, err := current.flush()
		if err == nil {
			drained = tail
		}
		current.close()
	}

	filter, err := newResampleFilter(srcRate, srcChannels, cfg.SampleRate, cfg.NumberOfChannels)
	if err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	e.resample = filter
	e.mu.Unlock()
	return filter, drained, nil
}

// interleavedF32 returns the AudioData's samples as interleaved float32
// PCM, converting from planar or differently-typed sources via CopyTo.
func interleavedF32(data *AudioData) ([]byte, int, error) {
	channels := data.NumberOfChannels()
	frames := data.NumberOfFrames()

	if data.Format() == SampleFormatF32 {
		out := make([]byte, frames*channels*4)
		if err := data.CopyTo(out, AudioDataCopyToOptions{PlaneIndex: 0, FrameOffset: 0}); err != nil {
			return nil, 0, err
		}
		return out, frames, nil
	}

	f32 := SampleFormatF32Planar
	planes := make([][]byte, channels)
	for c := 0; c < channels; c++ {
		planeBytes, err := data.AllocationSize(AudioDataCopyToOptions{PlaneIndex: c, Format: &f32})
		if err != nil {
			return nil, 0, err
		}
		buf := make([]byte, planeBytes)
		if err := data.CopyTo(buf, AudioDataCopyToOptions{PlaneIndex: c, Format: &f32}); err != nil {
			return nil, 0, err
		}
		planes[c] = buf
	}

	out := make([]byte, frames*channels*4)
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			copy(out[(i*channels+c)*4:], planes[c][i*4:i*4+4])
		}
	}
	return out, frames, nil
}

// f32ToS16 converts interleaved float32 PCM in [-1,1] to interleaved s16.
func f32ToS16(f32 []byte) []byte {
	n := len(f32) / 4
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := math.Float32frombits(binary.LittleEndian.Uint32(f32[i*4 : i*4+4]))
		if v > 1 {
			v = 1
		}
		if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(int16(v*32767)))
	}
	return out
}

// Flush drains the resample filter's residue into the encoder, emits any
// resulting chunk, and blocks until all queued encodes have completed.
func (e *AudioEncoder) Flush() error {
	e.mu.Lock()
	if e.state != codecStateConfigured {
		e.mu.Unlock()
		return stateErrorf("AudioEncoder.Flush requires the configured state")
	}
	epoch := e.epoch
	e.mu.Unlock()

	done := make(chan error, 1)
	if err := e.queue.enqueue(func() error {
		e.mu.Lock()
		backend := e.backend
		filter := e.resample
		family := e.family
		cfg := e.cfg
		tailTs := e.tailTimestamp
		closed := e.state == codecStateClosed
		e.mu.Unlock()

		if closed {
			done <- ErrAbort
			return nil
		}

		var flushErr error
		if backend != nil && filter != nil {
			if tail, err := filter.flush(); err == nil && len(tail) > 0 {
				tailFrames := len(tail) / (4 * cfg.NumberOfChannels)
				pcm := tail
				if family == backendFLAC {
					pcm = f32ToS16(tail)
				}
				flushErr = e.encodeAndEmit(backend, cfg, pcm, tailFrames, tailTs, epoch)
			}
		}
		done <- flushErr
		return flushErr
	}); err != nil {
		return err
	}
	return <-done
}

// Reset abandons queued work, returning to the unconfigured state.
func (e *AudioEncoder) Reset() error {
	e.mu.Lock()
	if e.state == codecStateClosed {
		e.mu.Unlock()
		return stateErrorf("AudioEncoder is closed")
	}
	backend := e.backend
	resample := e.resample
	e.backend = nil
	e.resample = nil
	e.state = codecStateUnconfigured
	e.epoch++
	e.mu.Unlock()

	if backend != nil || resample != nil {
		return e.queue.enqueue(func() error {
			if backend != nil {
				backend.close()
			}
			if resample != nil {
				resample.close()
			}
			return nil
		})
	}
	return nil
}

// Close releases the backend and transitions to the closed state. It is
// idempotent and fires no error callback.
func (e *AudioEncoder) Close() error {
	e.mu.Lock()
	if e.state == codecStateClosed {
		e.mu.Unlock()
		return nil
	}
	backend := e.backend
	resample := e.resample
	e.backend = nil
	e.resample = nil
	e.state = codecStateClosed
	e.mu.Unlock()

	if backend != nil || resample != nil {
		_ = e.queue.enqueue(func() error {
			if backend != nil {
				backend.close()
			}
			if resample != nil {
				resample.close()
			}
			return nil
		})
	}
	e.queue.close()
	return nil
}

func (e *AudioEncoder) internalClose(cause error) {
	e.mu.Lock()
	if e.state == codecStateClosed {
		e.mu.Unlock()
		return
	}
	backend := e.backend
	resample := e.resample
	e.backend = nil
	e.resample = nil
	e.state = codecStateClosed
	fire := cause != nil && !errors.Is(cause, ErrAbort) && !e.errorFired
	if fire {
		e.errorFired = true
	}
	e.mu.Unlock()

	if backend != nil {
		backend.close()
	}
	if resample != nil {
		resample.close()
	}
	if fire {
		e.init.Error(cause)
	}
	e.queue.close()
}
