package webcodecs

import (
	"errors"
	"sync"
	"sync/atomic"
)

// AudioDecoderConfig mirrors the WebCodecs AudioDecoderConfig dictionary.
type AudioDecoderConfig struct {
	Codec            string // codec identifier string, e.g. "opus", "vorbis", "flac"
	SampleRate       int
	NumberOfChannels int
	// Description carries codec-specific out-of-band setup data (FLAC
	// STREAMINFO, Vorbis setup headers, OpusHead). The wrapper libraries
	// initialize from the configured rate/channels instead, so it is
	// accepted and echoed but not required.
	Description []byte
}

// DefaultAudioDecoderConfig returns an AudioDecoderConfig with reasonable
// defaults for the given codec identifier.
func DefaultAudioDecoderConfig(codec string) AudioDecoderConfig {
	return AudioDecoderConfig{Codec: codec, SampleRate: 48000, NumberOfChannels: 2}
}

// AudioDecoderSupport is the result of IsAudioDecoderConfigSupported: the
// support verdict plus a normalized echo of the configuration.
type AudioDecoderSupport struct {
	Supported bool
	Config    AudioDecoderConfig
}

// AudioDecoderInit carries the callbacks an AudioDecoder reports through.
// OnDequeue, when set, fires once per completed decode as DecodeQueueSize
// drops.
type AudioDecoderInit struct {
	Output    func(data *AudioData)
	Error     func(err error)
	OnDequeue func()
}

type codecState int

const (
	codecStateUnconfigured codecState = iota
	codecStateConfigured
	codecStateClosed
)

func (s codecState) String() string {
	switch s {
	case codecStateConfigured:
		return "configured"
	case codecStateClosed:
		return "closed"
	default:
		return "unconfigured"
	}
}

// AudioDecoder implements the WebCodecs AudioDecoder state machine, driving
// one of this package's native audio backends underneath.
type AudioDecoder struct {
	mu         sync.Mutex
	state      codecState
	errorFired bool
	init       AudioDecoderInit
	queue      *controlMessageQueue
	queueSize  atomic.Int32

	codec   AudioCodec
	backend audioDecoderBackend
	cfg     AudioDecoderConfig

	// epoch advances on every configure/reset; queued work from an older
	// epoch drains its counters but delivers no output.
	epoch uint64
}

// NewAudioDecoder constructs an AudioDecoder in the "unconfigured" state.
func NewAudioDecoder(init AudioDecoderInit) (*AudioDecoder, error) {
	if init.Output == nil || init.Error == nil {
		return nil, typeErrorf("AudioDecoderInit requires both Output and Error callbacks")
	}
	d := &AudioDecoder{init: init}
	d.queue = newControlMessageQueue(d.internalClose)
	return d, nil
}

// State reports the decoder's current state: "unconfigured", "configured"
// or "closed".
func (d *AudioDecoder) State() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.String()
}

// DecodeQueueSize reports the number of decode requests not yet processed.
func (d *AudioDecoder) DecodeQueueSize() int { return int(d.queueSize.Load()) }

// IsAudioDecoderConfigSupported reports whether a configuration could be
// used to construct a working decoder, without allocating one. Unrecognized
// codec identifiers yield a TypeError; recognized-but-unavailable ones
// yield Supported=false.
func IsAudioDecoderConfigSupported(cfg AudioDecoderConfig) (AudioDecoderSupport, error) {
	codec, family, _, err := resolveAudioCodec(cfg.Codec)
	if err != nil {
		if errors.Is(err, ErrNotSupported) {
			return AudioDecoderSupport{Supported: false, Config: normalizeAudioDecoderConfig(cfg)}, nil
		}
		return AudioDecoderSupport{}, err
	}
	supported := environmentPrefersHostAudio(codec, cfg, false) || probeAudioSupport(family)
	return AudioDecoderSupport{
		Supported: supported,
		Config:    normalizeAudioDecoderConfig(cfg),
	}, nil
}

func normalizeAudioDecoderConfig(cfg AudioDecoderConfig) AudioDecoderConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.NumberOfChannels <= 0 {
		cfg.NumberOfChannels = 2
	}
	return cfg
}

// Configure transitions the decoder into the "configured" state and queues
// the backend init. A failing init closes the decoder asynchronously with
// NotSupported.
func (d *AudioDecoder) Configure(cfg AudioDecoderConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == codecStateClosed {
		return stateErrorf("AudioDecoder is closed")
	}
	if cfg.SampleRate <= 0 || cfg.NumberOfChannels <= 0 {
		return typeErrorf("sampleRate/numberOfChannels must be > 0, got %d/%d", cfg.SampleRate, cfg.NumberOfChannels)
	}

	codec, family, _, err := resolveAudioCodec(cfg.Codec)
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

		backend, err := newAudioDecoderBackend(family, cfg)
		if err != nil {
			if !errors.Is(err, ErrNotSupported) {
				err = notSupportedErrorf("backend init failed: %v", err)
			}
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

// Decode queues a chunk for decoding. Decoded audio is delivered through
// the Output callback.
func (d *AudioDecoder) Decode(chunk *EncodedAudioChunk) error {
	d.mu.Lock()
	if d.state != codecStateConfigured {
		d.mu.Unlock()
		return stateErrorf("AudioDecoder.Decode requires the configured state")
	}
	epoch := d.epoch
	d.mu.Unlock()

	d.queueSize.Add(1)
	err := d.queue.enqueue(func() error {
		defer d.dequeued()

		d.mu.Lock()
		backend := d.backend
		cfg := d.cfg
		d.mu.Unlock()
		if backend == nil {
			return nil // reset freed the backend; drain without output
		}

		out, err := backend.decode(chunk.Bytes())
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}

		data, err := NewAudioData(AudioDataInit{
			Format:           out.Format,
			SampleRate:       float64(cfg.SampleRate),
			NumberOfFrames:   out.NumberOfFrames,
			NumberOfChannels: out.NumberOfChannels,
			Timestamp:        chunk.Timestamp(),
			Data:             out.Samples,
			Transfer:         true,
		})
		if err != nil {
			return err
		}
		d.deliver(data, epoch)
		return nil
	})
	if err != nil {
		d.queueSize.Add(-1)
	}
	return err
}

func (d *AudioDecoder) dequeued() {
	d.queueSize.Add(-1)
	if d.init.OnDequeue != nil {
		d.init.OnDequeue()
	}
}

func (d *AudioDecoder) deliver(data *AudioData, epoch uint64) {
	d.mu.Lock()
	ok := d.state == codecStateConfigured && d.epoch == epoch
	d.mu.Unlock()
	if ok {
		d.init.Output(data)
	}
}

// Flush blocks until all queued decodes have completed.
func (d *AudioDecoder) Flush() error {
	d.mu.Lock()
	if d.state != codecStateConfigured {
		d.mu.Unlock()
		return stateErrorf("AudioDecoder.Flush requires the configured state")
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

// Reset abandons queued work and returns to the unconfigured state. Decode
// steps already queued still drain their counters but deliver no output.
func (d *AudioDecoder) Reset() error {
	d.mu.Lock()
	if d.state == codecStateClosed {
		d.mu.Unlock()
		return stateErrorf("AudioDecoder is closed")
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
func (d *AudioDecoder) Close() error {
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

// internalClose is the queue's error trap: it closes the decoder and fires
// the error callback at most once. Abort-class errors are suppressed.
func (d *AudioDecoder) internalClose(cause error) {
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
