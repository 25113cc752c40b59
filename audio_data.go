package webcodecs

import (
	"encoding/binary"
	"math"
)

// AudioDataInit mirrors the WebCodecs AudioDataInit dictionary.
type AudioDataInit struct {
	Format           AudioSampleFormat
	SampleRate       float64
	NumberOfFrames   int
	NumberOfChannels int
	Timestamp        int64 // microseconds
	Data             []byte
	Transfer         bool
}

// AudioData owns a buffer of raw PCM samples in one of the formats described
// by format_audio.go, mirroring the WebCodecs AudioData interface.
type AudioData struct {
	format           AudioSampleFormat
	sampleRate       float64
	numberOfFrames   int
	numberOfChannels int
	timestamp        int64
	data             []byte
	closed           bool
}

// NewAudioData validates and constructs an AudioData from its init dictionary.
func NewAudioData(init AudioDataInit) (*AudioData, error) {
	if init.SampleRate <= 0 {
		return nil, typeErrorf("sampleRate must be > 0, got %v", init.SampleRate)
	}
	if init.NumberOfFrames <= 0 {
		return nil, typeErrorf("numberOfFrames must be > 0, got %d", init.NumberOfFrames)
	}
	if init.NumberOfChannels <= 0 {
		return nil, typeErrorf("numberOfChannels must be > 0, got %d", init.NumberOfChannels)
	}
	need := init.NumberOfFrames * init.NumberOfChannels * init.Format.BytesPerSample()
	if len(init.Data) < need {
		return nil, typeErrorf("data has %d bytes, need at least %d", len(init.Data), need)
	}
	data, err := ownBuffer(init.Data, init.Transfer)
	if err != nil {
		return nil, err
	}
	return &AudioData{
		format:           init.Format,
		sampleRate:       init.SampleRate,
		numberOfFrames:   init.NumberOfFrames,
		numberOfChannels: init.NumberOfChannels,
		timestamp:        init.Timestamp,
		data:             data,
	}, nil
}

func (a *AudioData) Format() AudioSampleFormat { return a.format }
func (a *AudioData) SampleRate() float64       { return a.sampleRate }
func (a *AudioData) NumberOfFrames() int       { return a.numberOfFrames }
func (a *AudioData) NumberOfChannels() int     { return a.numberOfChannels }
func (a *AudioData) Timestamp() int64          { return a.timestamp }

// Duration returns the derived duration in microseconds:
// frames * 1e6 / sampleRate.
func (a *AudioData) Duration() int64 {
	return int64(float64(a.numberOfFrames) * 1e6 / a.sampleRate)
}

// AudioDataCopyToOptions mirrors AudioDataCopyToOptions.
type AudioDataCopyToOptions struct {
	PlaneIndex  int
	FrameOffset int
	FrameCount  *int // nil means "through the end"
	Format      *AudioSampleFormat
}

// computeCopyElementCount implements the WebCodecs "Compute Copy Element
// Count" algorithm,
// returning the number of destination elements (not bytes) a copy produces.
func (a *AudioData) computeCopyElementCount(opts AudioDataCopyToOptions) (destFormat AudioSampleFormat, count int, err error) {
	if a.closed {
		return 0, 0, stateErrorf("AudioData is closed")
	}
	destFormat = a.format
	if opts.Format != nil {
		destFormat = *opts.Format
	}

	if destFormat.IsInterleaved() {
		if opts.PlaneIndex != 0 {
			return destFormat, 0, rangeErrorf("planeIndex must be 0 for interleaved destination format, got %d", opts.PlaneIndex)
		}
	} else {
		if opts.PlaneIndex < 0 || opts.PlaneIndex >= a.numberOfChannels {
			return destFormat, 0, rangeErrorf("planeIndex %d out of range [0,%d)", opts.PlaneIndex, a.numberOfChannels)
		}
	}

	if destFormat != a.format && destFormat != SampleFormatF32Planar {
		return destFormat, 0, notSupportedErrorf("cannot convert %s to %s (only same-format copies and f32-planar conversion are supported)", a.format, destFormat)
	}

	if opts.FrameOffset < 0 || opts.FrameOffset >= a.numberOfFrames {
		return destFormat, 0, rangeErrorf("frameOffset %d out of range [0,%d)", opts.FrameOffset, a.numberOfFrames)
	}

	frameCount := a.numberOfFrames - opts.FrameOffset
	if opts.FrameCount != nil {
		if *opts.FrameCount > frameCount {
			return destFormat, 0, rangeErrorf("frameCount %d exceeds available frames %d", *opts.FrameCount, frameCount)
		}
		frameCount = *opts.FrameCount
	}

	if destFormat.IsInterleaved() {
		return destFormat, frameCount * a.numberOfChannels, nil
	}
	return destFormat, frameCount, nil
}

// AllocationSize returns the number of bytes CopyTo would write for opts.
func (a *AudioData) AllocationSize(opts AudioDataCopyToOptions) (int, error) {
	destFormat, count, err := a.computeCopyElementCount(opts)
	if err != nil {
		return 0, err
	}
	return count * destFormat.BytesPerSample(), nil
}

// CopyTo copies (and, if necessary, converts to f32-planar) samples into dest.
func (a *AudioData) CopyTo(dest []byte, opts AudioDataCopyToOptions) error {
	destFormat, count, err := a.computeCopyElementCount(opts)
	if err != nil {
		return err
	}
	need := count * destFormat.BytesPerSample()
	if len(dest) < need {
		return rangeErrorf("destination has %d bytes, need %d", len(dest), need)
	}

	frameCount := a.numberOfFrames - opts.FrameOffset
	if opts.FrameCount != nil {
		frameCount = *opts.FrameCount
	}

	if destFormat == a.format {
		a.copyDirect(dest, opts.PlaneIndex, opts.FrameOffset, frameCount)
		return nil
	}
	// destFormat == f32-planar: convert channel opts.PlaneIndex to float32.
	a.copyConvertedToF32Planar(dest, opts.PlaneIndex, opts.FrameOffset, frameCount)
	return nil
}

func (a *AudioData) copyDirect(dest []byte, plane, frameOffset, frameCount int) {
	bps := a.format.BytesPerSample()
	if a.format.IsPlanar() {
		planeStart := plane * a.numberOfFrames * bps
		start := planeStart + frameOffset*bps
		copy(dest, a.data[start:start+frameCount*bps])
		return
	}
	start := frameOffset * a.numberOfChannels * bps
	n := frameCount * a.numberOfChannels * bps
	copy(dest, a.data[start:start+n])
}

func (a *AudioData) copyConvertedToF32Planar(dest []byte, channel, frameOffset, frameCount int) {
	sub, div := a.format.conversionSubDiv()
	for i := 0; i < frameCount; i++ {
		v := a.readSample(channel, frameOffset+i)
		f := float32((v - sub) / div)
		binary.LittleEndian.PutUint32(dest[i*4:i*4+4], math.Float32bits(f))
	}
}

// readSample returns the raw numeric value (not yet normalized) of the
// sample at (channel, frame) in the source buffer.
func (a *AudioData) readSample(channel, frame int) float64 {
	bps := a.format.BytesPerSample()
	var off int
	if a.format.IsPlanar() {
		off = channel*a.numberOfFrames*bps + frame*bps
	} else {
		off = (frame*a.numberOfChannels + channel) * bps
	}
	switch a.format {
	case SampleFormatU8, SampleFormatU8Planar:
		return float64(a.data[off])
	case SampleFormatS16, SampleFormatS16Planar:
		return float64(int16(binary.LittleEndian.Uint16(a.data[off : off+2])))
	case SampleFormatS32, SampleFormatS32Planar:
		return float64(int32(binary.LittleEndian.Uint32(a.data[off : off+4])))
	case SampleFormatF32, SampleFormatF32Planar:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(a.data[off : off+4])))
	default:
		return 0
	}
}

// Clone produces an independent owner over a copy of the same samples.
func (a *AudioData) Clone() (*AudioData, error) {
	if a.closed {
		return nil, stateErrorf("AudioData is closed")
	}
	cp := make([]byte, len(a.data))
	copy(cp, a.data)
	return &AudioData{
		format:           a.format,
		sampleRate:       a.sampleRate,
		numberOfFrames:   a.numberOfFrames,
		numberOfChannels: a.numberOfChannels,
		timestamp:        a.timestamp,
		data:             cp,
	}, nil
}

// Close detaches the buffer; subsequent operations fail with InvalidState.
func (a *AudioData) Close() {
	a.closed = true
	a.data = nil
}

// Closed reports whether Close has been called.
func (a *AudioData) Closed() bool { return a.closed }
