// The backend adapter maps a WebCodecs codec identifier plus configuration
// to a native backend codec and exposes the primitives (init/free/encode/
// decode, plus the resample and rescale filters) that the decoders and
// encoders in audio_decoder.go, video_decoder.go, audio_encoder.go and
// video_encoder.go consume. Every codec primitive and the resample filter
// are implemented by dynamically loading a small C wrapper library via
// purego: a sync.Once load, a flat table of RegisterLibFunc'd function
// pointers, a getError() helper and an isXAvailable() probe per library.
// The rescale filter is plain Go (scaler.go) and loads no library.
package webcodecs

import "fmt"

// backendFamily names one of the native codec families this package drives.
type backendFamily int

const (
	backendVPX    backendFamily = iota // libvpx: vp8, vp9
	backendAOM                         // libaom-av1: av01
	backendOpus                        // libopus: opus
	backendVorbis                      // libvorbis: vorbis
	backendFLAC                        // flac: flac
)

func (b backendFamily) String() string {
	switch b {
	case backendVPX:
		return "libvpx"
	case backendAOM:
		return "libaom-av1"
	case backendOpus:
		return "libopus"
	case backendVorbis:
		return "libvorbis"
	case backendFLAC:
		return "flac"
	default:
		return "unknown"
	}
}

// resolveVideoCodec maps a codec identifier string (e.g. "vp8", "vp09.00.10.08",
// "av01.0.04M.08") to a VideoCodec and backend family. Sub-parameters beyond
// what selects the backend and bit depth are accepted but not otherwise
// interpreted.
func resolveVideoCodec(codecString string) (VideoCodec, backendFamily, codecStringParams, error) {
	params := parseCodecString(codecString)
	switch params.base {
	case "vp8":
		return VideoCodecVP8, backendVPX, params, nil
	case "vp09":
		return VideoCodecVP9, backendVPX, params, nil
	case "av01":
		return VideoCodecAV1, backendAOM, params, nil
	case "h264", "avc1", "hev1", "hvc1", "mp4v", "mpeg":
		return VideoCodecUnknown, 0, params, notSupportedErrorf("recognized but unsupported video codec %q", codecString)
	default:
		return VideoCodecUnknown, 0, params, typeErrorf("unrecognized video codec identifier %q", codecString)
	}
}

// resolveAudioCodec maps a codec identifier string to an AudioCodec and
// backend family.
func resolveAudioCodec(codecString string) (AudioCodec, backendFamily, codecStringParams, error) {
	params := parseCodecString(codecString)
	switch params.base {
	case "opus":
		return AudioCodecOpus, backendOpus, params, nil
	case "vorbis":
		return AudioCodecVorbis, backendVorbis, params, nil
	case "flac":
		return AudioCodecFLAC, backendFLAC, params, nil
	case "mp4a", "mp3":
		return AudioCodecUnknown, 0, params, notSupportedErrorf("recognized but unsupported audio codec %q", codecString)
	default:
		return AudioCodecUnknown, 0, params, typeErrorf("unrecognized audio codec identifier %q", codecString)
	}
}

// probeVideoSupport reports whether the backend for a family is loadable.
// Probe failures never propagate as errors: they report false. Declared as
// a variable so tests can substitute a stub probe.
var probeVideoSupport = func(family backendFamily) bool {
	switch family {
	case backendVPX:
		return isVPXAvailable()
	case backendAOM:
		return isAOMAvailable()
	default:
		return false
	}
}

// probeAudioSupport is the audio counterpart of probeVideoSupport.
var probeAudioSupport = func(family backendFamily) bool {
	switch family {
	case backendOpus:
		return isOpusAvailable()
	case backendVorbis:
		return isVorbisAvailable()
	case backendFLAC:
		return isFLACAvailable()
	default:
		return false
	}
}

var errBackendUnavailable = fmt.Errorf("%w: native backend library not loaded", ErrNotSupported)

// rawVideoPlane is one plane of a decoded or to-be-encoded video frame, in
// the layout the native backend wants: rows of samples at the given stride.
type rawVideoPlane struct {
	Data   []byte
	Stride int
}

// decodedVideo is what a videoDecoderBackend hands back for one decoded
// frame. video_decoder.go wraps it into a VideoFrame, deriving the visible
// rectangle from the crop insets and the display size from the sample
// aspect ratio when the bitstream signals them.
type decodedVideo struct {
	Planes []rawVideoPlane
	Format PixelFormat
	Width  int
	Height int

	// Crop insets signaled by the bitstream; all zero when the full coded
	// grid is visible.
	CropLeft, CropTop, CropRight, CropBottom int

	// Sample aspect ratio signaled by the bitstream; zero when unsignaled
	// (treated as square pixels).
	SARNum, SARDen int
}

// encodedVideo is what a videoEncoderBackend hands back for one encoded
// frame. video_encoder.go wraps it into an EncodedVideoChunk.
type encodedVideo struct {
	Data     []byte
	Keyframe bool
}

// videoEncoderBackend is implemented once per native video codec library
// (vpx_purego.go, av1_purego.go). video_encoder.go drives it with one input
// frame at a time and gets zero or one encoded chunks back per call, since
// none of the wrapped libraries are configured for B-frame reordering.
type videoEncoderBackend interface {
	// encode submits one raw frame. sarNum/sarDen annotate the frame's
	// sample aspect ratio in the native encoder context; (1, 1) for square
	// pixels.
	encode(planes []rawVideoPlane, width, height int, forceKeyframe bool, sarNum, sarDen int) (encodedVideo, error)
	setBitrate(bitrateBps int) error
	requestKeyframe()
	// extradata returns the codec's out-of-band decoder description, or nil
	// when the bitstream is self-describing (all of vp8/vp9/av1 are).
	extradata() []byte
	close()
}

// videoDecoderBackend is implemented once per native video codec library.
type videoDecoderBackend interface {
	decode(data []byte) (*decodedVideo, error)
	reset() error
	close()
}

// decodedAudio is what an audioDecoderBackend hands back for one decoded
// packet of PCM.
type decodedAudio struct {
	Samples          []byte
	Format           AudioSampleFormat
	NumberOfFrames   int
	NumberOfChannels int
}

// encodedAudio is what an audioEncoderBackend hands back for one encoded
// packet.
type encodedAudio struct {
	Data []byte
}

// audioEncoderBackend is implemented once per native audio codec library
// (opus_purego.go, vorbis_purego.go, flac_purego.go).
type audioEncoderBackend interface {
	encode(samples []byte, numberOfFrames int) (encodedAudio, error)
	setBitrate(bitrateBps int) error
	// extradata returns the decoder description for this stream (OpusHead,
	// FLAC STREAMINFO, ...), or nil when the wrapper exposes none.
	extradata() []byte
	close()
}

// audioDecoderBackend is implemented once per native audio codec library.
type audioDecoderBackend interface {
	decode(data []byte) (*decodedAudio, error)
	close()
}

// The four backend constructors are variables so tests can substitute fake
// backends and drive the codec state machines without native libraries.
var (
	newAudioDecoderBackend = func(family backendFamily, cfg AudioDecoderConfig) (audioDecoderBackend, error) {
		switch family {
		case backendOpus:
			return newOpusDecoder(cfg)
		case backendVorbis:
			return newVorbisDecoder(cfg)
		case backendFLAC:
			return newFLACDecoder(cfg)
		default:
			return nil, errBackendUnavailable
		}
	}

	newAudioEncoderBackend = func(family backendFamily, cfg AudioEncoderConfig) (audioEncoderBackend, error) {
		switch family {
		case backendOpus:
			return newOpusEncoder(cfg)
		case backendVorbis:
			return newVorbisEncoder(cfg)
		case backendFLAC:
			return newFLACEncoder(cfg)
		default:
			return nil, errBackendUnavailable
		}
	}

	newVideoDecoderBackend = func(codec VideoCodec, family backendFamily, cfg VideoDecoderConfig) (videoDecoderBackend, error) {
		switch family {
		case backendVPX:
			return newVPXDecoder(codec, cfg)
		case backendAOM:
			return newAV1Decoder(cfg)
		default:
			return nil, errBackendUnavailable
		}
	}

	newVideoEncoderBackend = func(codec VideoCodec, family backendFamily, cfg VideoEncoderConfig) (videoEncoderBackend, error) {
		switch family {
		case backendVPX:
			return newVPXEncoder(codec, cfg)
		case backendAOM:
			usage := AV1UsageGoodQuality
			if cfg.Latency == LatencyModeRealtime {
				usage = AV1UsageRealtime
			}
			return newAV1Encoder(cfg, usage)
		default:
			return nil, errBackendUnavailable
		}
	}
)
