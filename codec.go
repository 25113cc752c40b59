package webcodecs

// VideoCodec identifies the video codec backing a VideoDecoder/VideoEncoder
// instance. H.264/H.265 are
// recognized (so configure() can report NotSupportedError rather than
// TypeError for them) but have no backend in this build.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecVP8
	VideoCodecVP9
	VideoCodecAV1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	case VideoCodecAV1:
		return "AV1"
	default:
		return "Unknown"
	}
}

// ClockRate returns the RTP clock rate used by rtpexport.go when packetizing
// chunks produced by this codec. All three supported video codecs use the
// conventional 90kHz video clock.
func (c VideoCodec) ClockRate() uint32 { return 90000 }

// DefaultPayloadType returns a typical dynamic RTP payload type for this
// codec. Actual payload type is negotiated out of band; this is only a
// reasonable default for rtpexport.go callers that don't negotiate one.
func (c VideoCodec) DefaultPayloadType() uint8 {
	switch c {
	case VideoCodecVP8:
		return 96
	case VideoCodecVP9:
		return 98
	case VideoCodecAV1:
		return 35
	default:
		return 96
	}
}

// AudioCodec identifies the audio codec backing an AudioDecoder/AudioEncoder
// instance.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecOpus
	AudioCodecVorbis
	AudioCodecFLAC
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecOpus:
		return "Opus"
	case AudioCodecVorbis:
		return "Vorbis"
	case AudioCodecFLAC:
		return "FLAC"
	default:
		return "Unknown"
	}
}

// ClockRate returns the RTP clock rate for this codec. Opus always runs at a
// fixed 48kHz RTP clock regardless of its actual sample rate; Vorbis and
// FLAC, which this polyfill only ever exports as chunks rather than RTP
// packets, report their encoder sample rate instead.
func (c AudioCodec) ClockRate(sampleRate int) uint32 {
	if c == AudioCodecOpus {
		return 48000
	}
	return uint32(sampleRate)
}

// DefaultPayloadType returns a typical dynamic RTP payload type for this
// codec.
func (c AudioCodec) DefaultPayloadType() uint8 {
	switch c {
	case AudioCodecOpus:
		return 111
	default:
		return 97
	}
}

// VP9Profile distinguishes VP9 bitstream profiles, parsed out of a vp09.*
// codec string's second sub-parameter.
type VP9Profile int

const (
	VP9Profile0 VP9Profile = iota // 8-bit, 4:2:0
	VP9Profile1                   // 8-bit, 4:2:2 or 4:4:4
	VP9Profile2                   // 10/12-bit, 4:2:0
	VP9Profile3                   // 10/12-bit, 4:2:2 or 4:4:4
)

func (p VP9Profile) String() string {
	switch p {
	case VP9Profile0:
		return "Profile0"
	case VP9Profile1:
		return "Profile1"
	case VP9Profile2:
		return "Profile2"
	case VP9Profile3:
		return "Profile3"
	default:
		return "Unknown"
	}
}

// AV1Profile distinguishes AV1 bitstream profiles, parsed out of an av01.*
// codec string's first sub-parameter.
type AV1Profile int

const (
	AV1ProfileMain         AV1Profile = iota // 8-bit/10-bit, 4:2:0
	AV1ProfileHigh                           // 8-bit/10-bit, 4:2:0, 4:2:2 or 4:4:4
	AV1ProfileProfessional                   // 8/10/12-bit, any subsampling
)

func (p AV1Profile) String() string {
	switch p {
	case AV1ProfileMain:
		return "Main"
	case AV1ProfileHigh:
		return "High"
	case AV1ProfileProfessional:
		return "Professional"
	default:
		return "Unknown"
	}
}
