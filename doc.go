// Package webcodecs implements the W3C WebCodecs interface surface in Go,
// backed by native codec wrappers (libmedia_*/libstream_*) loaded through
// purego.
//
// The four codec classes mirror their browser counterparts:
//   - AudioDecoder / VideoDecoder: EncodedAudioChunk/EncodedVideoChunk in,
//     AudioData/VideoFrame out via the output callback
//   - AudioEncoder / VideoEncoder: AudioData/VideoFrame in,
//     EncodedAudioChunk/EncodedVideoChunk out, with a decoder-config
//     metadata record on the first chunk of each configuration
//
// Each instance owns one serialized control-message queue: Configure,
// Decode, Encode, Reset and Close enqueue work and return immediately;
// Flush enqueues a marker and blocks until the work queued ahead of it has
// run. Outputs and errors are delivered from the queue's worker goroutine
// in submission order.
//
// # Native Libraries
//
// Bindings load libmedia_* wrapper libraries built from clib/ into build/.
// Set MEDIA_SDK_LIB_PATH to the directory containing these libraries.
// The package uses purego (CGO_ENABLED=0); availability of each codec
// depends on which native libraries are present at runtime.
//
// # Build Tags
//
// The native backend files carry build constraints on these tags:
//   - novpx, noopus, noav1, novorbis, noflac: the per-codec backend files
//   - noresample: the audio resample filter
//
// backend.go and audio_encoder.go call the constructors from those files
// directly and no stand-in implementations exist, so the package does not
// compile when any of these tags is set.
//
// # Supported Codecs
//
// Video: VP8/VP9 (libvpx), AV1 (libaom)
// Audio: Opus (libopus), Vorbis (libvorbis), FLAC (libFLAC)
//
// # RTP Export
//
// Encoded chunks can be packetized into RTP packets (and reassembled from
// them) via the packetizers in rtpexport.go, for feeding a WebRTC-style
// transport without going through a full peer connection stack.
package webcodecs
