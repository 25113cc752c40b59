package webcodecs

import "encoding/binary"

// EncodedAudioChunkMetadata accompanies the first chunk an AudioEncoder
// emits after a configure: a decoder configuration a matching AudioDecoder
// could be initialized from, including any codec-specific description bytes
// (extradata). Later chunks in the same configuration epoch are delivered
// with a nil metadata argument.
type EncodedAudioChunkMetadata struct {
	DecoderConfig *AudioDecoderConfig
}

// EncodedVideoChunkMetadata is the video counterpart of
// EncodedAudioChunkMetadata.
type EncodedVideoChunkMetadata struct {
	DecoderConfig *VideoDecoderConfig
}

// opusHeadDescription builds the 19-byte OpusHead identification header for
// the encoder's decoder-config description. libopus itself carries no
// out-of-band extradata; OpusHead is the conventional description format
// for Opus in WebCodecs and in Ogg/ISO-BMFF mappings.
func opusHeadDescription(sampleRate, channels int) []byte {
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1              // version
	head[9] = byte(channels) // channel count
	// Pre-skip: 312 samples (6.5ms at 48kHz), libopus's encoder lookahead.
	binary.LittleEndian.PutUint16(head[10:12], 312)
	binary.LittleEndian.PutUint32(head[12:16], uint32(sampleRate))
	// Output gain 0, channel mapping family 0 (mono/stereo).
	return head
}

// flacStreamInfoDescription builds the "fLaC" marker plus a STREAMINFO
// metadata block, the description format FLAC decoders are initialized
// from. Frame-size and MD5 fields that are only known after encoding the
// whole stream are left zero, which the format defines as "unknown".
func flacStreamInfoDescription(sampleRate, channels, bitsPerSample int) []byte {
	out := make([]byte, 0, 4+4+34)
	out = append(out, 'f', 'L', 'a', 'C')
	// Metadata block header: last-block flag + type 0 (STREAMINFO), 34 bytes.
	out = append(out, 0x80, 0x00, 0x00, 0x22)

	info := make([]byte, 34)
	// Min/max block size (16 bits each): 0 = unknown.
	// Min/max frame size (24 bits each): 0 = unknown.
	// Sample rate (20 bits), channels-1 (3 bits), bps-1 (5 bits),
	// total samples (36 bits, 0 = unknown), packed big-endian from byte 10.
	sr := uint32(sampleRate)
	info[10] = byte(sr >> 12)
	info[11] = byte(sr >> 4)
	info[12] = byte(sr<<4) | byte((channels-1)<<1) | byte((bitsPerSample-1)>>4)
	info[13] = byte((bitsPerSample-1)&0x0F) << 4
	return append(out, info...)
}
