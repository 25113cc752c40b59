package webcodecs

import (
	"sync"

	"github.com/pion/rtp"
)

// DefaultMTU is the packetizers' default maximum RTP packet size. 1200
// bytes keeps packets under typical path MTUs once transport overhead is
// added.
const DefaultMTU = 1200

// RTPVideoPacketizer splits an EncodedVideoChunk into one or more RTP
// packets. Implementations wrap pion's per-codec payloaders; they are the
// bridge between a VideoEncoder's output callback and an RTP transport.
type RTPVideoPacketizer interface {
	Packetize(chunk *EncodedVideoChunk) ([]*rtp.Packet, error)
}

// RTPVideoDepacketizer reassembles EncodedVideoChunks from RTP packets.
// Depacketize returns nil until a complete frame has been buffered.
type RTPVideoDepacketizer interface {
	Depacketize(pkt *rtp.Packet) (*EncodedVideoChunk, error)
	Reset()
}

// RTPAudioPacketizer is the audio counterpart of RTPVideoPacketizer.
type RTPAudioPacketizer interface {
	Packetize(chunk *EncodedAudioChunk) ([]*rtp.Packet, error)
}

// RTPAudioDepacketizer is the audio counterpart of RTPVideoDepacketizer.
type RTPAudioDepacketizer interface {
	Depacketize(pkt *rtp.Packet) (*EncodedAudioChunk, error)
	Reset()
}

type videoPacketizerFactory func(ssrc uint32, pt uint8, mtu int) (RTPVideoPacketizer, error)
type videoDepacketizerFactory func() (RTPVideoDepacketizer, error)
type audioPacketizerFactory func(ssrc uint32, pt uint8, mtu int) (RTPAudioPacketizer, error)
type audioDepacketizerFactory func() (RTPAudioDepacketizer, error)

var rtpRegistry struct {
	mu          sync.RWMutex
	videoPack   map[VideoCodec]videoPacketizerFactory
	videoDepack map[VideoCodec]videoDepacketizerFactory
	audioPack   map[AudioCodec]audioPacketizerFactory
	audioDepack map[AudioCodec]audioDepacketizerFactory
}

// RegisterVideoPacketizer installs a packetizer factory for a codec. Called
// from the per-codec init() in the packetizer files.
func RegisterVideoPacketizer(codec VideoCodec, factory func(ssrc uint32, pt uint8, mtu int) (RTPVideoPacketizer, error)) {
	rtpRegistry.mu.Lock()
	defer rtpRegistry.mu.Unlock()
	if rtpRegistry.videoPack == nil {
		rtpRegistry.videoPack = make(map[VideoCodec]videoPacketizerFactory)
	}
	rtpRegistry.videoPack[codec] = factory
}

// RegisterVideoDepacketizer installs a depacketizer factory for a codec.
func RegisterVideoDepacketizer(codec VideoCodec, factory func() (RTPVideoDepacketizer, error)) {
	rtpRegistry.mu.Lock()
	defer rtpRegistry.mu.Unlock()
	if rtpRegistry.videoDepack == nil {
		rtpRegistry.videoDepack = make(map[VideoCodec]videoDepacketizerFactory)
	}
	rtpRegistry.videoDepack[codec] = factory
}

// RegisterAudioPacketizer installs a packetizer factory for a codec.
func RegisterAudioPacketizer(codec AudioCodec, factory func(ssrc uint32, pt uint8, mtu int) (RTPAudioPacketizer, error)) {
	rtpRegistry.mu.Lock()
	defer rtpRegistry.mu.Unlock()
	if rtpRegistry.audioPack == nil {
		rtpRegistry.audioPack = make(map[AudioCodec]audioPacketizerFactory)
	}
	rtpRegistry.audioPack[codec] = factory
}

// RegisterAudioDepacketizer installs a depacketizer factory for a codec.
func RegisterAudioDepacketizer(codec AudioCodec, factory func() (RTPAudioDepacketizer, error)) {
	rtpRegistry.mu.Lock()
	defer rtpRegistry.mu.Unlock()
	if rtpRegistry.audioDepack == nil {
		rtpRegistry.audioDepack = make(map[AudioCodec]audioDepacketizerFactory)
	}
	rtpRegistry.audioDepack[codec] = factory
}

// NewRTPVideoPacketizer returns a packetizer for the codec, or
// ErrProviderNotFound if none is registered. mtu <= 0 selects DefaultMTU;
// pt == 0 selects the codec's default dynamic payload type.
func NewRTPVideoPacketizer(codec VideoCodec, ssrc uint32, pt uint8, mtu int) (RTPVideoPacketizer, error) {
	rtpRegistry.mu.RLock()
	factory, ok := rtpRegistry.videoPack[codec]
	rtpRegistry.mu.RUnlock()
	if !ok {
		return nil, ErrProviderNotFound
	}
	if pt == 0 {
		pt = codec.DefaultPayloadType()
	}
	return factory(ssrc, pt, mtu)
}

// NewRTPVideoDepacketizer returns a depacketizer for the codec, or
// ErrProviderNotFound if none is registered.
func NewRTPVideoDepacketizer(codec VideoCodec) (RTPVideoDepacketizer, error) {
	rtpRegistry.mu.RLock()
	factory, ok := rtpRegistry.videoDepack[codec]
	rtpRegistry.mu.RUnlock()
	if !ok {
		return nil, ErrProviderNotFound
	}
	return factory()
}

// NewRTPAudioPacketizer returns a packetizer for the codec, or
// ErrProviderNotFound if none is registered.
func NewRTPAudioPacketizer(codec AudioCodec, ssrc uint32, pt uint8, mtu int) (RTPAudioPacketizer, error) {
	rtpRegistry.mu.RLock()
	factory, ok := rtpRegistry.audioPack[codec]
	rtpRegistry.mu.RUnlock()
	if !ok {
		return nil, ErrProviderNotFound
	}
	if pt == 0 {
		pt = codec.DefaultPayloadType()
	}
	return factory(ssrc, pt, mtu)
}

// NewRTPAudioDepacketizer returns a depacketizer for the codec, or
// ErrProviderNotFound if none is registered.
func NewRTPAudioDepacketizer(codec AudioCodec) (RTPAudioDepacketizer, error) {
	rtpRegistry.mu.RLock()
	factory, ok := rtpRegistry.audioDepack[codec]
	rtpRegistry.mu.RUnlock()
	if !ok {
		return nil, ErrProviderNotFound
	}
	return factory()
}

// rtpTimestamp converts a chunk timestamp in microseconds to RTP clock
// units, truncating toward zero.
func rtpTimestamp(timestampMicros int64, clockRate uint32) uint32 {
	return uint32(timestampMicros * int64(clockRate) / 1e6)
}

// microsFromRTPTimestamp is the inverse of rtpTimestamp, modulo the RTP
// timestamp's 32-bit wraparound.
func microsFromRTPTimestamp(ts uint32, clockRate uint32) int64 {
	return int64(ts) * 1e6 / int64(clockRate)
}

// IsRTPTimestampOlder reports whether a predates b in RTP timestamp order,
// accounting for 32-bit wraparound per RFC 3550.
func IsRTPTimestampOlder(a, b uint32) bool {
	return int32(a-b) < 0
}

// marshalRTPPackets serializes packets to wire bytes, shared by the
// per-codec PacketizeToBytes helpers.
func marshalRTPPackets(packets []*rtp.Packet) ([][]byte, error) {
	out := make([][]byte, len(packets))
	for i, pkt := range packets {
		b, err := pkt.Marshal()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
