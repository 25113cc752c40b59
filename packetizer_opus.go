package webcodecs

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// OpusPacketizer implements RTPAudioPacketizer for Opus using pion's codecs.
// Opus always runs on a 48kHz RTP clock regardless of the encoder's actual
// sample rate.
type OpusPacketizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
	payloader   *codecs.OpusPayloader
	mu          sync.Mutex
}

// NewOpusPacketizer creates a new Opus RTP packetizer.
func NewOpusPacketizer(ssrc uint32, pt uint8, mtu int) (*OpusPacketizer, error) {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &OpusPacketizer{
		ssrc:        ssrc,
		payloadType: pt,
		mtu:         mtu,
		sequencer:   rtp.NewRandomSequencer(),
		payloader:   &codecs.OpusPayloader{},
	}, nil
}

// Packetize converts an encoded Opus chunk to RTP packets.
func (p *OpusPacketizer) Packetize(chunk *EncodedAudioChunk) ([]*rtp.Packet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data := chunk.Bytes()
	if len(data) == 0 {
		return nil, nil
	}

	payloads := p.payloader.Payload(uint16(p.mtu-12), data)
	if len(payloads) == 0 {
		return nil, nil
	}

	ts := rtpTimestamp(chunk.Timestamp(), AudioCodecOpus.ClockRate(0))
	packets := make([]*rtp.Packet, len(payloads))
	for i, payload := range payloads {
		packets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         true, // audio sets the marker on every packet
				PayloadType:    p.payloadType,
				SequenceNumber: p.sequencer.NextSequenceNumber(),
				Timestamp:      ts,
				SSRC:           p.ssrc,
			},
			Payload: payload,
		}
	}
	return packets, nil
}

// PacketizeToBytes converts an encoded Opus chunk to raw RTP packet bytes.
func (p *OpusPacketizer) PacketizeToBytes(chunk *EncodedAudioChunk) ([][]byte, error) {
	packets, err := p.Packetize(chunk)
	if err != nil {
		return nil, err
	}
	return marshalRTPPackets(packets)
}

func (p *OpusPacketizer) SetSSRC(ssrc uint32)     { p.mu.Lock(); p.ssrc = ssrc; p.mu.Unlock() }
func (p *OpusPacketizer) SSRC() uint32            { p.mu.Lock(); defer p.mu.Unlock(); return p.ssrc }
func (p *OpusPacketizer) PayloadType() uint8      { p.mu.Lock(); defer p.mu.Unlock(); return p.payloadType }
func (p *OpusPacketizer) SetPayloadType(pt uint8) { p.mu.Lock(); p.payloadType = pt; p.mu.Unlock() }
func (p *OpusPacketizer) MTU() int                { p.mu.Lock(); defer p.mu.Unlock(); return p.mtu }
func (p *OpusPacketizer) SetMTU(mtu int)          { p.mu.Lock(); p.mtu = mtu; p.mu.Unlock() }

// OpusDepacketizer implements RTPAudioDepacketizer for Opus. Every Opus
// packet is an independently decodable frame, so there is no reassembly
// state.
type OpusDepacketizer struct {
	depacketizer codecs.OpusPacket
	mu           sync.Mutex
}

// NewOpusDepacketizer creates a new Opus RTP depacketizer.
func NewOpusDepacketizer() (*OpusDepacketizer, error) {
	return &OpusDepacketizer{}, nil
}

// Depacketize extracts an encoded Opus chunk from an RTP packet.
func (d *OpusDepacketizer) Depacketize(packet *rtp.Packet) (*EncodedAudioChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(packet.Payload) == 0 {
		return nil, nil
	}

	return NewEncodedAudioChunk(EncodedAudioChunkInit{
		Type:      ChunkTypeKey, // Opus frames are independent
		Timestamp: microsFromRTPTimestamp(packet.Header.Timestamp, AudioCodecOpus.ClockRate(0)),
		Data:      packet.Payload,
	})
}

// DepacketizeBytes processes raw RTP packet bytes.
func (d *OpusDepacketizer) DepacketizeBytes(data []byte) (*EncodedAudioChunk, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return d.Depacketize(&pkt)
}

// Reset clears any buffered state (no-op for Opus).
func (d *OpusDepacketizer) Reset() {}

func init() {
	RegisterAudioPacketizer(AudioCodecOpus, func(ssrc uint32, pt uint8, mtu int) (RTPAudioPacketizer, error) {
		return NewOpusPacketizer(ssrc, pt, mtu)
	})
	RegisterAudioDepacketizer(AudioCodecOpus, func() (RTPAudioDepacketizer, error) {
		return NewOpusDepacketizer()
	})
}
