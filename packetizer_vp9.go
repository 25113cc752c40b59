package webcodecs

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// VP9Packetizer implements RTPVideoPacketizer for VP9 using pion's codecs.
type VP9Packetizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
	payloader   *codecs.VP9Payloader
	mu          sync.Mutex
}

// NewVP9Packetizer creates a new VP9 RTP packetizer.
func NewVP9Packetizer(ssrc uint32, pt uint8, mtu int) (*VP9Packetizer, error) {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &VP9Packetizer{
		ssrc:        ssrc,
		payloadType: pt,
		mtu:         mtu,
		sequencer:   rtp.NewRandomSequencer(),
		payloader:   &codecs.VP9Payloader{},
	}, nil
}

// Packetize converts an encoded VP9 chunk to RTP packets.
func (p *VP9Packetizer) Packetize(chunk *EncodedVideoChunk) ([]*rtp.Packet, error) {
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

	ts := rtpTimestamp(chunk.Timestamp(), VideoCodecVP9.ClockRate())
	packets := make([]*rtp.Packet, len(payloads))
	for i, payload := range payloads {
		packets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
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

// PacketizeToBytes converts an encoded VP9 chunk to raw RTP packet bytes.
func (p *VP9Packetizer) PacketizeToBytes(chunk *EncodedVideoChunk) ([][]byte, error) {
	packets, err := p.Packetize(chunk)
	if err != nil {
		return nil, err
	}
	return marshalRTPPackets(packets)
}

func (p *VP9Packetizer) SetSSRC(ssrc uint32)     { p.mu.Lock(); p.ssrc = ssrc; p.mu.Unlock() }
func (p *VP9Packetizer) SSRC() uint32            { p.mu.Lock(); defer p.mu.Unlock(); return p.ssrc }
func (p *VP9Packetizer) PayloadType() uint8      { p.mu.Lock(); defer p.mu.Unlock(); return p.payloadType }
func (p *VP9Packetizer) SetPayloadType(pt uint8) { p.mu.Lock(); p.payloadType = pt; p.mu.Unlock() }
func (p *VP9Packetizer) MTU() int                { p.mu.Lock(); defer p.mu.Unlock(); return p.mtu }
func (p *VP9Packetizer) SetMTU(mtu int)          { p.mu.Lock(); p.mtu = mtu; p.mu.Unlock() }
func (p *VP9Packetizer) Codec() VideoCodec       { return VideoCodecVP9 }

// VP9Depacketizer implements RTPVideoDepacketizer for VP9 using pion's codecs.
type VP9Depacketizer struct {
	depacketizer      codecs.VP9Packet
	buffer            []byte
	timestamp         uint32
	chunkType         ChunkType
	haveType          bool
	lastCompletedTs   uint32
	hasCompletedChunk bool
	mu                sync.Mutex
}

// NewVP9Depacketizer creates a new VP9 RTP depacketizer.
func NewVP9Depacketizer() (*VP9Depacketizer, error) {
	return &VP9Depacketizer{}, nil
}

// Depacketize processes an RTP packet and returns a complete chunk if one
// finished with this packet.
func (d *VP9Depacketizer) Depacketize(packet *rtp.Packet) (*EncodedVideoChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.depacketizer.Unmarshal(packet.Payload); err != nil {
		return nil, fmt.Errorf("VP9 unmarshal failed: %w", err)
	}

	// Discard late-arriving packets for already completed frames.
	if d.hasCompletedChunk && IsRTPTimestampOlder(packet.Header.Timestamp, d.lastCompletedTs) {
		return nil, nil
	}

	if d.timestamp != 0 && d.timestamp != packet.Header.Timestamp {
		d.buffer = d.buffer[:0]
	}
	d.timestamp = packet.Header.Timestamp

	if d.depacketizer.B { // beginning of frame
		if d.depacketizer.P { // inter-picture predicted
			d.chunkType = ChunkTypeDelta
		} else {
			d.chunkType = ChunkTypeKey
		}
		d.haveType = true
	}

	d.buffer = append(d.buffer, d.depacketizer.Payload...)

	// Frame complete when marker or end flag is set.
	if packet.Header.Marker || d.depacketizer.E {
		chunkType := ChunkTypeDelta
		if d.haveType {
			chunkType = d.chunkType
		}
		chunk, err := NewEncodedVideoChunk(EncodedVideoChunkInit{
			Type:      chunkType,
			Timestamp: microsFromRTPTimestamp(d.timestamp, VideoCodecVP9.ClockRate()),
			Data:      d.buffer,
		})

		d.lastCompletedTs = d.timestamp
		d.hasCompletedChunk = true
		d.buffer = d.buffer[:0]
		d.haveType = false
		return chunk, err
	}
	return nil, nil
}

// DepacketizeBytes processes raw RTP packet bytes.
func (d *VP9Depacketizer) DepacketizeBytes(data []byte) (*EncodedVideoChunk, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return d.Depacketize(&pkt)
}

// Reset clears any buffered partial frames and resets tracking state.
func (d *VP9Depacketizer) Reset() {
	d.mu.Lock()
	d.buffer = d.buffer[:0]
	d.timestamp = 0
	d.haveType = false
	d.lastCompletedTs = 0
	d.hasCompletedChunk = false
	d.mu.Unlock()
}

// Codec returns the codec type.
func (d *VP9Depacketizer) Codec() VideoCodec { return VideoCodecVP9 }

func init() {
	RegisterVideoPacketizer(VideoCodecVP9, func(ssrc uint32, pt uint8, mtu int) (RTPVideoPacketizer, error) {
		return NewVP9Packetizer(ssrc, pt, mtu)
	})
	RegisterVideoDepacketizer(VideoCodecVP9, func() (RTPVideoDepacketizer, error) {
		return NewVP9Depacketizer()
	})
}
