package webcodecs

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

// AV1Packetizer implements RTPVideoPacketizer for AV1 using pion's
// AV1Payloader, which implements the RTP payload format for AV1.
type AV1Packetizer struct {
	ssrc        uint32
	payloadType uint8
	mtu         int
	sequencer   rtp.Sequencer
	payloader   *codecs.AV1Payloader
	mu          sync.Mutex
}

// NewAV1Packetizer creates a new AV1 RTP packetizer.
func NewAV1Packetizer(ssrc uint32, payloadType uint8, mtu int) *AV1Packetizer {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &AV1Packetizer{
		ssrc:        ssrc,
		payloadType: payloadType,
		mtu:         mtu,
		sequencer:   rtp.NewRandomSequencer(),
		payloader:   &codecs.AV1Payloader{},
	}
}

// Packetize converts an encoded AV1 chunk into RTP packets. The chunk's
// payload is a sequence of OBUs (Open Bitstream Units), as produced by the
// libaom backend.
func (p *AV1Packetizer) Packetize(chunk *EncodedVideoChunk) ([]*rtp.Packet, error) {
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

	ts := rtpTimestamp(chunk.Timestamp(), VideoCodecAV1.ClockRate())
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

// PacketizeToBytes converts an encoded AV1 chunk to raw RTP packet bytes.
func (p *AV1Packetizer) PacketizeToBytes(chunk *EncodedVideoChunk) ([][]byte, error) {
	packets, err := p.Packetize(chunk)
	if err != nil {
		return nil, err
	}
	return marshalRTPPackets(packets)
}

func (p *AV1Packetizer) SetSSRC(ssrc uint32)     { p.mu.Lock(); p.ssrc = ssrc; p.mu.Unlock() }
func (p *AV1Packetizer) SSRC() uint32            { p.mu.Lock(); defer p.mu.Unlock(); return p.ssrc }
func (p *AV1Packetizer) PayloadType() uint8      { p.mu.Lock(); defer p.mu.Unlock(); return p.payloadType }
func (p *AV1Packetizer) SetPayloadType(pt uint8) { p.mu.Lock(); p.payloadType = pt; p.mu.Unlock() }
func (p *AV1Packetizer) MTU() int                { p.mu.Lock(); defer p.mu.Unlock(); return p.mtu }
func (p *AV1Packetizer) SetMTU(mtu int)          { p.mu.Lock(); p.mtu = mtu; p.mu.Unlock() }
func (p *AV1Packetizer) Codec() VideoCodec       { return VideoCodecAV1 }

// AV1Depacketizer reassembles AV1 chunks from RTP packets. It parses the
// AV1 aggregation format with pion's AV1Packet, then rewrites OBUs into the
// size-delimited low-overhead format libaom's decoder expects, caching the
// sequence header from keyframes so a decoder joining mid-stream can pick
// up at the next delta frame.
type AV1Depacketizer struct {
	av1Packet         codecs.AV1Packet
	obuBuffer         []byte
	seqHeader         []byte
	timestamp         uint32
	chunkType         ChunkType
	haveType          bool
	lastCompletedTs   uint32
	hasCompletedChunk bool
	mu                sync.Mutex
}

// NewAV1Depacketizer creates a new AV1 RTP depacketizer.
func NewAV1Depacketizer() *AV1Depacketizer {
	return &AV1Depacketizer{}
}

// Depacketize processes an RTP packet and returns a complete chunk if one
// finished with this packet.
func (d *AV1Depacketizer) Depacketize(pkt *rtp.Packet) (*EncodedVideoChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(pkt.Payload) < 1 {
		return nil, nil
	}

	// Discard late-arriving packets for already completed frames.
	if d.hasCompletedChunk && IsRTPTimestampOlder(pkt.Header.Timestamp, d.lastCompletedTs) {
		return nil, nil
	}

	if d.timestamp != 0 && d.timestamp != pkt.Header.Timestamp {
		d.obuBuffer = d.obuBuffer[:0]
	}
	d.timestamp = pkt.Header.Timestamp

	obus, err := d.av1Packet.Unmarshal(pkt.Payload)
	if err != nil {
		return nil, nil // drop corrupt packets
	}

	// N flags the start of a new coded video sequence.
	if d.av1Packet.N {
		d.chunkType = ChunkTypeKey
		d.haveType = true
	} else if !d.haveType || d.chunkType != ChunkTypeKey {
		d.chunkType = ChunkTypeDelta
		d.haveType = true
	}

	for _, obu := range d.av1Packet.OBUElements {
		if len(obu) > 0 {
			d.obuBuffer = append(d.obuBuffer, av1EnsureOBUSize(obu)...)
		}
	}
	// Unmarshal also returns the trailing bytes (last OBU fragment or a
	// complete OBU).
	if len(obus) > 0 {
		d.obuBuffer = append(d.obuBuffer, av1EnsureOBUSize(obus)...)
	}

	if pkt.Header.Marker {
		isKey := d.chunkType == ChunkTypeKey
		if isKey {
			if seqHdr := av1ExtractSequenceHeader(d.obuBuffer); seqHdr != nil {
				d.seqHeader = seqHdr
			}
		}

		frameData := av1NormalizeOBUs(d.obuBuffer, d.seqHeader, isKey)

		chunk, cerr := NewEncodedVideoChunk(EncodedVideoChunkInit{
			Type:      d.chunkType,
			Timestamp: microsFromRTPTimestamp(d.timestamp, VideoCodecAV1.ClockRate()),
			Data:      frameData,
			Transfer:  true,
		})

		d.lastCompletedTs = d.timestamp
		d.hasCompletedChunk = true
		d.obuBuffer = d.obuBuffer[:0]
		d.haveType = false
		return chunk, cerr
	}

	return nil, nil
}

// DepacketizeBytes processes raw RTP packet bytes.
func (d *AV1Depacketizer) DepacketizeBytes(data []byte) (*EncodedVideoChunk, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		return nil, err
	}
	return d.Depacketize(&pkt)
}

// Reset clears any buffered partial frames.
func (d *AV1Depacketizer) Reset() {
	d.mu.Lock()
	d.obuBuffer = d.obuBuffer[:0]
	d.timestamp = 0
	d.haveType = false
	d.lastCompletedTs = 0
	d.hasCompletedChunk = false
	d.mu.Unlock()
}

// Codec returns the codec type.
func (d *AV1Depacketizer) Codec() VideoCodec { return VideoCodecAV1 }

// av1ExtractSequenceHeader extracts the sequence header OBU from frame data.
func av1ExtractSequenceHeader(data []byte) []byte {
	offset := 0
	for offset < len(data) {
		header := data[offset]
		forbidden := (header >> 7) & 0x01
		obuType := (header >> 3) & 0x0F
		extFlag := (header >> 2) & 0x01
		hasSize := (header >> 1) & 0x01

		if forbidden != 0 {
			break
		}

		headerSize := 1
		if extFlag == 1 {
			headerSize = 2
		}

		if offset+headerSize > len(data) {
			break
		}

		if hasSize == 1 {
			sizeOffset := offset + headerSize
			if sizeOffset >= len(data) {
				break
			}
			obuPayloadSize, sizeBytes := av1ReadLEB128(data[sizeOffset:])
			if sizeBytes == 0 {
				break
			}

			totalOBULen := headerSize + sizeBytes + int(obuPayloadSize)
			if offset+totalOBULen > len(data) {
				break
			}

			if obuType == 1 {
				return data[offset : offset+totalOBULen]
			}

			offset += totalOBULen
		} else {
			// OBU without size field is the last OBU.
			if obuType == 1 {
				return data[offset:]
			}
			break
		}
	}
	return nil
}

// av1NormalizeOBUs converts reassembled RTP AV1 data to a format libaom can
// decode: a Temporal Delimiter OBU at the front, plus the cached sequence
// header ahead of delta frames that lack one.
func av1NormalizeOBUs(data []byte, seqHeader []byte, isKeyframe bool) []byte {
	if len(data) == 0 {
		return data
	}

	var result []byte

	// Temporal Delimiter OBU: header 0x12 (type=2, hasSize=1), empty payload.
	result = append(result, 0x12, 0x00)

	if !isKeyframe && seqHeader != nil {
		hasSeqHdr := false
		header := data[0]
		forbidden := (header >> 7) & 0x01
		obuType := (header >> 3) & 0x0F
		if forbidden == 0 && obuType == 1 {
			hasSeqHdr = true
		}
		if !hasSeqHdr {
			result = append(result, seqHeader...)
		}
	}

	result = append(result, data...)
	return result
}

// av1EnsureOBUSize takes an OBU element and ensures it carries a size
// field: an OBU with hasSize=1 is returned unchanged, otherwise the header
// is rewritten and a LEB128 size field inserted.
func av1EnsureOBUSize(obu []byte) []byte {
	if len(obu) == 0 {
		return obu
	}

	header := obu[0]
	hasSize := (header >> 1) & 0x01
	extFlag := (header >> 2) & 0x01

	if hasSize == 1 {
		return obu
	}

	headerSize := 1
	if extFlag == 1 {
		headerSize = 2
	}

	if len(obu) < headerSize {
		return obu
	}

	payloadLen := len(obu) - headerSize

	newHeader := header | 0x02 // set hasSize
	result := []byte{newHeader}

	if extFlag == 1 && len(obu) > 1 {
		result = append(result, obu[1])
	}

	result = append(result, av1WriteLEB128(uint64(payloadLen))...)
	result = append(result, obu[headerSize:]...)

	return result
}

// av1ReadLEB128 reads a LEB128 encoded value, returning the value and the
// number of bytes consumed (0 if invalid).
func av1ReadLEB128(data []byte) (uint64, int) {
	var value uint64
	for i := 0; i < len(data) && i < 8; i++ {
		b := data[i]
		value |= uint64(b&0x7F) << (i * 7)
		if (b & 0x80) == 0 {
			return value, i + 1
		}
	}
	return 0, 0
}

// av1WriteLEB128 encodes a value as LEB128.
func av1WriteLEB128(value uint64) []byte {
	if value == 0 {
		return []byte{0}
	}
	var result []byte
	for value > 0 {
		b := byte(value & 0x7F)
		value >>= 7
		if value > 0 {
			b |= 0x80
		}
		result = append(result, b)
	}
	return result
}

func init() {
	RegisterVideoPacketizer(VideoCodecAV1, func(ssrc uint32, pt uint8, mtu int) (RTPVideoPacketizer, error) {
		return NewAV1Packetizer(ssrc, pt, mtu), nil
	})
	RegisterVideoDepacketizer(VideoCodecAV1, func() (RTPVideoDepacketizer, error) {
		return NewAV1Depacketizer(), nil
	})
}
