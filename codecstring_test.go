package webcodecs

import (
	"errors"
	"testing"
)

func TestParseCodecString(t *testing.T) {
	tests := []struct {
		in         string
		base       string
		vp9Profile VP9Profile
		av1Profile AV1Profile
		bitDepth   int
	}{
		{"vp8", "vp8", 0, 0, 0},
		{"vp09.00.10.08", "vp09", VP9Profile0, 0, 8},
		{"vp09.02.10.10", "vp09", VP9Profile2, 0, 10},
		{"av01.0.04M.08", "av01", 0, AV1ProfileMain, 8},
		{"av01.2.04M.12", "av01", 0, AV1ProfileProfessional, 12},
		{"opus", "opus", 0, 0, 0},
	}
	for _, tt := range tests {
		p := parseCodecString(tt.in)
		if p.base != tt.base {
			t.Errorf("%q: base = %q, want %q", tt.in, p.base, tt.base)
		}
		if p.vp9Profile != tt.vp9Profile {
			t.Errorf("%q: vp9Profile = %v, want %v", tt.in, p.vp9Profile, tt.vp9Profile)
		}
		if p.av1Profile != tt.av1Profile {
			t.Errorf("%q: av1Profile = %v, want %v", tt.in, p.av1Profile, tt.av1Profile)
		}
		if p.bitDepth != tt.bitDepth {
			t.Errorf("%q: bitDepth = %d, want %d", tt.in, p.bitDepth, tt.bitDepth)
		}
	}
}

func TestResolveVideoCodec(t *testing.T) {
	codec, family, _, err := resolveVideoCodec("vp8")
	if err != nil || codec != VideoCodecVP8 || family != backendVPX {
		t.Errorf("vp8: %v/%v/%v", codec, family, err)
	}
	codec, family, _, err = resolveVideoCodec("vp09.00.10.08")
	if err != nil || codec != VideoCodecVP9 || family != backendVPX {
		t.Errorf("vp09: %v/%v/%v", codec, family, err)
	}
	codec, family, _, err = resolveVideoCodec("av01.0.04M.08")
	if err != nil || codec != VideoCodecAV1 || family != backendAOM {
		t.Errorf("av01: %v/%v/%v", codec, family, err)
	}

	// MPEG-family identifiers are recognized but unsupported.
	if _, _, _, err := resolveVideoCodec("avc1.42E01E"); !errors.Is(err, ErrNotSupported) {
		t.Errorf("avc1: %v, want NotSupported", err)
	}
	// Unknown identifiers are a TypeError.
	if _, _, _, err := resolveVideoCodec("theora"); !errors.Is(err, ErrType) {
		t.Errorf("theora: %v, want TypeError", err)
	}
}

func TestResolveAudioCodec(t *testing.T) {
	for _, tt := range []struct {
		in     string
		codec  AudioCodec
		family backendFamily
	}{
		{"opus", AudioCodecOpus, backendOpus},
		{"vorbis", AudioCodecVorbis, backendVorbis},
		{"flac", AudioCodecFLAC, backendFLAC},
	} {
		codec, family, _, err := resolveAudioCodec(tt.in)
		if err != nil || codec != tt.codec || family != tt.family {
			t.Errorf("%q: %v/%v/%v", tt.in, codec, family, err)
		}
	}

	if _, _, _, err := resolveAudioCodec("mp4a.40.2"); !errors.Is(err, ErrNotSupported) {
		t.Errorf("mp4a: %v, want NotSupported", err)
	}
	if _, _, _, err := resolveAudioCodec("speex"); !errors.Is(err, ErrType) {
		t.Errorf("speex: %v, want TypeError", err)
	}
}

func TestCodecClockRates(t *testing.T) {
	if VideoCodecVP8.ClockRate() != 90000 || VideoCodecAV1.ClockRate() != 90000 {
		t.Error("video codecs use the 90kHz RTP clock")
	}
	if AudioCodecOpus.ClockRate(44100) != 48000 {
		t.Error("Opus always uses a 48kHz RTP clock")
	}
	if AudioCodecFLAC.ClockRate(44100) != 44100 {
		t.Error("FLAC clock rate follows the sample rate")
	}
}
