package webcodecs

import "strconv"

// codecStringParams holds the dot-separated sub-parameters of a codec
// identifier string, e.g. "vp09.00.10.08" or "av01.0.04M.08".
// Only the parameters that select a backend variant or bit depth are
// interpreted; anything past that (level, chroma subsampling flags, colour
// primaries, ...) is kept only as raw text in case a caller wants to
// inspect it.
type codecStringParams struct {
	raw        string
	base       string
	parts      []string
	vp9Profile VP9Profile
	av1Profile AV1Profile
	bitDepth   int // 0 if not present/parseable
}

// parseCodecString splits a codec identifier on '.' and, for vp09/av01,
// extracts the profile and bit-depth sub-parameters used by resolveVideoCodec
// and the backend configuration code to pick 10/12-bit decode paths.
func parseCodecString(codecString string) codecStringParams {
	parts := splitDot(codecString)
	p := codecStringParams{raw: codecString, parts: parts}
	if len(parts) == 0 {
		return p
	}
	p.base = parts[0]

	switch p.base {
	case "vp09":
		if len(parts) > 1 {
			if n, err := strconv.Atoi(parts[1]); err == nil && n >= 0 && n <= 3 {
				p.vp9Profile = VP9Profile(n)
			}
		}
		if len(parts) > 3 {
			if n, err := strconv.Atoi(parts[3]); err == nil {
				p.bitDepth = n
			}
		}
	case "av01":
		if len(parts) > 1 {
			if n, err := strconv.Atoi(parts[1]); err == nil && n >= 0 && n <= 2 {
				p.av1Profile = AV1Profile(n)
			}
		}
		if len(parts) > 3 {
			if n, err := strconv.Atoi(parts[3]); err == nil {
				p.bitDepth = n
			}
		}
	}
	return p
}

func splitDot(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
