package webcodecs

// ScaleMode defines how scaling should handle aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeFit scales to fit within target dimensions, preserving aspect ratio (may letterbox).
	ScaleModeFit ScaleMode = iota
	// ScaleModeFill scales to fill target dimensions, preserving aspect ratio (may crop).
	ScaleModeFill
	// ScaleModeStretch scales to exactly match target dimensions (may distort).
	ScaleModeStretch
)

// rescaleFilter is the video encoder's rescale filter: a
// plain Go bilinear resizer over I420 planes, lazily constructed and keyed
// by (srcWidth, srcHeight) the way audio_encoder.go's resampleFilter is
// keyed by (inRate, inChannels). VideoEncoderConfig always pins an exact
// target size, so the filter runs in ScaleModeStretch.
type rescaleFilter struct {
	srcWidth, srcHeight int
	dstWidth, dstHeight int
	mode                ScaleMode

	outY, outU, outV []byte
}

// newRescaleFilter builds a filter for one (srcWidth,srcHeight)->(dstWidth,dstHeight)
// conversion.
func newRescaleFilter(srcWidth, srcHeight, dstWidth, dstHeight int, mode ScaleMode) *rescaleFilter {
	ySize := dstWidth * dstHeight
	uvSize := ((dstWidth + 1) / 2) * ((dstHeight + 1) / 2)

	return &rescaleFilter{
		srcWidth:  srcWidth,
		srcHeight: srcHeight,
		dstWidth:  dstWidth,
		dstHeight: dstHeight,
		mode:      mode,
		outY:      make([]byte, ySize),
		outU:      make([]byte, uvSize),
		outV:      make([]byte, uvSize),
	}
}

// matches reports whether this filter already targets the requested
// geometry, so video_encoder.go can reuse it across frames.
func (s *rescaleFilter) matches(srcWidth, srcHeight, dstWidth, dstHeight int) bool {
	return s.srcWidth == srcWidth && s.srcHeight == srcHeight && s.dstWidth == dstWidth && s.dstHeight == dstHeight
}

// scale resizes an I420 plane set (as produced by video_frame.go's
// rawPlanes) to the filter's target dimensions.
func (s *rescaleFilter) scale(planes []rawVideoPlane) []rawVideoPlane {
	if s.srcWidth == s.dstWidth && s.srcHeight == s.dstHeight {
		return planes
	}

	srcX, srcY, srcW, srcH := s.calculateSourceRegion(s.srcWidth, s.srcHeight)

	dstUVW, dstUVH := (s.dstWidth+1)/2, (s.dstHeight+1)/2

	s.scalePlane(planes[0].Data, planes[0].Stride, srcX, srcY, srcW, srcH, s.outY, s.dstWidth, s.dstWidth, s.dstHeight)
	s.scalePlane(planes[1].Data, planes[1].Stride, srcX/2, srcY/2, srcW/2, srcH/2, s.outU, dstUVW, dstUVW, dstUVH)
	s.scalePlane(planes[2].Data, planes[2].Stride, srcX/2, srcY/2, srcW/2, srcH/2, s.outV, dstUVW, dstUVW, dstUVH)

	return []rawVideoPlane{
		{Data: s.outY, Stride: s.dstWidth},
		{Data: s.outU, Stride: dstUVW},
		{Data: s.outV, Stride: dstUVW},
	}
}

// calculateSourceRegion determines what region of the source to use based on scale mode.
func (s *rescaleFilter) calculateSourceRegion(srcW, srcH int) (x, y, w, h int) {
	switch s.mode {
	case ScaleModeFill:
		srcAspect := float64(srcW) / float64(srcH)
		dstAspect := float64(s.dstWidth) / float64(s.dstHeight)

		if srcAspect > dstAspect {
			newW := int(float64(srcH) * dstAspect)
			return (srcW - newW) / 2, 0, newW, srcH
		} else if srcAspect < dstAspect {
			newH := int(float64(srcW) / dstAspect)
			return 0, (srcH - newH) / 2, srcW, newH
		}
		return 0, 0, srcW, srcH

	default: // ScaleModeFit, ScaleModeStretch
		return 0, 0, srcW, srcH
	}
}

// scalePlane scales a single plane using bilinear interpolation.
func (s *rescaleFilter) scalePlane(src []byte, srcStride, srcX, srcY, srcW, srcH int,
	dst []byte, dstStride, dstW, dstH int) {

	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	// Fixed-point scaling factors (16.16)
	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		srcYFP := y * yRatio
		srcYInt := srcYFP >> 16
		srcYFrac := srcYFP & 0xFFFF

		y0 := srcYInt + srcY
		y1 := y0 + 1
		if y1 >= srcY+srcH {
			y1 = y0
		}

		for x := 0; x < dstW; x++ {
			srcXFP := x * xRatio
			srcXInt := srcXFP >> 16
			srcXFrac := srcXFP & 0xFFFF

			x0 := srcXInt + srcX
			x1 := x0 + 1
			if x1 >= srcX+srcW {
				x1 = x0
			}

			p00 := int(src[y0*srcStride+x0])
			p10 := int(src[y0*srcStride+x1])
			p01 := int(src[y1*srcStride+x0])
			p11 := int(src[y1*srcStride+x1])

			xWeight := srcXFrac
			yWeight := srcYFrac

			top := (p00*(0x10000-xWeight) + p10*xWeight) >> 16
			bottom := (p01*(0x10000-xWeight) + p11*xWeight) >> 16
			result := (top*(0x10000-yWeight) + bottom*yWeight) >> 16

			dst[y*dstStride+x] = byte(result)
		}
	}
}

// calculateScaledSize returns the output dimensions when fitting srcW x srcH
// within maxW x maxH preserving aspect ratio, used by ScaleModeFit.
func calculateScaledSize(srcW, srcH, maxW, maxH int, mode ScaleMode) (w, h int) {
	switch mode {
	case ScaleModeFit:
		srcAspect := float64(srcW) / float64(srcH)
		dstAspect := float64(maxW) / float64(maxH)

		if srcAspect > dstAspect {
			w = maxW
			h = int(float64(maxW) / srcAspect)
		} else {
			h = maxH
			w = int(float64(maxH) * srcAspect)
		}
		w = (w + 1) &^ 1
		h = (h + 1) &^ 1
		return w, h

	default: // ScaleModeFill, ScaleModeStretch
		return maxW, maxH
	}
}
