package webcodecs

import "fmt"

// Rect is an integer pixel rectangle, used for codedRect/visibleRect.
type Rect struct {
	X, Y, Width, Height int
}

// PlaneLayout gives the byte offset and row stride of one plane within the
// frame's buffer.
type PlaneLayout struct {
	Offset int
	Stride int
}

// VideoFrameBufferInit mirrors the WebCodecs VideoFrameBufferInit dictionary
// used when constructing a VideoFrame directly from a pixel buffer.
type VideoFrameBufferInit struct {
	Format        PixelFormat
	CodedWidth    int
	CodedHeight   int
	Timestamp     int64
	Duration      *int64
	VisibleRect   *Rect
	DisplayWidth  *int
	DisplayHeight *int
	Layout        []PlaneLayout // optional; computed tight-packed if nil
	Transfer      bool
}

// VideoFrame owns a pixel buffer plus its plane layout and presentation
// geometry, mirroring the WebCodecs VideoFrame interface.
type VideoFrame struct {
	format        PixelFormat
	codedWidth    int
	codedHeight   int
	visibleRect   Rect
	displayWidth  int
	displayHeight int
	timestamp     int64
	duration      *int64
	layout        []PlaneLayout
	data          []byte
	closed        bool
}

// NewVideoFrame constructs a VideoFrame from a raw pixel buffer and its
// init dictionary.
func NewVideoFrame(data []byte, init VideoFrameBufferInit) (*VideoFrame, error) {
	if init.CodedWidth <= 0 || init.CodedHeight <= 0 {
		return nil, typeErrorf("codedWidth/codedHeight must be > 0, got %dx%d", init.CodedWidth, init.CodedHeight)
	}
	if (init.DisplayWidth == nil) != (init.DisplayHeight == nil) {
		return nil, typeErrorf("displayWidth and displayHeight must be specified together")
	}
	if init.DisplayWidth != nil && (*init.DisplayWidth <= 0 || *init.DisplayHeight <= 0) {
		return nil, typeErrorf("displayWidth/displayHeight must be > 0")
	}

	visible := Rect{0, 0, init.CodedWidth, init.CodedHeight}
	if init.VisibleRect != nil {
		visible = *init.VisibleRect
		if visible.X < 0 || visible.Y < 0 || visible.Width <= 0 || visible.Height <= 0 {
			return nil, typeErrorf("visibleRect fields must be non-negative and positive in size")
		}
		if visible.X+visible.Width > init.CodedWidth || visible.Y+visible.Height > init.CodedHeight {
			return nil, typeErrorf("visibleRect must lie within codedRect")
		}
		for plane := 0; plane < init.Format.PlaneCount(); plane++ {
			hssf, vssf, err := init.Format.SubsamplingFactor(plane)
			if err != nil {
				return nil, err
			}
			if visible.X%hssf != 0 || visible.Y%vssf != 0 {
				return nil, typeErrorf("visibleRect origin (%d,%d) is not aligned to plane %d subsampling (%d,%d)", visible.X, visible.Y, plane, hssf, vssf)
			}
		}
	}

	layout := init.Layout
	if layout == nil {
		var err error
		layout, err = tightPackLayout(init.Format, init.CodedWidth, init.CodedHeight)
		if err != nil {
			return nil, err
		}
	}

	buf, err := ownBuffer(data, init.Transfer)
	if err != nil {
		return nil, err
	}
	if !init.Transfer {
		buf, layout = rebaseToCoveringRegion(buf, layout, init.Format, init.CodedWidth, init.CodedHeight)
	}

	dw, dh := visible.Width, visible.Height
	if init.DisplayWidth != nil {
		dw, dh = *init.DisplayWidth, *init.DisplayHeight
	}

	return &VideoFrame{
		format:        init.Format,
		codedWidth:    init.CodedWidth,
		codedHeight:   init.CodedHeight,
		visibleRect:   visible,
		displayWidth:  dw,
		displayHeight: dh,
		timestamp:     init.Timestamp,
		duration:      init.Duration,
		layout:        layout,
		data:          buf,
	}, nil
}

// tightPackLayout computes a tight-packed plane layout in visit order.
func tightPackLayout(format PixelFormat, width, height int) ([]PlaneLayout, error) {
	planes := format.PlaneCount()
	layout := make([]PlaneLayout, planes)
	offset := 0
	for i := 0; i < planes; i++ {
		hssf, vssf, err := format.SubsamplingFactor(i)
		if err != nil {
			return nil, err
		}
		bps, err := format.BytesPerSample(i)
		if err != nil {
			return nil, err
		}
		planeW := ceilDiv(width, hssf)
		planeH := ceilDiv(height, vssf)
		stride := planeW * bps
		layout[i] = PlaneLayout{Offset: offset, Stride: stride}
		offset += stride * planeH
	}
	return layout, nil
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// rebaseToCoveringRegion slices buf down to [min offset, max offset+stride*rows)
// when the buffer was copied rather than transferred, and rebases each
// plane's offset accordingly, so only the bytes covering plane rows are
// retained.
func rebaseToCoveringRegion(buf []byte, layout []PlaneLayout, format PixelFormat, width, height int) ([]byte, []PlaneLayout) {
	if len(buf) == 0 || len(layout) == 0 {
		return buf, layout
	}
	minOff := layout[0].Offset
	maxEnd := 0
	for i, pl := range layout {
		if pl.Offset < minOff {
			minOff = pl.Offset
		}
		_, vssf, err := format.SubsamplingFactor(i)
		if err != nil {
			continue
		}
		rows := ceilDiv(height, vssf)
		end := pl.Offset + pl.Stride*rows
		if end > maxEnd {
			maxEnd = end
		}
	}
	if maxEnd > len(buf) {
		maxEnd = len(buf)
	}
	sliced := make([]byte, maxEnd-minOff)
	copy(sliced, buf[minOff:maxEnd])
	rebased := make([]PlaneLayout, len(layout))
	for i, pl := range layout {
		rebased[i] = PlaneLayout{Offset: pl.Offset - minOff, Stride: pl.Stride}
	}
	return sliced, rebased
}

func (f *VideoFrame) Format() PixelFormat   { return f.format }
func (f *VideoFrame) CodedWidth() int       { return f.codedWidth }
func (f *VideoFrame) CodedHeight() int      { return f.codedHeight }
func (f *VideoFrame) CodedRect() Rect       { return Rect{0, 0, f.codedWidth, f.codedHeight} }
func (f *VideoFrame) VisibleRect() Rect     { return f.visibleRect }
func (f *VideoFrame) DisplayWidth() int     { return f.displayWidth }
func (f *VideoFrame) DisplayHeight() int    { return f.displayHeight }
func (f *VideoFrame) Timestamp() int64      { return f.timestamp }
func (f *VideoFrame) Duration() *int64      { return f.duration }
func (f *VideoFrame) Layout() []PlaneLayout { return f.layout }
func (f *VideoFrame) Closed() bool          { return f.closed }

// NonSquarePixels reports whether the frame's sample aspect ratio is
// non-square, and if so the (sar_num, sar_den) pair.
func (f *VideoFrame) NonSquarePixels() (nonSquare bool, sarNum, sarDen int) {
	if f.displayWidth == f.visibleRect.Width && f.displayHeight == f.visibleRect.Height {
		return false, 1, 1
	}
	return true, f.displayWidth * f.visibleRect.Height, f.displayHeight * f.visibleRect.Width
}

// VideoFrameCopyToOptions mirrors VideoFrameCopyToOptions.
type VideoFrameCopyToOptions struct {
	Rect   *Rect
	Layout []PlaneLayout // optional destination layout override
}

type planeCopyPlan struct {
	destOffset, destStride int
	srcTop, srcHeight      int
	srcLeftBytes           int
	srcWidthBytes          int
}

// parseCopyToOptions implements the WebCodecs "Parse VideoFrameCopyToOptions"
// algorithm, yielding a combined per-plane copy plan.
func (f *VideoFrame) parseCopyToOptions(opts VideoFrameCopyToOptions) ([]planeCopyPlan, int, error) {
	region := f.visibleRect
	if opts.Rect != nil {
		region = *opts.Rect
	}
	planes := f.format.PlaneCount()
	plans := make([]planeCopyPlan, planes)

	destOffset := 0
	for i := 0; i < planes; i++ {
		hssf, vssf, err := f.format.SubsamplingFactor(i)
		if err != nil {
			return nil, 0, err
		}
		bps, err := f.format.BytesPerSample(i)
		if err != nil {
			return nil, 0, err
		}

		srcTop := region.Y / vssf
		srcHeight := ceilDiv(region.Height, vssf)
		srcLeftBytes := (region.X / hssf) * bps
		srcWidthBytes := ceilDiv(region.Width, hssf) * bps

		stride := srcWidthBytes
		offset := destOffset
		if opts.Layout != nil {
			if i >= len(opts.Layout) {
				return nil, 0, rangeErrorf("layout has %d planes, format needs %d", len(opts.Layout), planes)
			}
			stride = opts.Layout[i].Stride
			offset = opts.Layout[i].Offset
		}

		plans[i] = planeCopyPlan{
			destOffset:    offset,
			destStride:    stride,
			srcTop:        srcTop,
			srcHeight:     srcHeight,
			srcLeftBytes:  srcLeftBytes,
			srcWidthBytes: srcWidthBytes,
		}
		destOffset = offset + stride*srcHeight
	}

	if err := checkPlanesDisjoint(plans); err != nil {
		return nil, 0, err
	}

	total := 0
	for _, p := range plans {
		end := p.destOffset + p.destStride*p.srcHeight
		if end > total {
			total = end
		}
	}
	return plans, total, nil
}

func checkPlanesDisjoint(plans []planeCopyPlan) error {
	type span struct{ lo, hi int }
	spans := make([]span, len(plans))
	for i, p := range plans {
		spans[i] = span{p.destOffset, p.destOffset + p.destStride*p.srcHeight}
	}
	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].lo < spans[j].hi && spans[j].lo < spans[i].hi {
				return typeErrorf("destination plane layouts %d and %d overlap", i, j)
			}
		}
	}
	return nil
}

// AllocationSize returns the number of bytes CopyTo would write for opts.
func (f *VideoFrame) AllocationSize(opts VideoFrameCopyToOptions) (int, error) {
	if f.closed {
		return 0, stateErrorf("VideoFrame is closed")
	}
	_, total, err := f.parseCopyToOptions(opts)
	return total, err
}

// CopyTo copies pixel data for the visible (or overridden) rect into dest,
// row by row per plane.
func (f *VideoFrame) CopyTo(dest []byte, opts VideoFrameCopyToOptions) error {
	if f.closed {
		return stateErrorf("VideoFrame is closed")
	}
	plans, total, err := f.parseCopyToOptions(opts)
	if err != nil {
		return err
	}
	if len(dest) < total {
		return rangeErrorf("destination has %d bytes, need %d", len(dest), total)
	}
	for i, p := range plans {
		srcLayout := f.layout[i]
		for row := 0; row < p.srcHeight; row++ {
			srcRowOff := srcLayout.Offset + (p.srcTop+row)*srcLayout.Stride + p.srcLeftBytes
			dstRowOff := p.destOffset + row*p.destStride
			copy(dest[dstRowOff:dstRowOff+p.srcWidthBytes], f.data[srcRowOff:srcRowOff+p.srcWidthBytes])
		}
	}
	return nil
}

// Clone duplicates the frame, sharing no mutable state with the original.
func (f *VideoFrame) Clone() (*VideoFrame, error) {
	if f.closed {
		return nil, stateErrorf("VideoFrame is closed")
	}
	buf := make([]byte, len(f.data))
	copy(buf, f.data)
	layout := make([]PlaneLayout, len(f.layout))
	copy(layout, f.layout)
	var dur *int64
	if f.duration != nil {
		d := *f.duration
		dur = &d
	}
	return &VideoFrame{
		format:        f.format,
		codedWidth:    f.codedWidth,
		codedHeight:   f.codedHeight,
		visibleRect:   f.visibleRect,
		displayWidth:  f.displayWidth,
		displayHeight: f.displayHeight,
		timestamp:     f.timestamp,
		duration:      dur,
		layout:        layout,
		data:          buf,
	}, nil
}

// Close detaches the buffer; subsequent operations fail with InvalidState.
func (f *VideoFrame) Close() {
	f.closed = true
	f.data = nil
}

// rawPlanes exposes (read-only) plane byte slices for backend/encoder use.
func (f *VideoFrame) rawPlanes() ([][]byte, error) {
	planes := make([][]byte, len(f.layout))
	for i, pl := range f.layout {
		_, vssf, err := f.format.SubsamplingFactor(i)
		if err != nil {
			return nil, err
		}
		rows := ceilDiv(f.codedHeight, vssf)
		end := pl.Offset + pl.Stride*rows
		if end > len(f.data) {
			return nil, fmt.Errorf("%w: plane %d extends past buffer", ErrRange, i)
		}
		planes[i] = f.data[pl.Offset:end]
	}
	return planes, nil
}

// rawVideoPlanes is rawPlanes with each plane's stride attached, the shape
// video_encoder.go and scaler.go's rescaleFilter pass to the native backends.
func (f *VideoFrame) rawVideoPlanes() ([]rawVideoPlane, error) {
	raw, err := f.rawPlanes()
	if err != nil {
		return nil, err
	}
	out := make([]rawVideoPlane, len(raw))
	for i, data := range raw {
		out[i] = rawVideoPlane{Data: data, Stride: f.layout[i].Stride}
	}
	return out, nil
}
