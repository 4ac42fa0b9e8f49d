package roi

import (
	"github.com/chewxy/math32"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-rcnn/common"
)

// DefaultSamplingRatio is the number of bilinear samples per bin along each axis.
const DefaultSamplingRatio = 2

// Align samples each bin on a regular SamplingRatio x SamplingRatio grid with
// bilinear interpolation and averages the samples. Region coordinates are not
// quantized.
type Align struct {
	SamplingRatio int
}

// Pool implements Pooler.
func (a Align) Pool(feature *tensor.Dense, regions []Region, outH, outW int, spatialScale float32) (*tensor.Dense, error) {
	f, err := prepare(feature, regions, outH, outW)
	if err != nil {
		return nil, err
	}
	grid := a.SamplingRatio
	if grid <= 0 {
		grid = DefaultSamplingRatio
	}
	count := float32(grid * grid)

	out := make([]float32, len(regions)*f.c*outH*outW)
	for r, region := range regions {
		x1 := region.Box.X1 * spatialScale
		y1 := region.Box.Y1 * spatialScale
		roiW := max(region.Box.X2*spatialScale-x1, 1)
		roiH := max(region.Box.Y2*spatialScale-y1, 1)
		binH := roiH / float32(outH)
		binW := roiW / float32(outW)

		for c := 0; c < f.c; c++ {
			plane := f.plane(region.BatchIndex, c)
			dst := out[(r*f.c+c)*outH*outW:]
			for ph := 0; ph < outH; ph++ {
				for pw := 0; pw < outW; pw++ {
					var sum float32
					for iy := 0; iy < grid; iy++ {
						y := y1 + float32(ph)*binH + (float32(iy)+0.5)*binH/float32(grid)
						for ix := 0; ix < grid; ix++ {
							x := x1 + float32(pw)*binW + (float32(ix)+0.5)*binW/float32(grid)
							sum += bilinear(plane, f.h, f.w, y, x)
						}
					}
					dst[ph*outW+pw] = sum / count
				}
			}
		}
	}
	return common.NewFloat32(out, len(regions), f.c, outH, outW), nil
}

// bilinear interpolates plane (h, w) at (y, x). Points more than one pixel
// outside the map contribute 0; points at the border are clamped onto it.
func bilinear(plane []float32, h, w int, y, x float32) float32 {
	if h <= 0 || w <= 0 {
		return 0
	}
	if y < -1 || y > float32(h) || x < -1 || x > float32(w) {
		return 0
	}
	y = max(y, 0)
	x = max(x, 0)

	yl := int(math32.Floor(y))
	xl := int(math32.Floor(x))
	yh, xh := yl+1, xl+1
	if yl >= h-1 {
		yl, yh = h-1, h-1
		y = float32(yl)
	}
	if xl >= w-1 {
		xl, xh = w-1, w-1
		x = float32(xl)
	}

	ly := y - float32(yl)
	lx := x - float32(xl)
	hy := 1 - ly
	hx := 1 - lx
	return hy*hx*plane[yl*w+xl] + hy*lx*plane[yl*w+xh] + ly*hx*plane[yh*w+xl] + ly*lx*plane[yh*w+xh]
}
