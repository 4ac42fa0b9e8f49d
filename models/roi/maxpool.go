package roi

import (
	"github.com/chewxy/math32"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-rcnn/common"
)

// MaxPool quantizes each region to the feature grid and takes the maximum of
// every bin. Empty bins yield 0.
type MaxPool struct{}

// Pool implements Pooler.
func (MaxPool) Pool(feature *tensor.Dense, regions []Region, outH, outW int, spatialScale float32) (*tensor.Dense, error) {
	f, err := prepare(feature, regions, outH, outW)
	if err != nil {
		return nil, err
	}

	out := make([]float32, len(regions)*f.c*outH*outW)
	for r, region := range regions {
		x1 := int(math32.Round(region.Box.X1 * spatialScale))
		y1 := int(math32.Round(region.Box.Y1 * spatialScale))
		x2 := int(math32.Round(region.Box.X2 * spatialScale))
		y2 := int(math32.Round(region.Box.Y2 * spatialScale))
		binH := float32(max(y2-y1+1, 1)) / float32(outH)
		binW := float32(max(x2-x1+1, 1)) / float32(outW)

		for c := 0; c < f.c; c++ {
			plane := f.plane(region.BatchIndex, c)
			dst := out[(r*f.c+c)*outH*outW:]
			for ph := 0; ph < outH; ph++ {
				hs := clampInt(int(math32.Floor(float32(ph)*binH))+y1, 0, f.h)
				he := clampInt(int(math32.Ceil(float32(ph+1)*binH))+y1, 0, f.h)
				for pw := 0; pw < outW; pw++ {
					ws := clampInt(int(math32.Floor(float32(pw)*binW))+x1, 0, f.w)
					we := clampInt(int(math32.Ceil(float32(pw+1)*binW))+x1, 0, f.w)
					if he <= hs || we <= ws {
						continue
					}
					best := math32.Inf(-1)
					for y := hs; y < he; y++ {
						for x := ws; x < we; x++ {
							best = max(best, plane[y*f.w+x])
						}
					}
					dst[ph*outW+pw] = best
				}
			}
		}
	}
	return common.NewFloat32(out, len(regions), f.c, outH, outW), nil
}

func clampInt(v, lo, hi int) int {
	return min(hi, max(lo, v))
}
