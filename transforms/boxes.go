package transforms

import (
	"image"
	"math/rand/v2"

	"github.com/disintegration/imaging"

	"github.com/nvr-ai/go-rcnn/common"
)

// ResizeBoxes scales ground-truth boxes by (scaleX, scaleY).
func ResizeBoxes(gts []common.GroundTruth, scaleX, scaleY float32) []common.GroundTruth {
	out := make([]common.GroundTruth, len(gts))
	for i, gt := range gts {
		out[i] = common.GroundTruth{
			Box: common.Box{
				X1: gt.Box.X1 * scaleX,
				Y1: gt.Box.Y1 * scaleY,
				X2: gt.Box.X2 * scaleX,
				Y2: gt.Box.Y2 * scaleY,
			},
			Class: gt.Class,
		}
	}
	return out
}

// FlipBoxes mirrors ground-truth boxes horizontally inside an image of width.
func FlipBoxes(gts []common.GroundTruth, width float32) []common.GroundTruth {
	out := make([]common.GroundTruth, len(gts))
	for i, gt := range gts {
		out[i] = common.GroundTruth{
			Box:   common.Box{X1: width - gt.Box.X2, Y1: gt.Box.Y1, X2: width - gt.Box.X1, Y2: gt.Box.Y2},
			Class: gt.Class,
		}
	}
	return out
}

// FlipImage mirrors img horizontally.
func FlipImage(img image.Image) *image.NRGBA {
	return imaging.FlipH(img)
}

// RandomFlip reports whether to flip, with probability p.
func RandomFlip(rng *rand.Rand, p float64) bool {
	return rng.Float64() < p
}
