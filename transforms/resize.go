package transforms

import (
	"image"
	"math"

	"github.com/nfnt/resize"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-rcnn/common"
)

// Default normalization statistics of ImageNet-pretrained backbones.
var (
	DefaultMean = [3]float32{0.485, 0.456, 0.406}
	DefaultStd  = [3]float32{0.229, 0.224, 0.225}
)

// ResizeShortWithin resizes img so its short side is short, unless that makes
// the long side exceed maxSize, in which case the long side becomes maxSize.
// The aspect ratio is kept.
//
// Arguments:
//   - img: Source image.
//   - short: Target short side.
//   - maxSize: Upper bound of the long side. <= 0 disables it.
//
// Returns:
//   - image.Image: The resized image (img itself when the size is unchanged).
//   - float32: The applied scale.
//
// @example
// img, scale := ResizeShortWithin(src, 600, 1000) // 1280x720 -> 1000x563, scale 0.78125
func ResizeShortWithin(img image.Image, short, maxSize int) (image.Image, float32) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	sizeMin, sizeMax := min(w, h), max(w, h)
	if sizeMin == 0 {
		return img, 1
	}

	scale := float64(short) / float64(sizeMin)
	if maxSize > 0 && math.RoundToEven(scale*float64(sizeMax)) > float64(maxSize) {
		scale = float64(maxSize) / float64(sizeMax)
	}
	nw := int(math.RoundToEven(float64(w) * scale))
	nh := int(math.RoundToEven(float64(h) * scale))
	if nw == w && nh == h {
		return img, 1
	}
	return resize.Resize(uint(nw), uint(nh), img, resize.Bilinear), float32(scale)
}

// ToTensor converts img to a normalized (1, 3, H, W) float32 tensor:
// (pixel/255 - mean) / std per RGB channel.
func ToTensor(img image.Image, mean, std [3]float32) *tensor.Dense {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	data := make([]float32, 3*plane)

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			data[i] = (float32(r>>8)/255 - mean[0]) / std[0]
			data[plane+i] = (float32(g>>8)/255 - mean[1]) / std[1]
			data[2*plane+i] = (float32(bl>>8)/255 - mean[2]) / std[2]
			i++
		}
	}
	return common.NewFloat32(data, 1, 3, h, w)
}
