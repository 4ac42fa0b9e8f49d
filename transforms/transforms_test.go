package transforms

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/models/rpn"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func twoPixels() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	img.SetRGBA(1, 0, color.RGBA{G: 255, A: 255})
	return img
}

func TestResizeShortWithin(t *testing.T) {
	tests := []struct {
		name       string
		w, h       int
		short, max int
		wantW      int
		wantH      int
		wantScale  float32
	}{
		{name: "short side", w: 200, h: 100, short: 50, max: 1000, wantW: 100, wantH: 50, wantScale: 0.5},
		{name: "long side capped", w: 400, h: 100, short: 100, max: 200, wantW: 200, wantH: 50, wantScale: 0.5},
		{name: "portrait", w: 100, h: 300, short: 200, max: 1000, wantW: 200, wantH: 600, wantScale: 2},
		{name: "unchanged", w: 100, h: 50, short: 50, max: 1000, wantW: 100, wantH: 50, wantScale: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, scale := ResizeShortWithin(solid(tt.w, tt.h, color.RGBA{A: 255}), tt.short, tt.max)
			assert.Equal(t, tt.wantW, out.Bounds().Dx())
			assert.Equal(t, tt.wantH, out.Bounds().Dy())
			assert.InDelta(t, tt.wantScale, scale, 1e-6)
		})
	}
}

func TestToTensor(t *testing.T) {
	x := ToTensor(twoPixels(), [3]float32{}, [3]float32{1, 1, 1})
	assert.Equal(t, []int{1, 3, 1, 2}, []int(x.Shape()))
	assert.Equal(t, []float32{1, 0, 0, 1, 0, 0}, x.Data().([]float32))

	x = ToTensor(twoPixels(), DefaultMean, DefaultStd)
	data := x.Data().([]float32)
	assert.InDelta(t, (1-0.485)/0.229, data[0], 1e-5)
	assert.InDelta(t, -0.406/0.225, data[4], 1e-5)
}

func TestFlip(t *testing.T) {
	flipped := FlipImage(twoPixels())
	assert.Equal(t, color.NRGBA{G: 255, A: 255}, flipped.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, flipped.NRGBAAt(1, 0))

	gts := []common.GroundTruth{{Box: common.Box{X1: 10, Y1: 20, X2: 30, Y2: 40}, Class: 3}}
	out := FlipBoxes(gts, 100)
	assert.Equal(t, common.Box{X1: 70, Y1: 20, X2: 90, Y2: 40}, out[0].Box)
	assert.Equal(t, 3, out[0].Class)
	assert.Equal(t, gts, FlipBoxes(out, 100))
	assert.Equal(t, float32(10), gts[0].Box.X1, "input must not be modified")
}

func TestResizeBoxes(t *testing.T) {
	gts := []common.GroundTruth{{Box: common.Box{X1: 10, Y1: 20, X2: 30, Y2: 40}, Class: 1}}
	out := ResizeBoxes(gts, 0.5, 2)
	assert.Equal(t, common.Box{X1: 5, Y1: 40, X2: 15, Y2: 80}, out[0].Box)
	assert.Equal(t, 1, out[0].Class)
}

func TestRandomFlip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for range 20 {
		assert.False(t, RandomFlip(rng, 0))
		assert.True(t, RandomFlip(rng, 1))
	}
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(4, 3, color.RGBA{R: 9, A: 255})))
	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())

	buf.Reset()
	require.NoError(t, webp.Encode(&buf, solid(5, 2, color.RGBA{B: 200, A: 255}), &webp.Options{Lossless: true}))
	img, err = Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 5, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())

	_, err = Decode(nil)
	assert.Error(t, err)
	_, err = Decode([]byte("not an image"))
	assert.Error(t, err)
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(3, 3, color.RGBA{A: 255})))
	path := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())

	_, err = LoadImage(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestListImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "c.WEBP", "a.png", "d.jpeg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "e.png"), 0o755))

	paths, err := ListImages(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "c.WEBP"),
		filepath.Join(dir, "d.jpeg"),
	}, paths)

	_, err = ListImages(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestTestPreset(t *testing.T) {
	p, err := NewTestPreset(PresetConfig{Short: 50, MaxSize: 1000, Std: [3]float32{1, 1, 1}})
	require.NoError(t, err)

	s := p.Apply(solid(200, 100, color.RGBA{A: 255}))
	assert.Equal(t, []int{1, 3, 50, 100}, []int(s.Image.Shape()))
	assert.Equal(t, float32(0.5), s.ScaleX)
	assert.Equal(t, float32(0.5), s.ScaleY)
	assert.Equal(t, common.Box{X1: 20, Y1: 10, X2: 40, Y2: 20}, s.Unscale(common.Box{X1: 10, Y1: 5, X2: 20, Y2: 10}))
	assert.Nil(t, s.RPN)
}

func TestTrainPreset(t *testing.T) {
	cfg := DefaultPresetConfig()
	cfg.Short = 50
	cfg.FlipProb = 1
	gts := []common.GroundTruth{{Box: common.Box{X1: 0, Y1: 0, X2: 20, Y2: 10}, Class: 1}}

	t.Run("flip", func(t *testing.T) {
		p, err := NewTrainPreset(cfg, rand.NewPCG(1, 2))
		require.NoError(t, err)

		s, err := p.Apply(solid(200, 100, color.RGBA{A: 255}), gts)
		require.NoError(t, err)
		assert.True(t, s.Flipped)
		assert.Equal(t, []int{1, 3, 50, 100}, []int(s.Image.Shape()))
		assert.Equal(t, common.Box{X1: 90, Y1: 0, X2: 100, Y2: 5}, s.GroundTruth[0].Box)
		assert.Nil(t, s.RPN)
	})

	t.Run("rpn targets", func(t *testing.T) {
		anchors, err := rpn.NewAnchorGenerator(rpn.DefaultAnchorConfig())
		require.NoError(t, err)
		targets, err := rpn.NewTargetGenerator(rpn.DefaultTargetConfig(), rand.NewPCG(3, 4))
		require.NoError(t, err)

		noFlip := cfg
		noFlip.FlipProb = 0
		p, err := NewTrainPreset(noFlip, rand.NewPCG(1, 2))
		require.NoError(t, err)
		p.WithRPNTargets(anchors, targets)

		s, err := p.Apply(solid(200, 100, color.RGBA{A: 255}), gts)
		require.NoError(t, err)
		assert.False(t, s.Flipped)
		require.NotNil(t, s.RPN)
		// 50x100 image on stride 16 gives a 3x6 grid of 15 anchors each.
		assert.Len(t, s.RPN.Objectness, 3*6*15)
		assert.Len(t, s.RPN.BoxTargets, 3*6*15)
	})
}

func TestPresetConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PresetConfig)
	}{
		{name: "short", mutate: func(c *PresetConfig) { c.Short = 0 }},
		{name: "std", mutate: func(c *PresetConfig) { c.Std[1] = 0 }},
		{name: "flip", mutate: func(c *PresetConfig) { c.FlipProb = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultPresetConfig()
			tt.mutate(&cfg)
			_, err := NewTestPreset(cfg)
			assert.ErrorIs(t, err, common.ErrConfiguration)
			_, err = NewTrainPreset(cfg, rand.NewPCG(1, 1))
			assert.ErrorIs(t, err, common.ErrConfiguration)
		})
	}

	_, err := NewTrainPreset(DefaultPresetConfig(), nil)
	assert.ErrorIs(t, err, common.ErrConfiguration)
}
