// Package transforms - Image decoding, resizing and normalization presets.
package transforms

import (
	"bytes"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp" // register decoder
)

// Decode decodes JPEG, PNG, BMP or WebP bytes.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	if isWebP(data) {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "decoding webp")
		}
		return img, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decoding image")
	}
	return img, nil
}

func isWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// LoadImage reads and decodes an image file.
func LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	img, err := Decode(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return img, nil
}

// ImageExtensions are the file extensions ListImages accepts.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// ListImages returns the image files of dir sorted by name.
//
// Arguments:
//   - dir: Directory path containing image files. Subdirectories are skipped.
//
// Returns:
//   - []string: Paths of files whose extension is in ImageExtensions.
//   - error: Error if the directory cannot be read.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range ImageExtensions {
			if ext == want {
				paths = append(paths, filepath.Join(dir, e.Name()))
				break
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}
