package vrt

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/corona10/goimagehash"
	"github.com/k1LoW/errors"
	"github.com/k1LoW/vrt/geom"
)

// DefaultMaxDistance is the perceptual hash distance under which two images
// are taken as equivalent.
const DefaultMaxDistance = 5

// Image is a decoded capture with its encoded bytes and perceptual hash
// computed on demand.
type Image struct {
	i        image.Image
	b        []byte
	checksum uint32
	pHash    *goimagehash.ImageHash
}

func NewImage(img image.Image) *Image {
	return &Image{i: img}
}

// DecodeImage decodes PNG, JPEG or GIF bytes.
func DecodeImage(b []byte) (_ *Image, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &Image{i: img, b: b}, nil
}

// LoadImage reads an image from a file path or an http(s) URL. client may be
// nil for files. Images from URLs are downloaded once per process.
func LoadImage(ctx context.Context, client *http.Client, pathOrURL string) (_ *Image, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	var r io.Reader
	remote := strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://")
	if remote {
		if i, ok := LoadImageCache(pathOrURL); ok {
			return i, nil
		}
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pathOrURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch image from URL %s: %w", pathOrURL, err)
		}
		req.Header.Set("User-Agent", userAgent)
		res, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch image from URL %s: %w", pathOrURL, err)
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("failed to fetch image from URL %s: status code %d", pathOrURL, res.StatusCode)
		}
		r = res.Body
	} else {
		f, err := os.Open(pathOrURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open image file %s: %w", pathOrURL, err)
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	i, err := DecodeImage(b)
	if err != nil {
		return nil, err
	}
	if remote {
		StoreImageCache(pathOrURL, i)
	}
	return i, nil
}

func (i *Image) Image() image.Image {
	if i == nil {
		return nil
	}
	return i.i
}

// Bytes returns the encoded image, PNG-encoding decoded-only images.
func (i *Image) Bytes() (_ []byte, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	if i == nil {
		return nil, fmt.Errorf("image is nil")
	}
	if i.b == nil {
		buf := new(bytes.Buffer)
		if err := png.Encode(buf, i.i); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		i.b = buf.Bytes()
	}
	return i.b, nil
}

func (i *Image) Checksum() uint32 {
	if i == nil {
		return 0
	}
	if i.checksum == 0 {
		b, err := i.Bytes()
		if err != nil {
			return 0
		}
		i.checksum = crc32.ChecksumIEEE(b)
	}
	return i.checksum
}

func (i *Image) PHash() (_ *goimagehash.ImageHash, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	if i == nil {
		return nil, fmt.Errorf("image is nil")
	}
	if i.pHash == nil {
		pHash, err := goimagehash.PerceptionHash(i.i)
		if err != nil {
			return nil, fmt.Errorf("failed to compute perceptual hash: %w", err)
		}
		i.pHash = pHash
	}
	return i.pHash, nil
}

// Distance returns the perceptual hash distance to ii.
func (i *Image) Distance(ii *Image) (_ int, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	a, err := i.PHash()
	if err != nil {
		return 0, err
	}
	b, err := ii.PHash()
	if err != nil {
		return 0, err
	}
	return a.Distance(b)
}

// Equivalent reports whether two images look the same: identical sizes and
// either identical bytes or a perceptual hash distance below maxDistance.
func (i *Image) Equivalent(ii *Image, maxDistance int) bool {
	if i == nil || ii == nil {
		return false
	}
	if i.i.Bounds().Size() != ii.i.Bounds().Size() {
		return false
	}
	if i.Checksum() == ii.Checksum() {
		return true
	}
	d, err := i.Distance(ii)
	if err != nil {
		return false
	}
	return d < maxDistance
}

// Equivalent compares a and b as Image.Equivalent does and also returns
// their perceptual hash distance.
func Equivalent(a, b image.Image, maxDistance int) (bool, int, error) {
	ia, ib := NewImage(a), NewImage(b)
	d, err := ia.Distance(ib)
	if err != nil {
		return false, 0, err
	}
	return ia.Equivalent(ib, maxDistance), d, nil
}

// WritePNG encodes img as PNG to w.
func WritePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return errors.WithStack(fmt.Errorf("failed to encode png: %w", err))
	}
	return nil
}

// cropImage copies r (screenshot coordinates relative to the image origin)
// into a new image starting at 0,0.
func cropImage(img image.Image, r geom.Region) *image.RGBA {
	b := img.Bounds()
	return cropRect(img, image.Rect(b.Min.X+r.Left, b.Min.Y+r.Top, b.Min.X+r.Right(), b.Min.Y+r.Bottom()))
}

func cropRect(img image.Image, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// pasteImage copies the src rectangle of img (relative to its origin) into
// dst at the given point, overwriting what is there.
func pasteImage(dst *image.RGBA, at geom.Location, img image.Image, src geom.Region) {
	b := img.Bounds()
	r := image.Rect(at.X, at.Y, at.X+src.Width, at.Y+src.Height)
	draw.Draw(dst, r, img, image.Pt(b.Min.X+src.Left, b.Min.Y+src.Top), draw.Src)
}

func imageRegion(img image.Image) geom.Region {
	b := img.Bounds()
	return geom.NewRegion(0, 0, b.Dx(), b.Dy()).WithCoordinatesType(geom.ScreenshotAsIs)
}

func logImage(img image.Image) slog.Attr {
	b := img.Bounds()
	return slog.String("image", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()))
}
