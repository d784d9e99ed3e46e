package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ErrDecode marks bytes that could not be turned into a Bitmap.
var ErrDecode = errors.New("imaging: decode failed")

// Bitmap is a decoded 3-channel RGB pixel grid. Pix holds width*height*3 bytes in row order.
type Bitmap struct {
	Width  int
	Height int
	Pix    []byte
}

// DecodeError carries the format hint and cause for a failed decode.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("imaging: decode %s: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("imaging: decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// Decode turns encoded JPEG, PNG or WebP bytes into an RGB bitmap.
func Decode(data []byte) (*Bitmap, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty payload")}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, &DecodeError{Format: format, Err: errors.New("zero-sized image")}
	}
	return FromImage(img), nil
}

// Sniff reports the container format of data without decoding pixels.
func Sniff(data []byte) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", false
	}
	return format, true
}

// FromImage flattens any image into RGB. Alpha is dropped.
func FromImage(img image.Image) *Bitmap {
	bounds := img.Bounds()
	nrgba := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(nrgba, nrgba.Bounds(), img, bounds.Min, draw.Src)

	w, h := bounds.Dx(), bounds.Dy()
	pix := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		dst := pix[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return &Bitmap{Width: w, Height: h, Pix: pix}
}

// Channels is always 3.
func (b *Bitmap) Channels() int { return 3 }

// ColorModel implements image.Image.
func (b *Bitmap) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (b *Bitmap) Bounds() image.Rectangle { return image.Rect(0, 0, b.Width, b.Height) }

// At implements image.Image.
func (b *Bitmap) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return color.RGBA{}
	}
	i := (y*b.Width + x) * 3
	return color.RGBA{R: b.Pix[i], G: b.Pix[i+1], B: b.Pix[i+2], A: 0xff}
}
