package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
)

// DeliveryQuality is the fixed JPEG quality of every delivered artifact.
const DeliveryQuality = 95

// EncodeJPEG writes the bitmap as a baseline JPEG.
func EncodeJPEG(b *Bitmap, quality int) ([]byte, error) {
	if b == nil || b.Width == 0 || b.Height == 0 {
		return nil, fmt.Errorf("imaging: nothing to encode")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, b, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("imaging: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Preview scales the bitmap down so its longest edge is at most maxEdge. Smaller bitmaps are returned as is.
func Preview(b *Bitmap, maxEdge int) *Bitmap {
	if b == nil || maxEdge <= 0 {
		return b
	}
	longest := b.Width
	if b.Height > longest {
		longest = b.Height
	}
	if longest <= maxEdge {
		return b
	}
	w := b.Width * maxEdge / longest
	h := b.Height * maxEdge / longest
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), b, b.Bounds(), xdraw.Src, nil)
	return FromImage(dst)
}

// PreviewJPEG is Preview followed by a JPEG encode at the given quality.
func PreviewJPEG(b *Bitmap, maxEdge, quality int) ([]byte, error) {
	return EncodeJPEG(Preview(b, maxEdge), quality)
}
