package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// normalization is applied per channel as (pixel - mean) / std.
type normalization struct {
	mean, std [3]float32
}

var (
	detectionNorm = normalization{mean: [3]float32{127.5, 127.5, 127.5}, std: [3]float32{128, 128, 128}}
	embeddingNorm = normalization{mean: [3]float32{127.5, 127.5, 127.5}, std: [3]float32{127.5, 127.5, 127.5}}
)

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("decode image: empty bounds %v", b)
	}
	return img, nil
}

// toCHW scales img to w×h and lays it out as [3][h][w] normalized float32.
func toCHW(img image.Image, w, h int, n normalization) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := dst.PixOffset(x, y)
			idx := y*w + x
			for c := 0; c < 3; c++ {
				data[c*plane+idx] = (float32(dst.Pix[off+c]) - n.mean[c]) / n.std[c]
			}
		}
	}
	return data
}

// cropFace cuts bbox out of img, padded by 10% on each side and clamped to
// the image. It returns nil for an empty box.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	if bbox[2] <= bbox[0] || bbox[3] <= bbox[1] {
		return nil
	}
	b := img.Bounds()
	r := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])).Intersect(b)
	if r.Empty() {
		return nil
	}

	padW, padH := r.Dx()/10, r.Dy()/10
	r = image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH).Intersect(b)

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(crop, image.Point{}, img, r, draw.Src, nil)
	return crop
}

// bestDetection returns the most confident detection.
func bestDetection(dets []Detection) (Detection, bool) {
	if len(dets) == 0 {
		return Detection{}, false
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best, true
}
