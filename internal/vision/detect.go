package vision

import (
	"fmt"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is a face found in the source image, in source pixel coordinates.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
	Landmarks  [5][2]float32
}

// Detector runs RetinaFace (det_10g) through ONNX Runtime. It is not safe for
// concurrent use; callers serialize Detect.
type Detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	outputs   []*ort.Tensor[float32]
	threshold float32
	inputW    int
	inputH    int
}

var strides = []int{8, 16, 32}

const (
	anchorsPerCell = 2
	nmsIoU         = 0.4
)

// det_10g output names, grouped as scores, boxes, landmarks for strides 8, 16, 32.
var detectorOutputs = [9]string{"448", "471", "494", "451", "474", "497", "454", "477", "500"}

func NewDetector(modelPath string, threshold float32) (*Detector, error) {
	const inputW, inputH = 640, 640

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, inputH, inputW))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	d := &Detector{input: input, threshold: threshold, inputW: inputW, inputH: inputH}
	values := make([]ort.Value, 0, len(detectorOutputs))
	for _, width := range []int64{1, 4, 10} {
		for _, stride := range strides {
			anchors := int64((inputW / stride) * (inputH / stride) * anchorsPerCell)
			t, err := ort.NewEmptyTensor[float32](ort.NewShape(anchors, width))
			if err != nil {
				d.Close()
				return nil, fmt.Errorf("create output tensor %s: %w", detectorOutputs[len(d.outputs)], err)
			}
			d.outputs = append(d.outputs, t)
			values = append(values, t)
		}
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, detectorOutputs[:],
		[]ort.Value{input}, values, nil)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// Detect runs detection on CHW input prepared by toCHW and returns
// NMS-filtered faces scaled to origW×origH.
func (d *Detector) Detect(chw []float32, origW, origH int) ([]Detection, error) {
	copy(d.input.GetData(), chw)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	var dets []Detection
	for si, stride := range strides {
		dets = append(dets, decodeStride(stride, anchorGrid{
			w: d.inputW / stride, h: d.inputH / stride,
			scaleX: float32(origW) / float32(d.inputW),
			scaleY: float32(origH) / float32(d.inputH),
			maxX:   float32(origW), maxY: float32(origH),
		}, d.threshold,
			d.outputs[si].GetData(),
			d.outputs[si+3].GetData(),
			d.outputs[si+6].GetData())...)
	}
	return nms(dets, nmsIoU), nil
}

type anchorGrid struct {
	w, h           int
	scaleX, scaleY float32
	maxX, maxY     float32
}

// decodeStride turns one stride's anchor outputs into detections. Boxes are
// encoded as distances from the anchor centre in stride units.
func decodeStride(stride int, g anchorGrid, threshold float32, scores, boxes, landmarks []float32) []Detection {
	var out []Detection
	st := float32(stride)
	idx := 0
	for cy := 0; cy < g.h; cy++ {
		for cx := 0; cx < g.w; cx++ {
			for a := 0; a < anchorsPerCell; a, idx = a+1, idx+1 {
				if idx >= len(scores) || scores[idx] < threshold {
					continue
				}
				ax, ay := float32(cx)*st, float32(cy)*st
				b := boxes[idx*4 : idx*4+4]

				det := Detection{
					BBox: [4]float32{
						clampF((ax-b[0]*st)*g.scaleX, 0, g.maxX),
						clampF((ay-b[1]*st)*g.scaleY, 0, g.maxY),
						clampF((ax+b[2]*st)*g.scaleX, 0, g.maxX),
						clampF((ay+b[3]*st)*g.scaleY, 0, g.maxY),
					},
					Confidence: scores[idx],
				}
				if len(landmarks) >= idx*10+10 {
					for li := 0; li < 5; li++ {
						det.Landmarks[li][0] = (ax + landmarks[idx*10+li*2]*st) * g.scaleX
						det.Landmarks[li][1] = (ay + landmarks[idx*10+li*2+1]*st) * g.scaleY
					}
				}
				out = append(out, det)
			}
		}
	}
	return out
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, t := range d.outputs {
		t.Destroy()
	}
}

// nms keeps the most confident box of every overlapping cluster.
func nms(dets []Detection, iouThreshold float32) []Detection {
	sort.Slice(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	var kept []Detection
outer:
	for _, d := range dets {
		for _, k := range kept {
			if iou(d.BBox, k.BBox) > iouThreshold {
				continue outer
			}
		}
		kept = append(kept, d)
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	x1, y1 := max(a[0], b[0]), max(a[1], b[1])
	x2, y2 := min(a[2], b[2]), min(a[3], b[3])

	inter := max(0, x2-x1) * max(0, y2-y1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
