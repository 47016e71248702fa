package vision

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sync/singleflight"

	"github.com/your-org/faceid/internal/config"
	"github.com/your-org/faceid/internal/faceid"
)

// Extractor implements faceid.Extractor on top of ONNX Runtime. Models are
// loaded on first use unless Load is called eagerly; concurrent first callers
// share one load.
type Extractor struct {
	cfg config.VisionConfig
	dim int

	loads singleflight.Group
	ready atomic.Bool

	// mu serializes inference: sessions share their bound tensors.
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
}

var _ faceid.Extractor = (*Extractor)(nil)

// NewExtractor prepares an extractor producing dim-length embeddings.
func NewExtractor(cfg config.VisionConfig, dim int) *Extractor {
	return &Extractor{cfg: cfg, dim: dim}
}

func (x *Extractor) Ready() bool {
	return x.ready.Load()
}

// EnsureReady loads the models if needed, giving up when ctx ends. A load
// abandoned by ctx keeps running and is reused by the next caller.
func (x *Extractor) EnsureReady(ctx context.Context) error {
	if x.ready.Load() {
		return nil
	}
	ch := x.loads.DoChan("load", func() (interface{}, error) {
		return nil, x.load()
	})
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", faceid.ErrNotReady, ctx.Err())
	case res := <-ch:
		return res.Err
	}
}

// Load loads the models synchronously.
func (x *Extractor) Load() error {
	return x.EnsureReady(context.Background())
}

func (x *Extractor) load() error {
	if x.ready.Load() {
		return nil
	}
	start := time.Now()

	if !ort.IsInitialized() {
		lib := x.cfg.ONNXLibrary
		if lib == "" {
			lib = defaultLibraryPath()
		}
		ort.SetSharedLibraryPath(lib)
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("init onnx runtime: %w", err)
		}
	}

	detPath := filepath.Join(x.cfg.ModelsDir, x.cfg.DetectorModel)
	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(x.cfg.DetectionThreshold))
	if err != nil {
		return fmt.Errorf("load detector: %w", err)
	}

	embPath := filepath.Join(x.cfg.ModelsDir, x.cfg.EmbedderModel)
	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return fmt.Errorf("load embedder: %w", err)
	}
	if x.dim > 0 && emb.Dim() != x.dim {
		det.Close()
		emb.Close()
		return fmt.Errorf("%w: embedder produces %d values, store expects %d", faceid.ErrDimensionMismatch, emb.Dim(), x.dim)
	}

	x.mu.Lock()
	x.detector, x.embedder = det, emb
	x.mu.Unlock()
	x.ready.Store(true)

	slog.Info("extractor ready", "dim", emb.Dim(), "took", time.Since(start))
	return nil
}

// Extract detects the most confident face in image and returns its embedding.
func (x *Extractor) Extract(ctx context.Context, image []byte) (faceid.Embedding, error) {
	if err := x.EnsureReady(ctx); err != nil {
		return nil, err
	}

	img, err := decodeImage(image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faceid.ErrExtractionFailure, err)
	}
	b := img.Bounds()

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dets, err := x.detector.Detect(toCHW(img, x.detector.inputW, x.detector.inputH, detectionNorm), b.Dx(), b.Dy())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faceid.ErrExtractionFailure, err)
	}
	best, ok := bestDetection(dets)
	if !ok {
		return nil, faceid.ErrNoFaceDetected
	}
	face := cropFace(img, offset(best.BBox, b.Min.X, b.Min.Y))
	if face == nil {
		return nil, faceid.ErrNoFaceDetected
	}

	vec, err := x.embedder.Embed(toCHW(face, x.embedder.inputW, x.embedder.inputH, embeddingNorm))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", faceid.ErrExtractionFailure, err)
	}
	return faceid.FromFloat32(vec), nil
}

// offset shifts a box from bounds-relative to absolute image coordinates.
func offset(bbox [4]float32, dx, dy int) [4]float32 {
	fx, fy := float32(dx), float32(dy)
	return [4]float32{bbox[0] + fx, bbox[1] + fy, bbox[2] + fx, bbox[3] + fy}
}

// Close releases the ONNX sessions and the runtime environment.
func (x *Extractor) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ready.Store(false)

	if x.detector != nil {
		x.detector.Close()
		x.detector = nil
	}
	if x.embedder != nil {
		x.embedder.Close()
		x.embedder = nil
	}
	if ort.IsInitialized() {
		if err := ort.DestroyEnvironment(); err != nil {
			return fmt.Errorf("destroy onnx runtime: %w", err)
		}
	}
	return nil
}

func defaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
