package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"

	"github.com/sentineldispatch/core/internal/model"
	"github.com/sentineldispatch/core/internal/svcerr"
)

// Detection is one object found in an image.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Detector runs deep inference against a downloaded image. Implementations
// are always called through a circuit breaker (the inference
// collaborator is external and may fail independently of Redis/NATS).
type Detector interface {
	Detect(ctx context.Context, image []byte, loc string, lite *model.LiteResults) ([]Detection, float64, error)
}

// HTTPDetector dispatches to an external inference service.
type HTTPDetector struct {
	URL    string
	Client *http.Client
}

func (d *HTTPDetector) Detect(ctx context.Context, image []byte, loc string, lite *model.LiteResults) ([]Detection, float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(image))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build inference request: %v", svcerr.ErrInferenceFailure, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Location", loc)

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", svcerr.ErrInferenceFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("%w: inference returned status %d", svcerr.ErrInferenceFailure, resp.StatusCode)
	}

	var out struct {
		Detections []Detection `json:"detections"`
		Confidence float64     `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, fmt.Errorf("%w: decode inference response: %v", svcerr.ErrInferenceFailure, err)
	}
	return out.Detections, out.Confidence, nil
}

// StubDetector produces deterministic, location-driven detections when no
// inference endpoint is configured, the same fallback shape the source
// worker used when its models were unavailable.
type StubDetector struct{}

func (StubDetector) Detect(ctx context.Context, image []byte, loc string, lite *model.LiteResults) ([]Detection, float64, error) {
	jitter := func(eventID string, spread float64) float64 {
		h := fnv.New32a()
		_, _ = io.WriteString(h, eventID)
		return float64(h.Sum32()%100) / spread
	}

	var dets []Detection
	switch loc {
	case "front_door", "back_door":
		dets = append(dets, Detection{Class: "person", Confidence: 0.70 + jitter(loc, 500.0)})
	case "driveway", "garage":
		dets = append(dets, Detection{Class: "car", Confidence: 0.60 + jitter(loc, 400.0)})
	}

	if lite != nil {
		if lite.Channels.Person && !containsClass(dets, "person") {
			dets = append(dets, Detection{Class: "person", Confidence: 0.80})
		}
		if lite.Channels.Vehicle && !containsClass(dets, "car") {
			dets = append(dets, Detection{Class: "car", Confidence: 0.70})
		}
	}

	return dets, 0.75, nil
}

func containsClass(dets []Detection, class string) bool {
	for _, d := range dets {
		if d.Class == class {
			return true
		}
	}
	return false
}
