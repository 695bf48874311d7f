package recognize

import (
	"fmt"
	"sync"

	"github.com/Kagami/go-face"
)

// RecognizerWrapper owns the dlib recognizer together with the loaded
// gallery samples. The sample set can be swapped or edited while
// detection requests are in flight, so it lives behind its own lock.
type RecognizerWrapper struct {
	rec       *face.Recognizer
	tolerance float32

	mu    sync.RWMutex
	faces []FaceInfo
}

// NewRecognizerWrapper loads the dlib models from modelsDir. The
// directory must contain the three go-face model files
// (shape_predictor_5_face_landmarks.dat, dlib_face_recognition_resnet_model_v1.dat,
// mmod_human_face_detector.dat).
func NewRecognizerWrapper(modelsDir string, tolerance float32) (*RecognizerWrapper, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("initialize recognizer from %q: %w", modelsDir, err)
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	return &RecognizerWrapper{rec: rec, tolerance: tolerance}, nil
}

func (w *RecognizerWrapper) Close() {
	w.rec.Close()
}

// Detect finds every face in the image and returns its rectangle and
// descriptor. Non-JPEG input is transcoded first.
func (w *RecognizerWrapper) Detect(img []byte) ([]face.Face, error) {
	jpg, err := ToJPEG(img)
	if err != nil {
		return nil, err
	}

	return w.rec.Recognize(jpg)
}

// EncodeSingle computes the descriptor of the single face in the
// image. ok is false when the image does not contain exactly one face.
func (w *RecognizerWrapper) EncodeSingle(img []byte) (face.Descriptor, bool, error) {
	jpg, err := ToJPEG(img)
	if err != nil {
		return face.Descriptor{}, false, err
	}
	f, err := w.rec.RecognizeSingle(jpg)
	if err != nil {
		return face.Descriptor{}, false, err
	}
	if f == nil {
		return face.Descriptor{}, false, nil
	}

	return f.Descriptor, true, nil
}

// Match returns the label of the nearest gallery sample within
// tolerance. When nothing is within tolerance ok is false and dist is
// the distance to the nearest sample (-1 with an empty gallery).
func (w *RecognizerWrapper) Match(probe face.Descriptor) (label string, dist float32, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	known := make([]face.Descriptor, len(w.faces))
	for i := range w.faces {
		known[i] = w.faces[i].Descriptor
	}
	idx, dist, ok := BestMatch(known, probe, w.tolerance)
	if !ok {
		return "", dist, false
	}

	return w.faces[idx].Label, dist, true
}

// SetSamples replaces the whole gallery sample set.
func (w *RecognizerWrapper) SetSamples(faces []FaceInfo) {
	w.mu.Lock()
	w.faces = append([]FaceInfo(nil), faces...)
	w.mu.Unlock()
}

// AddSample appends one enrolled face.
func (w *RecognizerWrapper) AddSample(fi FaceInfo) {
	w.mu.Lock()
	w.faces = append(w.faces, fi)
	w.mu.Unlock()
}

// RemoveLabel drops every sample with the given label and reports how
// many were removed.
func (w *RecognizerWrapper) RemoveLabel(label string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.faces[:0]
	removed := 0
	for _, fi := range w.faces {
		if fi.Label == label {
			removed++
			continue
		}
		kept = append(kept, fi)
	}
	w.faces = kept

	return removed
}

// Labels returns the distinct labels currently loaded, in load order.
func (w *RecognizerWrapper) Labels() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	seen := make(map[string]bool, len(w.faces))
	labels := make([]string, 0, len(w.faces))
	for _, fi := range w.faces {
		if !seen[fi.Label] {
			seen[fi.Label] = true
			labels = append(labels, fi.Label)
		}
	}

	return labels
}

// Count returns the number of loaded samples.
func (w *RecognizerWrapper) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return len(w.faces)
}

// Tolerance returns the configured match tolerance.
func (w *RecognizerWrapper) Tolerance() float32 {
	return w.tolerance
}
