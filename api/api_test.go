package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Kagami/go-face"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rdevng/salesforce-face-recognition-api/recognize"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubRecognizer serves canned detections and matches by descriptor
// equality, so handler tests never touch dlib.
type stubRecognizer struct {
	faces      []face.Face
	detectErr  error
	samples    []recognize.FaceInfo
	matchCalls int
}

func (r *stubRecognizer) Detect(img []byte) ([]face.Face, error) {
	if r.detectErr != nil {
		return nil, r.detectErr
	}
	return r.faces, nil
}

func (r *stubRecognizer) Match(probe face.Descriptor) (string, float32, bool) {
	r.matchCalls++
	for _, fi := range r.samples {
		if face.Descriptor(fi.Descriptor) == probe {
			return fi.Label, 0.1, true
		}
	}
	return "", -1, false
}

func (r *stubRecognizer) SetSamples(faces []recognize.FaceInfo) { r.samples = faces }
func (r *stubRecognizer) AddSample(fi recognize.FaceInfo)       { r.samples = append(r.samples, fi) }

func (r *stubRecognizer) RemoveLabel(label string) int {
	kept := r.samples[:0]
	n := 0
	for _, fi := range r.samples {
		if fi.Label == label {
			n++
			continue
		}
		kept = append(kept, fi)
	}
	r.samples = kept
	return n
}

func (r *stubRecognizer) Labels() []string {
	var out []string
	for _, fi := range r.samples {
		out = append(out, fi.Label)
	}
	return out
}

func (r *stubRecognizer) Count() int { return len(r.samples) }

type stubGallery struct {
	reloadFaces []recognize.FaceInfo
	reloadErr   error
	enrollOK    bool
	removed     int
}

func (g *stubGallery) Reload() ([]recognize.FaceInfo, error) {
	return g.reloadFaces, g.reloadErr
}

func (g *stubGallery) Enroll(label string, img []byte) (recognize.FaceInfo, bool, error) {
	if !g.enrollOK {
		return recognize.FaceInfo{}, false, nil
	}
	return recognize.FaceInfo{Id: "fixed-id", Label: label, Source: recognize.SourceAPI}, true, nil
}

func (g *stubGallery) Remove(label string) (int, error) { return g.removed, nil }

type stubCamera struct {
	frame []byte
}

func (c *stubCamera) Frame() []byte { return c.frame }

func descriptor(seed float32) face.Descriptor {
	var d face.Descriptor
	d[0] = seed
	return d
}

func jpegPayload(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newTestServer(rec *stubRecognizer, gal *stubGallery, cam FrameSource) *gin.Engine {
	return NewServer(rec, gal, cam, zap.NewNop().Sugar()).Router()
}

func TestHealth(t *testing.T) {
	rec := &stubRecognizer{samples: []recognize.FaceInfo{{Label: "alice"}, {Label: "bob"}}}
	r := newTestServer(rec, &stubGallery{}, nil)

	w := doJSON(t, r, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["known_faces_loaded"])
}

func TestRecognize_NotJSON(t *testing.T) {
	r := newTestServer(&stubRecognizer{}, &stubGallery{}, nil)

	w := doJSON(t, r, http.MethodPost, "/recognize", "not json")

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp recognizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Recognized)
	assert.Equal(t, "Unknown", resp.Name)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Request must be JSON", *resp.Error)
}

func TestRecognize_MissingImageData(t *testing.T) {
	r := newTestServer(&stubRecognizer{}, &stubGallery{}, nil)

	w := doJSON(t, r, http.MethodPost, "/recognize", `{"other": "field"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp recognizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Missing 'imageData' key in JSON payload", *resp.Error)
}

func TestRecognize_UndecodableImage(t *testing.T) {
	r := newTestServer(&stubRecognizer{}, &stubGallery{}, nil)
	garbage := base64.StdEncoding.EncodeToString([]byte("not an image"))

	w := doJSON(t, r, http.MethodPost, "/recognize", `{"imageData": "`+garbage+`"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp recognizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Contains(t, *resp.Error, "Image processing error")
}

func TestRecognize_KnownFace(t *testing.T) {
	rec := &stubRecognizer{
		faces:   []face.Face{{Descriptor: descriptor(1)}},
		samples: []recognize.FaceInfo{{Label: "alice", Descriptor: descriptor(1)}},
	}
	r := newTestServer(rec, &stubGallery{}, nil)

	w := doJSON(t, r, http.MethodPost, "/recognize", `{"imageData": "`+jpegPayload(t)+`"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp recognizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Recognized)
	assert.Equal(t, "alice", resp.Name)
	assert.Nil(t, resp.Error)
}

func TestRecognize_UnknownFace(t *testing.T) {
	rec := &stubRecognizer{faces: []face.Face{{Descriptor: descriptor(1)}}}
	r := newTestServer(rec, &stubGallery{}, nil)

	w := doJSON(t, r, http.MethodPost, "/recognize", `{"imageData": "`+jpegPayload(t)+`"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp recognizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Recognized)
	assert.Equal(t, "Unknown", resp.Name)
}

func TestRecognize_MultipleFaces_LaterFaceMatches(t *testing.T) {
	rec := &stubRecognizer{
		faces: []face.Face{
			{Descriptor: descriptor(9)},
			{Descriptor: descriptor(1)},
		},
		samples: []recognize.FaceInfo{{Label: "alice", Descriptor: descriptor(1)}},
	}
	r := newTestServer(rec, &stubGallery{}, nil)

	w := doJSON(t, r, http.MethodPost, "/recognize", `{"imageData": "`+jpegPayload(t)+`"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp recognizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Recognized)
	assert.Equal(t, "alice", resp.Name)
	assert.Equal(t, 2, rec.matchCalls)
}

func TestRecognize_MultipleFaces_FirstMatchWins(t *testing.T) {
	rec := &stubRecognizer{
		faces: []face.Face{
			{Descriptor: descriptor(1)},
			{Descriptor: descriptor(2)},
		},
		samples: []recognize.FaceInfo{
			{Label: "alice", Descriptor: descriptor(1)},
			{Label: "bob", Descriptor: descriptor(2)},
		},
	}
	r := newTestServer(rec, &stubGallery{}, nil)

	w := doJSON(t, r, http.MethodPost, "/recognize", `{"imageData": "`+jpegPayload(t)+`"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp recognizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Recognized)
	assert.Equal(t, "alice", resp.Name)
	// Matching stops at the first recognized face.
	assert.Equal(t, 1, rec.matchCalls)
}

func TestRecognize_PaddingStripped(t *testing.T) {
	rec := &stubRecognizer{}
	r := newTestServer(rec, &stubGallery{}, nil)
	payload := strings.TrimRight(jpegPayload(t), "=")

	w := doJSON(t, r, http.MethodPost, "/recognize", `{"imageData": "`+payload+`"}`)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestRecognize_DetectFailure(t *testing.T) {
	rec := &stubRecognizer{detectErr: errors.New("dlib exploded")}
	r := newTestServer(rec, &stubGallery{}, nil)

	w := doJSON(t, r, http.MethodPost, "/recognize", `{"imageData": "`+jpegPayload(t)+`"}`)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp recognizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Contains(t, *resp.Error, "Internal server error")
}

func TestDetectFaces(t *testing.T) {
	rec := &stubRecognizer{faces: []face.Face{
		{Rectangle: image.Rect(0, 0, 10, 10), Descriptor: descriptor(1)},
		{Rectangle: image.Rect(20, 20, 30, 30), Descriptor: descriptor(2)},
	}}
	r := newTestServer(rec, &stubGallery{}, nil)

	w := doJSON(t, r, http.MethodPost, "/api/detectFaces", `{"payload": "`+jpegPayload(t)+`"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Image         string                   `json:"image"`
		DetectedFaces []recognize.DetectedFace `json:"detectedFaces"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Image)
	assert.Len(t, body.DetectedFaces, 2)
}

func TestDetectFaces_EmptyPayload(t *testing.T) {
	r := newTestServer(&stubRecognizer{}, &stubGallery{}, nil)

	w := doJSON(t, r, http.MethodPost, "/api/detectFaces", `{"payload": ""}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecognizeFaces_LabelsAndUnknown(t *testing.T) {
	rec := &stubRecognizer{
		faces: []face.Face{
			{Descriptor: descriptor(1)},
			{Descriptor: descriptor(9)},
		},
		samples: []recognize.FaceInfo{{Label: "alice", Descriptor: descriptor(1)}},
	}
	r := newTestServer(rec, &stubGallery{}, nil)

	w := doJSON(t, r, http.MethodPost, "/api/recognizeFaces", `{"payload": "`+jpegPayload(t)+`"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		RecognizedFaces []recognize.RecognizedFace `json:"recognizedFaces"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.RecognizedFaces, 2)
	assert.Equal(t, "alice", body.RecognizedFaces[0].Label)
	assert.Equal(t, recognize.UnknownLabel, body.RecognizedFaces[1].Label)
}

func TestReloadSamples(t *testing.T) {
	rec := &stubRecognizer{}
	gal := &stubGallery{reloadFaces: []recognize.FaceInfo{{Label: "alice"}, {Label: "bob"}}}
	r := newTestServer(rec, gal, nil)

	w := doJSON(t, r, http.MethodPost, "/api/reloadSamples", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, rec.Count())
	assert.JSONEq(t, `{"loaded": 2}`, w.Body.String())
}

func TestReloadSamples_Error(t *testing.T) {
	gal := &stubGallery{reloadErr: errors.New("dir gone")}
	r := newTestServer(&stubRecognizer{}, gal, nil)

	w := doJSON(t, r, http.MethodPost, "/api/reloadSamples", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListFaces(t *testing.T) {
	rec := &stubRecognizer{samples: []recognize.FaceInfo{{Label: "alice"}}}
	r := newTestServer(rec, &stubGallery{}, nil)

	w := doJSON(t, r, http.MethodGet, "/api/faces", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"labels": ["alice"], "count": 1}`, w.Body.String())
}

func TestEnrollFace(t *testing.T) {
	rec := &stubRecognizer{}
	r := newTestServer(rec, &stubGallery{enrollOK: true}, nil)

	w := doJSON(t, r, http.MethodPost, "/api/faces",
		`{"label": "dave", "payload": "`+jpegPayload(t)+`"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id": "fixed-id", "label": "dave"}`, w.Body.String())
	assert.Equal(t, 1, rec.Count())
}

func TestEnrollFace_MissingLabel(t *testing.T) {
	r := newTestServer(&stubRecognizer{}, &stubGallery{enrollOK: true}, nil)

	w := doJSON(t, r, http.MethodPost, "/api/faces", `{"payload": "`+jpegPayload(t)+`"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrollFace_NoFaceInImage(t *testing.T) {
	r := newTestServer(&stubRecognizer{}, &stubGallery{enrollOK: false}, nil)

	w := doJSON(t, r, http.MethodPost, "/api/faces",
		`{"label": "dave", "payload": "`+jpegPayload(t)+`"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemoveFace(t *testing.T) {
	rec := &stubRecognizer{samples: []recognize.FaceInfo{{Label: "alice"}}}
	r := newTestServer(rec, &stubGallery{removed: 1}, nil)

	w := doJSON(t, r, http.MethodDelete, "/api/faces/alice", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed": 1}`, w.Body.String())
	assert.Equal(t, 0, rec.Count())
}

func TestRemoveFace_Unknown(t *testing.T) {
	r := newTestServer(&stubRecognizer{}, &stubGallery{removed: 0}, nil)

	w := doJSON(t, r, http.MethodDelete, "/api/faces/nobody", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCameraRoutes_AbsentWithoutCamera(t *testing.T) {
	r := newTestServer(&stubRecognizer{}, &stubGallery{}, nil)

	w := doJSON(t, r, http.MethodGet, "/api/camera/frame", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCameraFrame(t *testing.T) {
	cam := &stubCamera{frame: []byte("jpeg-bytes")}
	r := newTestServer(&stubRecognizer{}, &stubGallery{}, cam)

	w := doJSON(t, r, http.MethodGet, "/api/camera/frame", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "jpeg-bytes", w.Body.String())
}

func TestCameraFrame_NoFrameYet(t *testing.T) {
	r := newTestServer(&stubRecognizer{}, &stubGallery{}, &stubCamera{})

	w := doJSON(t, r, http.MethodGet, "/api/camera/frame", "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCameraRecognize(t *testing.T) {
	rec := &stubRecognizer{
		faces:   []face.Face{{Descriptor: descriptor(1)}},
		samples: []recognize.FaceInfo{{Label: "alice", Descriptor: descriptor(1)}},
	}
	cam := &stubCamera{frame: []byte("jpeg-bytes")}
	r := newTestServer(rec, &stubGallery{}, cam)

	w := doJSON(t, r, http.MethodPost, "/api/camera/recognize", "")

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		RecognizedFaces []recognize.RecognizedFace `json:"recognizedFaces"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.RecognizedFaces, 1)
	assert.Equal(t, "alice", body.RecognizedFaces[0].Label)
}
