// Package api exposes the recognition daemon over HTTP: the legacy
// /recognize + /health contract plus the /api/* management endpoints.
package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/Kagami/go-face"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rdevng/salesforce-face-recognition-api/recognize"
)

// Recognizer is the face detection and matching surface the handlers
// need. Implemented by recognize.RecognizerWrapper.
type Recognizer interface {
	Detect(img []byte) ([]face.Face, error)
	Match(probe face.Descriptor) (label string, dist float32, ok bool)
	SetSamples(faces []recognize.FaceInfo)
	AddSample(fi recognize.FaceInfo)
	RemoveLabel(label string) int
	Labels() []string
	Count() int
}

// Gallery is the corpus management surface. Implemented by
// gallery.Gallery.
type Gallery interface {
	Reload() ([]recognize.FaceInfo, error)
	Enroll(label string, img []byte) (recognize.FaceInfo, bool, error)
	Remove(label string) (int, error)
}

// FrameSource supplies the latest JPEG frame from a local camera.
type FrameSource interface {
	Frame() []byte
}

type Server struct {
	rec Recognizer
	gal Gallery
	cam FrameSource // nil when no camera is configured
	log *zap.SugaredLogger
}

func NewServer(rec Recognizer, gal Gallery, cam FrameSource, log *zap.SugaredLogger) *Server {
	knownFaces.Set(float64(rec.Count()))
	return &Server{rec: rec, gal: gal, cam: cam, log: log}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(cors.New(cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "Content-Length", "X-Requested-With", "Connection", "Upgrade"},
		AllowCredentials: false,
		AllowAllOrigins:  true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", s.health)
	r.POST("/recognize", s.recognizeLegacy)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/api/detectFaces", s.detectFaces)
	r.POST("/api/recognizeFaces", s.recognizeFaces)
	r.POST("/api/reloadSamples", s.reloadSamples)

	r.GET("/api/faces", s.listFaces)
	r.POST("/api/faces", s.enrollFace)
	r.DELETE("/api/faces/:label", s.removeFace)

	if s.cam != nil {
		r.GET("/api/camera/frame", s.cameraFrame)
		r.POST("/api/camera/recognize", s.cameraRecognize)
	}

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "ok",
		"known_faces_loaded": s.rec.Count(),
	})
}

// recognizeLegacy keeps the original client contract: a base64 image
// in {"imageData"}, a {"recognized", "name", "error"} envelope back,
// name "Unknown" when nothing in the gallery matches.
func (s *Server) recognizeLegacy(c *gin.Context) {
	fail := func(status int, msg string) {
		c.JSON(status, recognizeResponse{Name: "Unknown", Error: &msg})
	}

	var req recognizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(http.StatusBadRequest, "Request must be JSON")
		return
	}
	if req.ImageData == nil {
		fail(http.StatusBadRequest, "Missing 'imageData' key in JSON payload")
		return
	}

	img, err := decodeBase64Image(*req.ImageData)
	if err == nil {
		_, err = recognize.ToJPEG(img)
	}
	if err != nil {
		recognitionsTotal.WithLabelValues(outcomeError).Inc()
		fail(http.StatusBadRequest, fmt.Sprintf("Image processing error: %v", err))
		return
	}

	start := time.Now()
	faces, err := s.rec.Detect(img)
	recognizeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		recognitionsTotal.WithLabelValues(outcomeError).Inc()
		s.log.Errorw("recognition failed", "error", err)
		fail(http.StatusInternalServerError, fmt.Sprintf("Internal server error: %v", err))
		return
	}

	for _, f := range faces {
		if name, _, ok := s.rec.Match(f.Descriptor); ok {
			recognitionsTotal.WithLabelValues(outcomeRecognized).Inc()
			c.JSON(http.StatusOK, recognizeResponse{Recognized: true, Name: name})
			return
		}
	}

	recognitionsTotal.WithLabelValues(outcomeUnknown).Inc()
	c.JSON(http.StatusOK, recognizeResponse{Name: "Unknown"})
}

func (s *Server) detectFaces(c *gin.Context) {
	input := ImageInput{}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	frame, err := input.ToBytes()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	faces, err := s.rec.Detect(frame)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	dfs := make([]recognize.DetectedFace, 0, len(faces))
	for _, f := range faces {
		dfs = append(dfs, recognize.DetectedFace{
			Rect:       f.Rectangle,
			Descriptor: f.Descriptor,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"image":         base64.StdEncoding.EncodeToString(frame),
		"detectedFaces": dfs,
	})
}

func (s *Server) recognizeFaces(c *gin.Context) {
	input := ImageInput{}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	frame, err := input.ToBytes()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rfs, err := s.classifyFrame(frame)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"image":           base64.StdEncoding.EncodeToString(frame),
		"recognizedFaces": rfs,
	})
}

func (s *Server) classifyFrame(frame []byte) ([]recognize.RecognizedFace, error) {
	start := time.Now()
	faces, err := s.rec.Detect(frame)
	recognizeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		recognitionsTotal.WithLabelValues(outcomeError).Inc()
		return nil, err
	}

	rfs := make([]recognize.RecognizedFace, 0, len(faces))
	for _, f := range faces {
		label, dist, ok := s.rec.Match(f.Descriptor)
		if !ok {
			label = recognize.UnknownLabel
			recognitionsTotal.WithLabelValues(outcomeUnknown).Inc()
		} else {
			recognitionsTotal.WithLabelValues(outcomeRecognized).Inc()
		}
		rfs = append(rfs, recognize.RecognizedFace{
			Rect:     f.Rectangle,
			Label:    label,
			Distance: dist,
		})
	}

	return rfs, nil
}

func (s *Server) reloadSamples(c *gin.Context) {
	faces, err := s.gal.Reload()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.rec.SetSamples(faces)
	knownFaces.Set(float64(len(faces)))

	c.JSON(http.StatusOK, gin.H{"loaded": len(faces)})
}

func (s *Server) listFaces(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"labels": s.rec.Labels(),
		"count":  s.rec.Count(),
	})
}

func (s *Server) enrollFace(c *gin.Context) {
	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Label == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "label is required"})
		return
	}
	img, err := decodeBase64Image(req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fi, ok, err := s.gal.Enroll(req.Label, img)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image must contain exactly one face"})
		return
	}
	s.rec.AddSample(fi)
	knownFaces.Set(float64(s.rec.Count()))
	s.log.Infow("enrolled face", "label", fi.Label, "id", fi.Id)

	c.JSON(http.StatusCreated, gin.H{"id": fi.Id, "label": fi.Label})
}

func (s *Server) removeFace(c *gin.Context) {
	label := c.Param("label")

	removed, err := s.gal.Remove(label)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.rec.RemoveLabel(label)
	knownFaces.Set(float64(s.rec.Count()))
	if removed == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown label"})
		return
	}
	s.log.Infow("removed face", "label", label, "samples", removed)

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) cameraFrame(c *gin.Context) {
	frame := s.cam.Frame()
	if len(frame) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame captured yet"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", frame)
}

func (s *Server) cameraRecognize(c *gin.Context) {
	frame := s.cam.Frame()
	if len(frame) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no frame captured yet"})
		return
	}

	rfs, err := s.classifyFrame(frame)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"recognizedFaces": rfs})
}
