package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recognitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceapi_recognitions_total",
		Help: "Recognition requests by outcome.",
	}, []string{"outcome"})

	recognizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "faceapi_recognize_duration_seconds",
		Help:    "Time spent detecting and matching faces per request.",
		Buckets: prometheus.DefBuckets,
	})

	knownFaces = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "faceapi_known_faces",
		Help: "Number of loaded gallery samples.",
	})
)

const (
	outcomeRecognized = "recognized"
	outcomeUnknown    = "unknown"
	outcomeError      = "error"
)
