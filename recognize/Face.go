package recognize

import (
	"image"

	"github.com/Kagami/go-face"
)

// Sample origins. File samples are rebuilt from the gallery directory
// on every reload; api samples only exist in the store.
const (
	SourceFile = "file"
	SourceAPI  = "api"
)

// FaceInfo is one enrolled face sample.
type FaceInfo struct {
	Id         string       `json:"id" bson:"_id"`
	Label      string       `json:"label" bson:"label"`
	Descriptor [128]float32 `json:"descriptor" bson:"descriptor"`
	MD5        string       `json:"md5" bson:"md5"`
	Source     string       `json:"source,omitempty" bson:"source,omitempty"`
}

// DetectedFace is a face located in a frame, without classification.
type DetectedFace struct {
	Rect       image.Rectangle `json:"rect"`
	Descriptor face.Descriptor `json:"descriptor"`
}

// RecognizedFace is a face located in a frame together with the label
// of the nearest gallery sample. Label is "UNKNOWN" when no sample is
// within tolerance; Distance still reports the distance to the nearest
// sample, or -1 when the gallery is empty.
type RecognizedFace struct {
	Rect     image.Rectangle `json:"rect"`
	Label    string          `json:"label"`
	Distance float32         `json:"distance"`
}

// UnknownLabel is reported for faces with no gallery sample within
// tolerance.
const UnknownLabel = "UNKNOWN"
