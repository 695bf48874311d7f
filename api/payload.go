package api

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ImageInput is the body of the /api/* image endpoints.
type ImageInput struct {
	Payload string `json:"payload"`
}

func (i *ImageInput) ToBytes() ([]byte, error) {
	return decodeBase64Image(i.Payload)
}

// recognizeRequest is the body of the legacy /recognize endpoint.
// ImageData is a pointer so a missing key can be told apart from an
// empty string.
type recognizeRequest struct {
	ImageData *string `json:"imageData"`
}

// recognizeResponse is the legacy /recognize envelope.
type recognizeResponse struct {
	Recognized bool    `json:"recognized"`
	Name       string  `json:"name"`
	Error      *string `json:"error"`
}

// enrollRequest is the body of POST /api/faces.
type enrollRequest struct {
	Label   string `json:"label"`
	Payload string `json:"payload"`
}

var errEmptyImage = errors.New("empty image")

// decodeBase64Image decodes a standard base64 image payload, restoring
// stripped padding first since some clients drop it.
func decodeBase64Image(s string) ([]byte, error) {
	if s == "" {
		return nil, errEmptyImage
	}
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errEmptyImage
	}

	return data, nil
}
