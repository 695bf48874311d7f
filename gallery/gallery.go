// Package gallery maintains the set of known faces: images dropped
// into a directory (one person per file, label taken from the file
// name) plus faces enrolled over the API. Descriptors are persisted so
// unchanged images are not re-encoded on restart.
package gallery

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Kagami/go-face"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rdevng/salesforce-face-recognition-api/recognize"
)

// Encoder computes the descriptor of the single face in an image.
// Implemented by recognize.RecognizerWrapper; stubbed in tests.
type Encoder interface {
	EncodeSingle(img []byte) (face.Descriptor, bool, error)
}

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// Gallery loads and edits the known-face corpus.
type Gallery struct {
	dir   string
	enc   Encoder
	store Store
	log   *zap.SugaredLogger
}

func New(dir string, enc Encoder, store Store, log *zap.SugaredLogger) *Gallery {
	return &Gallery{dir: dir, enc: enc, store: store, log: log}
}

// Reload rescans the gallery directory, reusing stored descriptors for
// files whose content hash is unchanged, keeps every API-enrolled
// sample from the store, and persists the combined set. Files in which
// no single face is found are skipped with a warning, matching how a
// bad reference photo should degrade: the rest of the gallery still
// loads.
func (g *Gallery) Reload() ([]recognize.FaceInfo, error) {
	entries, err := os.ReadDir(g.dir)
	if err != nil {
		return nil, fmt.Errorf("read gallery dir %q: %w", g.dir, err)
	}

	stored, err := g.store.Load()
	if err != nil {
		g.log.Warnw("failed to load stored faces, re-encoding everything", "error", err)
		stored = nil
	}
	byMD5 := make(map[string]recognize.FaceInfo, len(stored))
	for _, fi := range stored {
		if fi.Source != recognize.SourceAPI {
			byMD5[fi.MD5] = fi
		}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var faces []recognize.FaceInfo
	for _, name := range names {
		fi, ok, err := g.loadFile(name, byMD5)
		if err != nil {
			g.log.Errorw("failed to load gallery image", "file", name, "error", err)
			continue
		}
		if !ok {
			g.log.Warnw("no face found in gallery image, skipping", "file", name)
			continue
		}
		faces = append(faces, fi)
	}

	for _, fi := range stored {
		if fi.Source == recognize.SourceAPI {
			faces = append(faces, fi)
		}
	}

	if err := g.store.Save(faces); err != nil {
		g.log.Errorw("failed to persist gallery", "error", err)
	}
	g.log.Infow("gallery loaded", "samples", len(faces))

	return faces, nil
}

func (g *Gallery) loadFile(name string, byMD5 map[string]recognize.FaceInfo) (recognize.FaceInfo, bool, error) {
	img, err := os.ReadFile(filepath.Join(g.dir, name))
	if err != nil {
		return recognize.FaceInfo{}, false, err
	}

	sum := md5.Sum(img)
	hash := hex.EncodeToString(sum[:])
	label := strings.TrimSuffix(name, filepath.Ext(name))

	if cached, ok := byMD5[hash]; ok && cached.Label == label {
		return cached, true, nil
	}

	desc, ok, err := g.enc.EncodeSingle(img)
	if err != nil || !ok {
		return recognize.FaceInfo{}, false, err
	}

	return recognize.FaceInfo{
		Id:         uuid.New().String(),
		Label:      label,
		Descriptor: desc,
		MD5:        hash,
		Source:     recognize.SourceFile,
	}, true, nil
}

// Enroll computes the descriptor for an image containing exactly one
// face and persists it under the given label. ok is false when the
// image does not contain exactly one face.
func (g *Gallery) Enroll(label string, img []byte) (recognize.FaceInfo, bool, error) {
	desc, ok, err := g.enc.EncodeSingle(img)
	if err != nil {
		return recognize.FaceInfo{}, false, err
	}
	if !ok {
		return recognize.FaceInfo{}, false, nil
	}

	sum := md5.Sum(img)
	fi := recognize.FaceInfo{
		Id:         uuid.New().String(),
		Label:      label,
		Descriptor: desc,
		MD5:        hex.EncodeToString(sum[:]),
		Source:     recognize.SourceAPI,
	}

	faces, err := g.store.Load()
	if err != nil {
		return recognize.FaceInfo{}, false, err
	}
	faces = append(faces, fi)
	if err := g.store.Save(faces); err != nil {
		return recognize.FaceInfo{}, false, err
	}

	return fi, true, nil
}

// Remove deletes every sample with the given label, including any
// backing image file in the gallery directory, and reports how many
// samples were removed.
func (g *Gallery) Remove(label string) (int, error) {
	faces, err := g.store.Load()
	if err != nil {
		return 0, err
	}

	kept := faces[:0]
	removed := 0
	for _, fi := range faces {
		if fi.Label == label {
			removed++
			continue
		}
		kept = append(kept, fi)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := g.store.Save(kept); err != nil {
		return 0, err
	}

	for ext := range imageExts {
		path := filepath.Join(g.dir, label+ext)
		if err := os.Remove(path); err == nil {
			g.log.Infow("removed gallery image", "file", path)
		} else if !os.IsNotExist(err) {
			g.log.Warnw("failed to remove gallery image", "file", path, "error", err)
		}
	}

	return removed, nil
}
