package gallery

import (
	"fmt"

	"github.com/globalsign/mgo"

	"github.com/rdevng/salesforce-face-recognition-api/recognize"
)

const facesCollection = "faces"

// MongoStore keeps the gallery in a MongoDB collection, one document
// per sample, so several daemon instances can share one gallery.
type MongoStore struct {
	session *mgo.Session
	db      string
}

func NewMongoStore(url, db string) (*MongoStore, error) {
	session, err := mgo.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial mongodb %q: %w", url, err)
	}
	session.SetMode(mgo.Monotonic, true)

	return &MongoStore{session: session, db: db}, nil
}

func (s *MongoStore) Load() ([]recognize.FaceInfo, error) {
	sess := s.session.Copy()
	defer sess.Close()

	var faces []recognize.FaceInfo
	if err := sess.DB(s.db).C(facesCollection).Find(nil).All(&faces); err != nil {
		return nil, fmt.Errorf("load faces: %w", err)
	}

	return faces, nil
}

func (s *MongoStore) Save(faces []recognize.FaceInfo) error {
	sess := s.session.Copy()
	defer sess.Close()

	c := sess.DB(s.db).C(facesCollection)
	if _, err := c.RemoveAll(nil); err != nil {
		return fmt.Errorf("clear faces: %w", err)
	}
	for _, fi := range faces {
		if err := c.Insert(fi); err != nil {
			return fmt.Errorf("insert face %q: %w", fi.Label, err)
		}
	}

	return nil
}

func (s *MongoStore) Close() error {
	s.session.Close()
	return nil
}
