package recognize

import (
	"math"

	"github.com/Kagami/go-face"
)

// DefaultTolerance is the maximum descriptor distance still considered
// a match. 0.6 is the usual dlib value; 0.55 is slightly stricter.
const DefaultTolerance float32 = 0.55

// Distance returns the Euclidean distance between two descriptors.
func Distance(a, b face.Descriptor) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}

	return float32(math.Sqrt(sum))
}

// BestMatch returns the index of the known descriptor nearest to probe
// and the distance to it. ok is true only when that distance is within
// tolerance. With no known descriptors it returns (-1, -1, false).
func BestMatch(known []face.Descriptor, probe face.Descriptor, tolerance float32) (idx int, dist float32, ok bool) {
	idx = -1
	dist = -1
	for i := range known {
		d := Distance(known[i], probe)
		if idx < 0 || d < dist {
			idx = i
			dist = d
		}
	}
	if idx < 0 {
		return -1, -1, false
	}

	return idx, dist, dist <= tolerance
}
