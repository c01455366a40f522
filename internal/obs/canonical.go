package obs

import "strings"

// collectionRoots are path segments whose following segment is a resource id.
var collectionRoots = map[string]bool{
	"projects":    true,
	"proposals":   true,
	"invitations": true,
	"users":       true,
	"departments": true,
	"seats":       true,
}

// idSuffixes are sub-resources that may follow an id segment.
var idSuffixes = map[string]bool{
	"logbook":     true,
	"assignments": true,
	"rules":       true,
	"approve":     true,
	"ranks":       true,
	"memberships": true,
}

// CanonicalPath collapses resource ids into :id so metric label cardinality
// stays bounded. Unrecognized shapes are returned as-is.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segs := strings.Split(strings.Trim(path, "/"), "/")
	changed := false
	for i := 1; i < len(segs); i++ {
		if !collectionRoots[segs[i-1]] {
			continue
		}
		if i+1 < len(segs) && !idSuffixes[segs[i+1]] {
			continue
		}
		segs[i] = ":id"
		changed = true
	}
	if !changed {
		return path
	}
	return "/" + strings.Join(segs, "/")
}
