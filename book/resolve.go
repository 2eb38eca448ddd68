package book

import (
	"regexp"
	"strconv"
)

// Unresolved is the page index used when reply does not name its subject and
// page should be picked by position instead.
const Unresolved = -1

// Target is the page a reply applies to. When Resolved is false Index is
// always Unresolved.
type Target struct {
	Index    int
	Resolved bool
}

func resolvedAt(index int) Target {
	return Target{Index: index, Resolved: true}
}

var unresolved = Target{Index: Unresolved}

var (
	reScene = regexp.MustCompile(`(?i)Scene\s+(\d+)`)
	reCover = regexp.MustCompile(`(?i)cover`)
)

// ResolveTarget decides which page directives in reply apply to. Explicit
// "Scene N" and "cover" mentions come first, when both are present the one
// closer to the beginning of the text is the subject, cover wins ties. Without
// mentions page text goes to the last started page (Unresolved) and a lone
// image prompt goes to the page under cursor.
func ResolveTarget(reply string, d Directives, cursor int) Target {
	sceneLoc := reScene.FindStringSubmatchIndex(reply)
	coverLoc := reCover.FindStringIndex(reply)

	scene := -1
	if sceneLoc != nil {
		n, err := strconv.Atoi(reply[sceneLoc[2]:sceneLoc[3]])
		if err != nil {
			// digits only, overflow is the only possibility
			sceneLoc = nil
		} else {
			scene = n
		}
	}

	switch {
	case sceneLoc != nil && coverLoc != nil:
		if coverLoc[0] <= sceneLoc[0] {
			return resolvedAt(0)
		}
		return resolvedAt(scene)
	case sceneLoc != nil:
		return resolvedAt(scene)
	case coverLoc != nil:
		return resolvedAt(0)
	case d.PageText != nil:
		return unresolved
	case d.ImagePrompt != nil:
		return resolvedAt(max(cursor, 0))
	default:
		return unresolved
	}
}
