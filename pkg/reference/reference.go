// Package reference parses and normalizes Docker image references.
package reference

import (
	"fmt"
	"strings"
)

// Ref is a parsed image reference. Tag holds either a tag name or a
// full digest ("sha256:...") when Digest is true.
type Ref struct {
	Name   string
	Tag    string
	Digest bool
}

// String renders the reference back in the form the Docker daemon accepts.
func (r Ref) String() string {
	if r.Digest {
		return r.Name + "@" + r.Tag
	}
	return r.Name + ":" + r.Tag
}

// Parse splits an image reference into name and tag/digest. An untagged
// reference gets the "latest" tag. A colon belonging to a registry port
// (registry:5000/image) is not mistaken for a tag separator.
func Parse(imageRef string) (Ref, error) {
	imageRef = strings.TrimSpace(imageRef)
	if imageRef == "" {
		return Ref{}, fmt.Errorf("empty image reference")
	}
	if strings.ContainsAny(imageRef, " \t\n") {
		return Ref{}, fmt.Errorf("invalid image reference %q: contains whitespace", imageRef)
	}

	if idx := strings.Index(imageRef, "@sha256:"); idx != -1 {
		if idx == 0 {
			return Ref{}, fmt.Errorf("invalid image reference %q: missing name", imageRef)
		}
		return Ref{Name: imageRef[:idx], Tag: imageRef[idx+1:], Digest: true}, nil
	}

	// A colon before the first slash is a registry port, not a tag.
	tagSep := -1
	if idx := strings.Index(imageRef, ":"); idx != -1 {
		slash := strings.Index(imageRef, "/")
		if slash != -1 && slash > idx {
			if rest := strings.Index(imageRef[slash:], ":"); rest != -1 {
				tagSep = slash + rest
			}
		} else {
			tagSep = idx
		}
	}

	if tagSep == -1 {
		return Ref{Name: imageRef, Tag: "latest"}, nil
	}
	name, tag := imageRef[:tagSep], imageRef[tagSep+1:]
	if name == "" || tag == "" {
		return Ref{}, fmt.Errorf("invalid image reference %q", imageRef)
	}
	return Ref{Name: name, Tag: tag}, nil
}
