package contextentity

import (
	"fmt"
	"strings"
)

// View selects which state of a record a resolver returns.
type View int

const (
	// Target is the record as submitted with the operation.
	Target View = iota
	// PreImage is the snapshot taken before the operation.
	PreImage
	// PostImage is the snapshot taken after the operation.
	PostImage
	// Complete merges Target, PostImage and PreImage, newest state winning.
	Complete
)

var viewNames = [...]string{
	Target:    "Target",
	PreImage:  "PreImage",
	PostImage: "PostImage",
	Complete:  "Complete",
}

func (v View) String() string {
	if v >= 0 && int(v) < len(viewNames) {
		return viewNames[v]
	}
	return fmt.Sprintf("View(%d)", int(v))
}

// Valid reports whether v is one of the four known views.
func (v View) Valid() bool {
	return v >= Target && v <= Complete
}

// ParseView resolves a view name case-insensitively. "pre" and "post" are
// accepted as short forms.
func ParseView(s string) (View, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "target":
		return Target, nil
	case "preimage", "pre":
		return PreImage, nil
	case "postimage", "post":
		return PostImage, nil
	case "complete":
		return Complete, nil
	}
	return 0, fmt.Errorf("unknown view %q", s)
}
