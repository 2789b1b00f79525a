package scan

import "github.com/bamsammich/vigil/internal/attr"

// Decision tells the scanner what to do with one entry.
type Decision struct {
	// Attrs lists the attributes to collect when Track is set.
	Attrs   attr.Set
	Track   bool
	Descend bool
}

// Selector decides, per entry, whether it is recorded and whether a
// directory is entered. Select is called on the goroutine calling Next.
type Selector interface {
	Select(path string, ft attr.FileType) Decision
}

// DirObserver is an optional Selector extension told when the scanner has
// finished listing a directory, or failed to.
type DirObserver interface {
	DirDone(path string, err error)
}

// SelectAll tracks every entry with a fixed attribute set.
type SelectAll attr.Set

func (s SelectAll) Select(string, attr.FileType) Decision {
	return Decision{Attrs: attr.Set(s), Track: true, Descend: true}
}
