//go:build !linux

package scan

import (
	"errors"

	"github.com/bamsammich/vigil/internal/attr"
	"github.com/bamsammich/vigil/internal/record"
)

func readExtended(_ string, _ attr.FileType, want attr.Set, _ *record.Record) []failure {
	return []failure{{attrs: want, err: errors.ErrUnsupported}}
}
