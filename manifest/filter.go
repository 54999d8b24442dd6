package manifest

import (
	"github.com/go-iceberg/icemeta/spec"
)

// IsVacuous reports whether a manifest list entry tracks no live data
// file: a data manifest with no added and no existing files. Such entries
// are dropped whenever a list is rewritten.
func IsVacuous(mf spec.ManifestFile) bool {
	return mf.Content == spec.ManifestContentData &&
		mf.AddedFilesCount == 0 &&
		mf.ExistingFilesCount == 0
}

// IsLive is the inverse of IsVacuous. Some writers drop entries with this
// predicate instead; it is kept so both behaviours can be exercised
// through WithDropFilter.
func IsLive(mf spec.ManifestFile) bool {
	return !IsVacuous(mf)
}

// DropVacuous returns the entries IsVacuous keeps, in order.
func DropVacuous(entries []spec.ManifestFile) []spec.ManifestFile {
	out := make([]spec.ManifestFile, 0, len(entries))
	for _, mf := range entries {
		if !IsVacuous(mf) {
			out = append(out, mf)
		}
	}
	return out
}

// Totals are the file and row counters summed over manifest list entries.
type Totals struct {
	DataFiles   int64
	DeleteFiles int64
	Records     int64
}

// Sum adds up live files and rows. Deleted entries do not count.
func Sum(entries []spec.ManifestFile) Totals {
	var t Totals
	for _, mf := range entries {
		files := int64(mf.AddedFilesCount) + int64(mf.ExistingFilesCount)
		if mf.Content == spec.ManifestContentDeletes {
			t.DeleteFiles += files
			continue
		}
		t.DataFiles += files
		t.Records += mf.AddedRowsCount + mf.ExistingRowsCount
	}
	return t
}
