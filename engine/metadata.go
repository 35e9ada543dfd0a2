package engine

import (
	"encoding/gob"
	"os"
)

// resumeRecord is the on-disk shape of a <dest>.metadata file (spec §4.5,
// §6 layout): the file size the completed set was computed against, plus
// the set of range starts that finished. Re-planning against a different
// size or section_size naturally invalidates the record, since the new
// plan's starts simply won't be present in Completed — no explicit version
// check is needed (spec §9 "conservative: treat as pending").
type resumeRecord struct {
	Size      int64
	Completed map[int64]struct{}
}

// LoadCompleted reads the resume metadata at path and returns the set of
// completed range starts. Any read or decode error (missing file, partial
// write, corruption) is treated as "no metadata" rather than surfaced,
// per spec §4.5: a damaged metadata file must never block a fresh download.
func LoadCompleted(path string, size int64) map[int64]struct{} {
	f, err := os.Open(path)
	if err != nil {
		return map[int64]struct{}{}
	}
	defer f.Close()

	var rec resumeRecord
	if err := gob.NewDecoder(f).Decode(&rec); err != nil {
		return map[int64]struct{}{}
	}
	if rec.Size != size || rec.Completed == nil {
		return map[int64]struct{}{}
	}
	return rec.Completed
}

// SaveCompleted overwrites the resume metadata at path with the current
// completed set (spec §4.5: "create-and-write, not write-then-rename" is
// acceptable here since a half-written metadata file only costs re-work on
// resume, never data corruption in the destination file itself).
func SaveCompleted(path string, size int64, completed map[int64]struct{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rec := resumeRecord{Size: size, Completed: completed}
	return gob.NewEncoder(f).Encode(rec)
}

// DeleteMetadata removes the metadata file once a download completes
// (spec §4.5: a finished, renamed file has no further use for it).
func DeleteMetadata(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
