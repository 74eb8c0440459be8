package linker

import (
	"os"
	"path/filepath"
)

// MakeArchive bundles the input objects into one archive document. Each
// member keeps its own content and is stamped with its file's basename
// so it can be recovered on load.
func MakeArchive(out string, inputs []string) error {
	archive := NewObject(filepath.Base(out), KindArchive)

	for _, path := range inputs {
		member, err := LoadObject(path)
		if err != nil {
			return err
		}
		archive.Members = append(archive.Members, member)
	}

	data, err := Dump(archive)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0666)
}
