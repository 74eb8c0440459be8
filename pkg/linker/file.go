package linker

import (
	"fmt"
	"os"
	"path/filepath"
)

// LoadObject reads and parses one FLE file. The object's name is the
// file's basename, which is what dependency resolution matches against.
func LoadObject(path string) (*Object, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseObject(contents, filepath.Base(path))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// FindLibrary resolves -lNAME against the search path. Shared stubs
// (libNAME.fso) win over archives (libNAME.fa) within one directory;
// -static restricts the search to archives.
func FindLibrary(ctx *Context, name string) (string, error) {
	dirs := append(append([]string{}, ctx.Arg.LibraryPaths...), "./")

	for _, dir := range dirs {
		shared := filepath.Join(dir, "lib"+name+".fso")
		archive := filepath.Join(dir, "lib"+name+".fa")

		if ctx.Arg.Static {
			if fileExists(archive) {
				return archive, nil
			}
			continue
		}
		if fileExists(shared) {
			return shared, nil
		}
		if fileExists(archive) {
			return archive, nil
		}
	}

	return "", fmt.Errorf("%w: cannot find -l%s", ErrLibraryNotFound, name)
}
