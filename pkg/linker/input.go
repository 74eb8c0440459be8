package linker

import "strings"

// ReadInputFiles loads the link inputs in command-line order. Entries
// prefixed with "-l" are resolved through the library search path first.
func ReadInputFiles(ctx *Context, remaining []string) error {
	for _, arg := range remaining {
		path := arg
		if name, ok := strings.CutPrefix(arg, "-l"); ok {
			resolved, err := FindLibrary(ctx, name)
			if err != nil {
				return err
			}
			path = resolved
		}

		obj, err := LoadObject(path)
		if err != nil {
			return err
		}
		AddInput(ctx, obj)
	}
	return nil
}

// AddInput classifies one loaded object into the link inputs.
func AddInput(ctx *Context, obj *Object) {
	switch obj.Kind {
	case KindArchive:
		ctx.Archives = append(ctx.Archives, obj)
	case KindShared:
		ctx.SharedDeps = append(ctx.SharedDeps, obj)
	default:
		ctx.Objs = append(ctx.Objs, obj)
	}
}
