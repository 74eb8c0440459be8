package linker

import "fmt"

// ResolveSymbols builds the per-object local tables and the global
// table, mapping every defined symbol to its absolute virtual address.
//
// Global-table insertion rules: the first definition wins; a global
// definition overrides an earlier weak one; two global definitions of
// the same name abort the link; a weak definition never displaces an
// existing entry.
func ResolveSymbols(ctx *Context) error {
	for _, obj := range ctx.Active {
		for _, sym := range obj.Symbols {
			if sym.Section == "" {
				continue
			}
			base, ok := ctx.SectionVAddr[obj][sym.Section]
			if !ok {
				continue
			}
			addr := base + sym.Offset

			if sym.Kind == SymbolLocal {
				if ctx.Locals[obj] == nil {
					ctx.Locals[obj] = make(map[string]uint64)
				}
				if _, ok := ctx.Locals[obj][sym.Name]; !ok {
					ctx.Locals[obj][sym.Name] = addr
				}
				continue
			}

			prev, ok := ctx.Globals[sym.Name]
			switch {
			case !ok:
				ctx.Globals[sym.Name] = GlobalDef{Kind: sym.Kind, Addr: addr}
			case prev.Kind == SymbolGlobal && sym.Kind == SymbolGlobal:
				return fmt.Errorf("%w: %s", ErrDuplicateStrongSymbol, sym.Name)
			case prev.Kind == SymbolWeak && sym.Kind == SymbolGlobal:
				ctx.Globals[sym.Name] = GlobalDef{Kind: SymbolGlobal, Addr: addr}
			}
		}
	}
	return nil
}

// LookupSymbol searches the referring object's locals first, then the
// global table.
func LookupSymbol(ctx *Context, obj *Object, name string) (uint64, error) {
	if addr, ok := ctx.Locals[obj][name]; ok {
		return addr, nil
	}
	if def, ok := ctx.Globals[name]; ok {
		return def.Addr, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUndefinedSymbol, name)
}

func isInternal(ctx *Context, obj *Object, name string) bool {
	if _, ok := ctx.Locals[obj][name]; ok {
		return true
	}
	_, ok := ctx.Globals[name]
	return ok
}
