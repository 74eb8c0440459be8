package linker

import (
	"fle/pkg/utils"

	"golang.org/x/exp/slices"
)

// SelectArchiveMembers computes the active set: the top-level inputs
// plus the minimal set of archive members needed to satisfy references.
// Members are scanned in archive order, then archive-internal order; the
// unresolved set is recomputed on every inclusion, and the scan repeats
// until a full pass over all archives adds nothing.
func SelectArchiveMembers(ctx *Context) {
	active := slices.Clone(ctx.Objs)
	included := make(map[*Object]bool)

	for {
		unresolved := unresolvedNames(active)
		if unresolved.Len() == 0 {
			break
		}

		added := false
		for _, archive := range ctx.Archives {
			for _, member := range archive.Members {
				if included[member] {
					continue
				}
				if !definesAnyOf(member, unresolved) {
					continue
				}
				active = append(active, member)
				included[member] = true
				added = true
				unresolved = unresolvedNames(active)
			}
		}
		if !added {
			break
		}
	}

	ctx.Active = active
}

// unresolvedNames collects the symbol names referenced by any relocation
// in any active object that are defined by neither a local symbol of the
// referring object nor a non-local symbol of any active object.
func unresolvedNames(active []*Object) utils.MapSet[string] {
	globals, locals := defNameSets(active)

	unresolved := utils.NewMapSet[string]()
	for _, obj := range active {
		for _, sec := range obj.Sections {
			for i := range sec.Relocs {
				name := sec.Relocs[i].Symbol
				if locals[obj].Contains(name) || globals.Contains(name) {
					continue
				}
				unresolved.Add(name)
			}
		}
	}
	return unresolved
}

// defNameSets splits the defined symbol names of the active set into
// the shared non-local pool and the per-object local pools. Only names
// matter here; addresses come later, after layout.
func defNameSets(active []*Object) (utils.MapSet[string], map[*Object]utils.MapSet[string]) {
	globals := utils.NewMapSet[string]()
	locals := make(map[*Object]utils.MapSet[string], len(active))
	for _, obj := range active {
		locals[obj] = utils.NewMapSet[string]()
		for _, sym := range obj.Symbols {
			if sym.Section == "" {
				continue
			}
			if sym.Kind == SymbolLocal {
				locals[obj].Add(sym.Name)
			} else {
				globals.Add(sym.Name)
			}
		}
	}
	return globals, locals
}

func definesAnyOf(obj *Object, names utils.MapSet[string]) bool {
	for _, sym := range obj.Symbols {
		if sym.Section != "" && sym.Kind != SymbolLocal && names.Contains(sym.Name) {
			return true
		}
	}
	return false
}
