//go:build linux && amd64

package loader

import (
	"errors"
	"fmt"
	"strings"

	"fle/pkg/linker"
	"fle/pkg/utils"
)

var ErrMapFailed = errors.New("map failed")

// Module is one image mapped into the process: the main executable at
// its fixed addresses, or a shared library at a chosen load base.
type Module struct {
	Name         string
	Obj          *linker.Object
	LoadBase     uint64
	SectionAddrs map[string]uint64
}

// Loader maps an executable image and its dependencies into the current
// process. Modules are never unloaded; every mapping has process
// lifetime.
type Loader struct {
	modules []*Module
	loaded  utils.MapSet[string]
}

func New() *Loader {
	return &Loader{loaded: utils.NewMapSet[string]()}
}

// Exec maps the executable and its dependency closure, resolves and
// applies every relocation, locks page permissions, and transfers
// control to the entry point. It does not return on success.
func (l *Loader) Exec(obj *linker.Object) error {
	if obj.Kind != linker.KindExec {
		return fmt.Errorf("%s: not an executable", obj.Name)
	}

	main := newModule(obj.Name, obj)
	if main.Name == "" {
		main.Name = "main"
	}
	if err := l.mapModule(main); err != nil {
		return err
	}
	l.modules = append(l.modules, main)
	l.loaded.Add(main.Name)

	for _, dep := range obj.Needed {
		if err := l.loadRecursive(dep); err != nil {
			return err
		}
	}

	// Every module is mapped before the first relocation is applied,
	// and every relocation is applied before the first mprotect.
	if err := l.relocateAll(); err != nil {
		return err
	}
	if err := l.protectAll(); err != nil {
		return err
	}

	ret := enter(obj.Entry)
	utils.Fatal(fmt.Sprintf("entry point returned %d", ret))
	return nil
}

func newModule(name string, obj *linker.Object) *Module {
	return &Module{
		Name:         name,
		Obj:          obj,
		SectionAddrs: make(map[string]uint64),
	}
}

// mapModule requests a fixed R+W anonymous mapping per program header
// and copies the section bytes in; bss stays zeroed by the mapping.
func (l *Loader) mapModule(mod *Module) error {
	for i := range mod.Obj.Phdrs {
		ph := &mod.Obj.Phdrs[i]
		if ph.Size == 0 {
			continue
		}

		addr := mod.LoadBase + ph.VAddr
		if err := mapFixed(addr, ph.Size, rwProt); err != nil {
			return err
		}

		sec, ok := mod.Obj.Sections[ph.Name]
		if !ok {
			return fmt.Errorf("%s: section data not found for segment %s", mod.Name, ph.Name)
		}
		if ph.Name != ".bss" && !strings.HasPrefix(ph.Name, ".bss.") {
			n := uint64(len(sec.Data))
			if n > ph.Size {
				n = ph.Size
			}
			memCopy(addr, sec.Data[:n])
		}

		mod.SectionAddrs[ph.Name] = addr
	}
	return nil
}

func (l *Loader) loadRecursive(name string) error {
	if l.loaded.Contains(name) {
		return nil
	}

	obj, err := linker.LoadObject(name)
	if err != nil {
		obj, err = linker.LoadObject(name + ".fle")
		if err != nil {
			return fmt.Errorf("could not load dependency: %s", name)
		}
	}
	l.loaded.Add(name)

	mod := newModule(name, obj)
	if obj.Kind != linker.KindExec {
		// A shared library has no home: reserve an inaccessible region
		// covering its whole span, then fix-map the segments inside it.
		maxEnd := uint64(0)
		for i := range obj.Phdrs {
			ph := &obj.Phdrs[i]
			if ph.Size == 0 {
				continue
			}
			if end := ph.VAddr + ph.Size; end > maxEnd {
				maxEnd = end
			}
		}
		if maxEnd > 0 {
			base, err := reserveRegion(maxEnd)
			if err != nil {
				return err
			}
			mod.LoadBase = base
		}
	}

	if err := l.mapModule(mod); err != nil {
		return err
	}
	l.modules = append(l.modules, mod)

	for _, dep := range obj.Needed {
		if err := l.loadRecursive(dep); err != nil {
			return err
		}
	}
	return nil
}

// resolve scans modules in load order, main executable first, and
// returns the address of the first global or weak definition.
func (l *Loader) resolve(name string) (uint64, error) {
	for _, mod := range l.modules {
		for _, sym := range mod.Obj.Symbols {
			if sym.Name != name {
				continue
			}
			if sym.Kind != linker.SymbolGlobal && sym.Kind != linker.SymbolWeak {
				continue
			}
			if addr, ok := mod.SectionAddrs[sym.Section]; ok {
				return addr + sym.Offset, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %s", linker.ErrUndefinedSymbol, name)
}

func (l *Loader) relocateAll() error {
	for _, mod := range l.modules {
		// Dynamic relocations carry image-virtual offsets.
		for i := range mod.Obj.DynRelocs {
			rel := &mod.Obj.DynRelocs[i]
			S, err := l.resolve(rel.Symbol)
			if err != nil {
				return err
			}
			applyPatch(rel.Type, mod.LoadBase+rel.Offset, S, rel.Addend)
		}

		// Static relocations still present in section bodies are
		// section-relative.
		for _, sec := range mod.Obj.OrderedSections() {
			runtime, ok := mod.SectionAddrs[sec.Name]
			if !ok {
				continue
			}
			for i := range sec.Relocs {
				rel := &sec.Relocs[i]
				S, err := l.resolve(rel.Symbol)
				if err != nil {
					return err
				}
				applyPatch(rel.Type, runtime+rel.Offset, S, rel.Addend)
			}
		}
	}
	return nil
}

func applyPatch(typ linker.RelocType, addr uint64, S uint64, A int64) {
	mem := memSlice(addr, typ.Width())
	switch typ {
	case linker.RelocAbs64:
		utils.Write[uint64](mem, S+uint64(A))
	case linker.RelocAbs32:
		utils.Write[uint32](mem, uint32(S+uint64(A)))
	case linker.RelocAbs32S:
		utils.Write[int32](mem, int32(int64(S)+A))
	case linker.RelocPCRel32, linker.RelocGotPCRel32:
		utils.Write[int32](mem, int32(int64(S)+A-int64(addr)))
	}
}

func (l *Loader) protectAll() error {
	for _, mod := range l.modules {
		for i := range mod.Obj.Phdrs {
			ph := &mod.Obj.Phdrs[i]
			if ph.Size == 0 {
				continue
			}
			if err := protect(mod.LoadBase+ph.VAddr, ph.Size, protFor(ph.Flags)); err != nil {
				return err
			}
		}
	}
	return nil
}
