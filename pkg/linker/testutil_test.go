package linker

// Helpers to build input objects the way the compiler front end would
// emit them: section bodies plus matching section headers.

func testObject(name string) *Object {
	return NewObject(name, KindObject)
}

func addSection(obj *Object, name string, data []byte, relocs ...Reloc) *Section {
	sec := &Section{Name: name, Data: data, Relocs: relocs}
	obj.AddSection(sec)
	obj.Shdrs = append(obj.Shdrs, Shdr{
		Name: name,
		Size: uint64(len(data)),
	})
	return sec
}

// addBss declares a nobits section: a header with a size but no bytes.
func addBss(obj *Object, name string, size uint64) {
	obj.AddSection(&Section{Name: name})
	obj.Shdrs = append(obj.Shdrs, Shdr{
		Name:  name,
		Flags: ShfAlloc | ShfWrite | ShfNobits,
		Size:  size,
	})
}

func addSymbol(obj *Object, kind SymbolKind, section, name string, offset, size uint64) {
	obj.Symbols = append(obj.Symbols, &Symbol{
		Kind:    kind,
		Section: section,
		Offset:  offset,
		Size:    size,
		Name:    name,
	})
	if sec, ok := obj.Sections[section]; ok {
		sec.HasSymbols = true
	}
}

// sharedStub builds a shared-library stub that exports the named
// functions from a one-byte-per-symbol text section.
func sharedStub(name string, exports ...string) *Object {
	so := NewObject(name, KindShared)
	data := make([]byte, len(exports))
	addSection(so, ".text", data)
	for i, sym := range exports {
		addSymbol(so, SymbolGlobal, ".text", sym, uint64(i), 1)
	}
	return so
}

func linkObjects(ctx *Context, inputs ...*Object) (*Object, error) {
	for _, obj := range inputs {
		AddInput(ctx, obj)
	}
	return Link(ctx)
}
