package linker

// BuildOutput slices the patched buffer into the output sections and
// assembles the final executable or shared-library object.
func BuildOutput(ctx *Context) *Object {
	kind := KindExec
	if ctx.Arg.Shared {
		kind = KindShared
	}
	out := NewObject(ctx.Arg.Output, kind)

	textSize := uint64(len(ctx.Text))
	rodataSize := uint64(len(ctx.Rodata))
	dataSize := uint64(len(ctx.Data))
	gotSize := uint64(len(ctx.GotOrder)) * 8

	textEnd := textSize + ctx.PltSize
	out.AddSection(&Section{Name: ".text", Data: ctx.Buf[:textEnd]})
	out.AddSection(&Section{Name: ".rodata", Data: ctx.Buf[textEnd : textEnd+rodataSize]})
	out.AddSection(&Section{Name: ".data", Data: ctx.Buf[textEnd+rodataSize : textEnd+rodataSize+dataSize]})
	if gotSize > 0 {
		// Slots stay zero in the file; the loader fills them.
		out.AddSection(&Section{Name: ".got", Data: make([]byte, gotSize)})
	}
	out.AddSection(&Section{Name: ".bss", Data: make([]byte, ctx.BssSize)})

	out.Phdrs = append(out.Phdrs, Phdr{Name: ".text", VAddr: ctx.TextBase, Size: textEnd, Flags: PhfR | PhfX})
	out.Phdrs = append(out.Phdrs, Phdr{Name: ".rodata", VAddr: ctx.RodataBase, Size: rodataSize, Flags: PhfR})
	out.Phdrs = append(out.Phdrs, Phdr{Name: ".data", VAddr: ctx.DataBase, Size: dataSize, Flags: PhfR | PhfW})
	if gotSize > 0 {
		out.Phdrs = append(out.Phdrs, Phdr{Name: ".got", VAddr: ctx.GotBase, Size: gotSize, Flags: PhfR | PhfW})
	}
	out.Phdrs = append(out.Phdrs, Phdr{Name: ".bss", VAddr: ctx.BssBase, Size: ctx.BssSize, Flags: PhfR | PhfW})

	// Re-export every defined global and weak symbol, rebased onto the
	// output segment it landed in, so other modules can resolve against
	// this image at load time.
	for _, obj := range ctx.Active {
		for _, sym := range obj.Symbols {
			if sym.Section == "" {
				continue
			}
			if sym.Kind != SymbolGlobal && sym.Kind != SymbolWeak {
				continue
			}
			base, ok := ctx.SectionVAddr[obj][sym.Section]
			if !ok {
				continue
			}
			seg := ClassifySection(sym.Section)
			out.Symbols = append(out.Symbols, &Symbol{
				Kind:    sym.Kind,
				Section: segSectionName(seg),
				Offset:  base + sym.Offset - ctx.SegBase(seg),
				Size:    sym.Size,
				Name:    sym.Name,
			})
		}
	}

	for _, so := range ctx.SharedDeps {
		if so.Name != "" {
			out.Needed = append(out.Needed, so.Name)
		}
	}
	out.DynRelocs = ctx.DynRelocsOut

	if !ctx.Arg.Shared {
		if def, ok := ctx.Globals[ctx.Arg.Entry]; ok {
			out.Entry = def.Addr
		}
	}

	return out
}

func segSectionName(seg SegKind) string {
	switch seg {
	case SegText:
		return ".text"
	case SegRodata:
		return ".rodata"
	case SegData:
		return ".data"
	default:
		return ".bss"
	}
}
