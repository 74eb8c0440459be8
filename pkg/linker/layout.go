package linker

import (
	"strings"

	"fle/pkg/utils"
)

type SegKind uint8

const (
	SegText SegKind = iota
	SegRodata
	SegData
	SegBss
)

// ClassifySection maps an input section name onto its output segment.
// Anything that is not text, rodata or bss falls back to data.
func ClassifySection(name string) SegKind {
	switch {
	case strings.HasPrefix(name, ".text"):
		return SegText
	case strings.HasPrefix(name, ".rodata"):
		return SegRodata
	case strings.HasPrefix(name, ".bss"):
		return SegBss
	default:
		return SegData
	}
}

// Placement records where one input section landed: its offset within
// the output segment and, once bases are assigned, its virtual address.
type Placement struct {
	Obj    *Object
	Sec    *Section
	Name   string
	Size   uint64
	Seg    SegKind
	SegOff uint64
	VAddr  uint64
}

// ComputeLayout concatenates the active set's sections into the output
// segments, sizes the PLT and GOT, and assigns every placement its
// virtual address under the fixed image base.
func ComputeLayout(ctx *Context) {
	for _, obj := range ctx.Active {
		for i := range obj.Shdrs {
			shdr := &obj.Shdrs[i]
			sec, ok := obj.Sections[shdr.Name]
			if !ok {
				continue
			}

			p := Placement{
				Obj:  obj,
				Sec:  sec,
				Name: shdr.Name,
				Size: shdr.Size,
				Seg:  ClassifySection(shdr.Name),
			}
			switch p.Seg {
			case SegText:
				p.SegOff = uint64(len(ctx.Text))
				ctx.Text = append(ctx.Text, sec.Data...)
			case SegRodata:
				p.SegOff = uint64(len(ctx.Rodata))
				ctx.Rodata = append(ctx.Rodata, sec.Data...)
			case SegData:
				p.SegOff = uint64(len(ctx.Data))
				ctx.Data = append(ctx.Data, sec.Data...)
			case SegBss:
				p.SegOff = ctx.BssSize
				ctx.BssSize += shdr.Size
			}
			ctx.Placements = append(ctx.Placements, p)
		}
	}

	for _, so := range ctx.SharedDeps {
		for _, sym := range so.Symbols {
			if sym.Section != "" && (sym.Kind == SymbolGlobal || sym.Kind == SymbolWeak) {
				ctx.SoDefined[sym.Name] = true
			}
		}
	}

	if !ctx.Arg.Shared {
		sizePltGot(ctx)
	}

	gotSize := uint64(len(ctx.GotOrder)) * 8

	ctx.TextBase = ImageBase
	ctx.PltBase = ctx.TextBase + uint64(len(ctx.Text))
	ctx.RodataBase = utils.AlignTo(ctx.TextBase+uint64(len(ctx.Text))+ctx.PltSize, PageSize)
	ctx.DataBase = utils.AlignTo(ctx.RodataBase+uint64(len(ctx.Rodata)), PageSize)
	ctx.GotBase = utils.AlignTo(ctx.DataBase+uint64(len(ctx.Data)), PageSize)
	ctx.BssBase = utils.AlignTo(ctx.GotBase+gotSize, PageSize)

	for i := range ctx.Placements {
		p := &ctx.Placements[i]
		p.VAddr = ctx.SegBase(p.Seg) + p.SegOff

		if ctx.SectionVAddr[p.Obj] == nil {
			ctx.SectionVAddr[p.Obj] = make(map[string]uint64)
		}
		if _, ok := ctx.SectionVAddr[p.Obj][p.Name]; !ok {
			ctx.SectionVAddr[p.Obj][p.Name] = p.VAddr
		}
	}
}

func (ctx *Context) SegBase(seg SegKind) uint64 {
	switch seg {
	case SegText:
		return ctx.TextBase
	case SegRodata:
		return ctx.RodataBase
	case SegData:
		return ctx.DataBase
	default:
		return ctx.BssBase
	}
}
