package linker

import (
	"fmt"
	"math"

	"fle/pkg/utils"
)

// ApplyRelocations assembles the physical output buffer
// [text | plt | rodata | data | got], patches every static relocation
// that can be resolved at link time, and collects the dynamic
// relocations the loader will apply.
func ApplyRelocations(ctx *Context) error {
	gotSize := uint64(len(ctx.GotOrder)) * 8

	ctx.Buf = make([]byte, uint64(len(ctx.Text))+ctx.PltSize+
		uint64(len(ctx.Rodata))+uint64(len(ctx.Data))+gotSize)
	copy(ctx.Buf, ctx.Text)
	copy(ctx.Buf[uint64(len(ctx.Text))+ctx.PltSize:], ctx.Rodata)
	copy(ctx.Buf[uint64(len(ctx.Text))+ctx.PltSize+uint64(len(ctx.Rodata)):], ctx.Data)

	for i := range ctx.Placements {
		p := &ctx.Placements[i]
		for j := range p.Sec.Relocs {
			if err := applyOne(ctx, p, &p.Sec.Relocs[j]); err != nil {
				return err
			}
		}
	}

	// Every GOT slot is filled by the loader: one ABS64 dynamic
	// relocation per slot, at the slot's virtual address.
	for idx, sym := range ctx.GotOrder {
		ctx.DynRelocsOut = append(ctx.DynRelocsOut, Reloc{
			Type:   RelocAbs64,
			Offset: ctx.GotBase + 8*uint64(idx),
			Symbol: sym,
		})
	}

	return nil
}

func applyOne(ctx *Context, p *Placement, rel *Reloc) error {
	P := p.VAddr + rel.Offset
	A := rel.Addend
	internal := isInternal(ctx, p.Obj, rel.Symbol)
	soDefined := ctx.SoDefined[rel.Symbol]

	if ctx.Arg.Shared {
		if internal && !soDefined {
			return patchInternal(ctx, p.Obj, rel, P)
		}
		// A reference a direct shared dependency provides, or one left
		// for whoever loads us: the loader resolves it.
		ctx.DynRelocsOut = append(ctx.DynRelocsOut, Reloc{
			Type:   rel.Type,
			Offset: P,
			Symbol: rel.Symbol,
			Addend: A,
		})
		return nil
	}

	if soDefined && (rel.Type == RelocGotPCRel32 || !internal) {
		idx, ok := ctx.GotIndex[rel.Symbol]
		utils.Assert(ok)

		switch rel.Type {
		case RelocPCRel32:
			stub := ctx.PltBase + PltStubSize*uint64(idx)
			return patch32(ctx, P, int64(stub)+A-int64(P))
		case RelocGotPCRel32:
			slot := ctx.GotBase + 8*uint64(idx)
			return patch32(ctx, P, int64(slot)+A-int64(P))
		}
		return fmt.Errorf("%w: %s: relocation kind unsupported against shared symbol",
			ErrUndefinedSymbol, rel.Symbol)
	}

	if internal {
		return patchInternal(ctx, p.Obj, rel, P)
	}

	return fmt.Errorf("%w: %s", ErrUndefinedSymbol, rel.Symbol)
}

func patchInternal(ctx *Context, obj *Object, rel *Reloc, P uint64) error {
	S, err := LookupSymbol(ctx, obj, rel.Symbol)
	if err != nil {
		return err
	}
	A := rel.Addend

	switch rel.Type {
	case RelocAbs32, RelocAbs32S:
		if off, ok := patchOffset(ctx, P); ok {
			utils.Write[uint32](ctx.Buf[off:], uint32(S+uint64(A)))
		}
		return nil
	case RelocAbs64:
		if off, ok := patchOffset(ctx, P); ok {
			utils.Write[uint64](ctx.Buf[off:], S+uint64(A))
		}
		return nil
	case RelocPCRel32, RelocGotPCRel32:
		// A GOT-relative reference to a symbol no shared library
		// provides collapses to a direct PC-relative patch.
		return patch32(ctx, P, int64(S)+A-int64(P))
	}
	return fmt.Errorf("%w: unknown relocation kind %d", ErrMalformedInput, rel.Type)
}

// patch32 writes a signed 32-bit displacement, rejecting values that do
// not fit.
func patch32(ctx *Context, P uint64, val int64) error {
	if val < math.MinInt32 || val > math.MaxInt32 {
		return fmt.Errorf("%w: displacement %#x at %#x", ErrLayoutOverflow, val, P)
	}
	if off, ok := patchOffset(ctx, P); ok {
		utils.Write[int32](ctx.Buf[off:], int32(val))
	}
	return nil
}

// patchOffset maps a virtual patch address onto its byte offset in the
// physical output buffer. Sites in bss have no file-backed bytes.
func patchOffset(ctx *Context, V uint64) (uint64, bool) {
	textSize := uint64(len(ctx.Text))
	switch {
	case V >= ctx.TextBase && V < ctx.RodataBase:
		return V - ctx.TextBase, true
	case V >= ctx.RodataBase && V < ctx.DataBase:
		return textSize + ctx.PltSize + (V - ctx.RodataBase), true
	case V >= ctx.DataBase && V < ctx.GotBase:
		return textSize + ctx.PltSize + uint64(len(ctx.Rodata)) + (V - ctx.DataBase), true
	}
	return 0, false
}
