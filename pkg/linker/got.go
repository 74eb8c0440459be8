package linker

import (
	"strings"

	"fle/pkg/utils"
)

// PltStubSize is the length of one PLT entry: FF 25 disp32, an indirect
// jump through the symbol's GOT slot.
const PltStubSize = 6

// sizePltGot scans every relocation of every placed section for
// external references and assigns GOT slots: external functions first
// (these also get a PLT stub each), then the remaining external data
// symbols. Slot order is sorted by name, so a link over the same input
// set always lays out the same image.
func sizePltGot(ctx *Context) {
	globals, locals := defNameSets(ctx.Active)

	externFuncs := utils.NewMapSet[string]()
	externDatas := utils.NewMapSet[string]()
	for _, p := range ctx.Placements {
		for i := range p.Sec.Relocs {
			rel := &p.Sec.Relocs[i]
			if strings.HasPrefix(rel.Symbol, ".") {
				continue
			}
			if !ctx.SoDefined[rel.Symbol] {
				continue
			}
			internal := locals[p.Obj].Contains(rel.Symbol) || globals.Contains(rel.Symbol)

			switch rel.Type {
			case RelocPCRel32:
				if !internal {
					externFuncs.Add(rel.Symbol)
				}
			case RelocGotPCRel32:
				// A GOT reference goes through the slot even when the
				// symbol is also defined locally, so the shared
				// definition can win at load time.
				externDatas.Add(rel.Symbol)
			}
		}
	}

	addSlot := func(name string) {
		if _, ok := ctx.GotIndex[name]; ok {
			return
		}
		ctx.GotIndex[name] = len(ctx.GotOrder)
		ctx.GotOrder = append(ctx.GotOrder, name)
	}
	for _, name := range utils.SortedItems(externFuncs) {
		addSlot(name)
	}
	ctx.PltCount = len(ctx.GotOrder)
	for _, name := range utils.SortedItems(externDatas) {
		addSlot(name)
	}

	ctx.PltSize = uint64(ctx.PltCount) * PltStubSize
}

// EmitPltStubs writes the 6-byte jump stubs after the text body, one per
// external function, each targeting its own GOT slot.
func EmitPltStubs(ctx *Context) {
	for idx := 0; idx < ctx.PltCount; idx++ {
		stubAddr := ctx.PltBase + PltStubSize*uint64(idx)
		slot := ctx.GotBase + 8*uint64(idx)
		disp := int32(int64(slot) - int64(stubAddr+PltStubSize))

		off := uint64(len(ctx.Text)) + PltStubSize*uint64(idx)
		ctx.Buf[off] = 0xff
		ctx.Buf[off+1] = 0x25
		utils.Write[int32](ctx.Buf[off+2:], disp)
	}
}
