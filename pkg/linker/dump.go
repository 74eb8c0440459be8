package linker

import (
	"fmt"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Dump serializes an object back to the on-disk FLE format. Dynamic
// relocations are embedded into the owning section's line stream as
// .dyn* tags.
func Dump(obj *Object) ([]byte, error) {
	stream := jsoniter.NewStream(json, nil, 4096)
	w := &jsonWriter{stream: stream}
	if err := dumpInto(w, obj, false); err != nil {
		return nil, err
	}
	if stream.Error != nil {
		return nil, stream.Error
	}
	out := append([]byte{}, stream.Buffer()...)
	return append(out, '\n'), nil
}

// jsonWriter tracks comma placement for a hand-streamed JSON object.
type jsonWriter struct {
	stream *jsoniter.Stream
	depth  []bool
}

func (w *jsonWriter) objectStart() {
	w.stream.WriteObjectStart()
	w.depth = append(w.depth, false)
}

func (w *jsonWriter) objectEnd() {
	w.stream.WriteObjectEnd()
	w.depth = w.depth[:len(w.depth)-1]
}

func (w *jsonWriter) field(name string) {
	if w.depth[len(w.depth)-1] {
		w.stream.WriteMore()
	}
	w.depth[len(w.depth)-1] = true
	w.stream.WriteObjectField(name)
}

func (w *jsonWriter) stringArray(vals []string) {
	if len(vals) == 0 {
		w.stream.WriteEmptyArray()
		return
	}
	w.stream.WriteArrayStart()
	for i, v := range vals {
		if i > 0 {
			w.stream.WriteMore()
		}
		w.stream.WriteString(v)
	}
	w.stream.WriteArrayEnd()
}

func dumpInto(w *jsonWriter, obj *Object, includeName bool) error {
	w.objectStart()
	defer w.objectEnd()

	w.field("type")
	w.stream.WriteString(obj.Kind)

	if includeName || obj.Kind == KindArchive {
		w.field("name")
		w.stream.WriteString(obj.Name)
	}

	if obj.Kind == KindArchive {
		w.field("members")
		if len(obj.Members) == 0 {
			w.stream.WriteEmptyArray()
			return nil
		}
		w.stream.WriteArrayStart()
		for i, member := range obj.Members {
			if i > 0 {
				w.stream.WriteMore()
			}
			if err := dumpInto(w, member, true); err != nil {
				return err
			}
		}
		w.stream.WriteArrayEnd()
		return nil
	}

	if obj.Kind == KindExec {
		writePhdrs(w, obj.Phdrs)
		w.field("entry")
		w.stream.WriteUint64(obj.Entry)
	}
	if obj.Kind == KindShared {
		writePhdrs(w, obj.Phdrs)
	}
	// Section headers are kept for any object that carries them: layout
	// is section-header driven, so archive members must not lose theirs.
	if obj.Kind == KindShared || len(obj.Shdrs) > 0 {
		writeShdrs(w, obj.Shdrs)
	}
	if (obj.Kind == KindExec || obj.Kind == KindShared) && len(obj.Needed) > 0 {
		w.field("needed")
		w.stringArray(obj.Needed)
	}

	sections, err := sectionLines(obj)
	if err != nil {
		return err
	}
	for _, sec := range sections {
		w.field(sec.name)
		w.stringArray(sec.lines)
	}
	return nil
}

func writePhdrs(w *jsonWriter, phdrs []Phdr) {
	w.field("phdrs")
	if len(phdrs) == 0 {
		w.stream.WriteEmptyArray()
		return
	}
	w.stream.WriteArrayStart()
	for i := range phdrs {
		if i > 0 {
			w.stream.WriteMore()
		}
		w.objectStart()
		w.field("name")
		w.stream.WriteString(phdrs[i].Name)
		w.field("vaddr")
		w.stream.WriteUint64(phdrs[i].VAddr)
		w.field("size")
		w.stream.WriteUint64(phdrs[i].Size)
		w.field("flags")
		w.stream.WriteUint32(phdrs[i].Flags)
		w.objectEnd()
	}
	w.stream.WriteArrayEnd()
}

func writeShdrs(w *jsonWriter, shdrs []Shdr) {
	w.field("shdrs")
	if len(shdrs) == 0 {
		w.stream.WriteEmptyArray()
		return
	}
	w.stream.WriteArrayStart()
	for i := range shdrs {
		if i > 0 {
			w.stream.WriteMore()
		}
		w.objectStart()
		w.field("name")
		w.stream.WriteString(shdrs[i].Name)
		w.field("type")
		w.stream.WriteUint32(shdrs[i].Type)
		w.field("flags")
		w.stream.WriteUint32(shdrs[i].Flags)
		w.field("addr")
		w.stream.WriteUint64(shdrs[i].Addr)
		w.field("offset")
		w.stream.WriteUint64(shdrs[i].Offset)
		w.field("size")
		w.stream.WriteUint64(shdrs[i].Size)
		w.objectEnd()
	}
	w.stream.WriteArrayEnd()
}

type dumpedSection struct {
	name  string
	lines []string
}

type relocOut struct {
	rel     Reloc
	dynamic bool
}

func sectionLines(obj *Object) ([]dumpedSection, error) {
	symIndex := make(map[string]map[uint64][]*Symbol)
	for _, sym := range obj.Symbols {
		if sym.Kind == SymbolUndefined {
			continue
		}
		if symIndex[sym.Section] == nil {
			symIndex[sym.Section] = make(map[uint64][]*Symbol)
		}
		symIndex[sym.Section][sym.Offset] = append(symIndex[sym.Section][sym.Offset], sym)
	}

	dynBySection, err := attributeDynRelocs(obj)
	if err != nil {
		return nil, err
	}

	// Section-header file offsets decide the order; sections without a
	// header keep their relative SectionOrder position.
	names := append([]string{}, obj.SectionOrder...)
	offsetOf := func(name string) uint64 {
		for i := range obj.Shdrs {
			if obj.Shdrs[i].Name == name {
				return obj.Shdrs[i].Offset
			}
		}
		return 0
	}
	sort.SliceStable(names, func(i, j int) bool {
		return offsetOf(names[i]) < offsetOf(names[j])
	})

	out := make([]dumpedSection, 0, len(names))
	for _, name := range names {
		sec := obj.Sections[name]
		lines := formatSection(sec, symIndex[name], dynBySection[name])
		out = append(out, dumpedSection{name: name, lines: lines})
	}
	return out, nil
}

// attributeDynRelocs rebases each dynamic relocation onto the section or
// segment whose address range covers its offset.
func attributeDynRelocs(obj *Object) (map[string][]Reloc, error) {
	type rng struct {
		name       string
		start, end uint64
	}
	var ranges []rng
	seen := make(map[string]bool)
	for i := range obj.Shdrs {
		sh := &obj.Shdrs[i]
		ranges = append(ranges, rng{sh.Name, sh.Addr, sh.Addr + sh.Size})
		seen[sh.Name] = true
	}
	for i := range obj.Phdrs {
		ph := &obj.Phdrs[i]
		if seen[ph.Name] {
			continue
		}
		ranges = append(ranges, rng{ph.Name, ph.VAddr, ph.VAddr + ph.Size})
	}

	out := make(map[string][]Reloc)
	for _, rel := range obj.DynRelocs {
		assigned := false
		for _, r := range ranges {
			if r.start <= rel.Offset && rel.Offset < r.end {
				local := rel
				local.Offset -= r.start
				out[r.name] = append(out[r.name], local)
				assigned = true
				break
			}
		}
		if !assigned {
			return nil, fmt.Errorf("%w: dynamic relocation offset %#x outside known sections",
				ErrMalformedInput, rel.Offset)
		}
	}
	return out, nil
}

func formatSection(sec *Section, syms map[uint64][]*Symbol, dynRels []Reloc) []string {
	relocIndex := make(map[uint64][]relocOut)
	for _, rel := range sec.Relocs {
		relocIndex[rel.Offset] = append(relocIndex[rel.Offset], relocOut{rel: rel})
	}
	for _, rel := range dynRels {
		relocIndex[rel.Offset] = append(relocIndex[rel.Offset], relocOut{rel: rel, dynamic: true})
	}

	var breaks []uint64
	for off := range syms {
		breaks = append(breaks, off)
	}
	for off := range relocIndex {
		breaks = append(breaks, off)
	}
	sort.Slice(breaks, func(i, j int) bool { return breaks[i] < breaks[j] })

	var lines []string
	emitSymbols := func(pos uint64) {
		for _, sym := range syms[pos] {
			lines = append(lines, formatSymbol(sym))
		}
	}

	pos := uint64(0)
	size := uint64(len(sec.Data))
	for pos < size {
		emitSymbols(pos)

		if rels, ok := relocIndex[pos]; ok {
			for _, entry := range rels {
				lines = append(lines, formatReloc(entry))
				pos += uint64(entry.rel.Type.Width())
			}
			continue
		}

		nextBreak := size
		idx := sort.Search(len(breaks), func(i int) bool { return breaks[i] > pos })
		if idx < len(breaks) {
			nextBreak = breaks[idx]
		}

		for pos < nextBreak {
			chunk := nextBreak - pos
			if chunk > 16 {
				chunk = 16
			}
			var sb strings.Builder
			sb.WriteString(prefixBytes + ": ")
			for i := uint64(0); i < chunk; i++ {
				if i > 0 {
					sb.WriteByte(' ')
				}
				fmt.Fprintf(&sb, "%02x", sec.Data[pos+i])
			}
			lines = append(lines, sb.String())
			pos += chunk
		}
	}
	emitSymbols(size)

	return lines
}

func formatSymbol(sym *Symbol) string {
	var prefix string
	switch sym.Kind {
	case SymbolLocal:
		prefix = prefixLocal
	case SymbolWeak:
		prefix = prefixWeak
	case SymbolGlobal:
		prefix = prefixGlobal
	}
	return fmt.Sprintf("%s: %s %d %d", prefix, sym.Name, sym.Size, sym.Offset)
}

func formatReloc(entry relocOut) string {
	sign := "+"
	addend := entry.rel.Addend
	if addend < 0 {
		sign = "-"
		addend = -addend
	}
	return fmt.Sprintf("%s: %s(%s %s %x)",
		prefixReloc, entry.rel.Type.Tag(entry.dynamic), entry.rel.Symbol, sign, addend)
}
