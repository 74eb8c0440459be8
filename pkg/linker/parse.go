package linker

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// json is the shared jsoniter config: 4-space indention for the on-disk
// format, document-order key iteration for parsing.
var json = jsoniter.Config{IndentionStep: 4, EscapeHTML: false}.Froze()

const (
	prefixLocal  = "🏷️"
	prefixWeak   = "📎"
	prefixGlobal = "📤"
	prefixBytes  = "🔢"
	prefixReloc  = "❓"
)

type rawSection struct {
	name  string
	lines []string
}

// pendingDynReloc is a .dyn* line whose stream position still has to be
// rebased onto the owning section's address.
type pendingDynReloc struct {
	section string
	rel     Reloc
}

// ParseObject decodes one FLE document. A leading shebang line is
// stripped before parsing.
func ParseObject(data []byte, name string) (*Object, error) {
	if bytes.HasPrefix(data, []byte("#!")) {
		if idx := bytes.IndexByte(data, '\n'); idx != -1 {
			data = data[idx+1:]
		}
	}

	obj := NewObject(name, "")

	var sections []rawSection
	var memberDocs [][]byte

	iter := jsoniter.ParseBytes(json, data)
	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		switch field {
		case "type":
			obj.Kind = iter.ReadString()
		case "name":
			docName := iter.ReadString()
			if obj.Name == "" {
				obj.Name = docName
			}
		case "entry":
			obj.Entry = iter.ReadUint64()
		case "phdrs":
			iter.ReadVal(&obj.Phdrs)
		case "shdrs":
			iter.ReadVal(&obj.Shdrs)
		case "needed":
			iter.ReadVal(&obj.Needed)
		case "dyn_relocs":
			iter.ReadVal(&obj.DynRelocs)
		case "members":
			iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
				memberDocs = append(memberDocs, it.SkipAndReturnBytes())
				return true
			})
		default:
			var lines []string
			iter.ReadVal(&lines)
			sections = append(sections, rawSection{name: field, lines: lines})
		}
	}
	// A complete document never leaves a read error behind: the field
	// loop stops cleanly on the closing brace. io.EOF here means the
	// input was truncated.
	if iter.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrMalformedInput, name, iter.Error)
	}

	switch obj.Kind {
	case KindObject, KindExec, KindShared:
	case KindArchive:
		for _, doc := range memberDocs {
			memberName := jsoniter.Get(doc, "name").ToString()
			member, err := ParseObject(doc, memberName)
			if err != nil {
				return nil, err
			}
			obj.Members = append(obj.Members, member)
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("%w: %s: unknown object type %q", ErrMalformedInput, name, obj.Kind)
	}

	// First pass over every section collects definitions, so a relocation
	// that references a symbol defined later is not misread as undefined.
	known := make(map[string]bool)
	for _, raw := range sections {
		for _, line := range raw.lines {
			sym, ok, err := parseSymbolLine(raw.name, line)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if ok {
				obj.Symbols = append(obj.Symbols, sym)
				known[sym.Name] = true
			}
		}
	}

	var pending []pendingDynReloc
	for _, raw := range sections {
		sec := &Section{Name: raw.name}
		for _, line := range raw.lines {
			prefix, content, found := strings.Cut(line, ":")
			if !found {
				return nil, fmt.Errorf("%w: %s: bad section line %q", ErrMalformedInput, name, line)
			}
			switch prefix {
			case prefixLocal, prefixWeak, prefixGlobal:
				sec.HasSymbols = true
			case prefixBytes:
				for _, tok := range strings.Fields(content) {
					b, err := strconv.ParseUint(tok, 16, 8)
					if err != nil {
						return nil, fmt.Errorf("%w: %s: bad byte %q", ErrMalformedInput, name, tok)
					}
					sec.Data = append(sec.Data, byte(b))
				}
			case prefixReloc:
				typ, dynamic, sym, addend, err := parseRelocLine(content)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", name, err)
				}
				rel := Reloc{
					Type:   typ,
					Offset: uint64(len(sec.Data)),
					Symbol: sym,
					Addend: addend,
				}
				if dynamic {
					pending = append(pending, pendingDynReloc{section: raw.name, rel: rel})
				} else {
					sec.Relocs = append(sec.Relocs, rel)
				}
				if !known[sym] {
					known[sym] = true
					obj.Symbols = append(obj.Symbols, &Symbol{Kind: SymbolUndefined, Name: sym})
				}
				sec.Data = append(sec.Data, make([]byte, typ.Width())...)
			default:
				return nil, fmt.Errorf("%w: %s: unknown line prefix %q", ErrMalformedInput, name, prefix)
			}
		}
		obj.AddSection(sec)
	}

	for _, p := range pending {
		addr, ok := obj.SectionAddr(p.section)
		if !ok {
			return nil, fmt.Errorf("%w: %s: dynamic relocation in unaddressed section %s",
				ErrMalformedInput, name, p.section)
		}
		p.rel.Offset += addr
		obj.DynRelocs = append(obj.DynRelocs, p.rel)
	}

	if err := obj.Validate(); err != nil {
		return nil, err
	}
	return obj, nil
}

func parseSymbolLine(section, line string) (*Symbol, bool, error) {
	prefix, content, found := strings.Cut(line, ":")
	if !found {
		return nil, false, fmt.Errorf("%w: bad section line %q", ErrMalformedInput, line)
	}

	var kind SymbolKind
	switch prefix {
	case prefixLocal:
		kind = SymbolLocal
	case prefixWeak:
		kind = SymbolWeak
	case prefixGlobal:
		kind = SymbolGlobal
	default:
		return nil, false, nil
	}

	fields := strings.Fields(content)
	if len(fields) != 3 {
		return nil, false, fmt.Errorf("%w: bad symbol line %q", ErrMalformedInput, line)
	}
	size, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("%w: bad symbol size in %q", ErrMalformedInput, line)
	}
	offset, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return nil, false, fmt.Errorf("%w: bad symbol offset in %q", ErrMalformedInput, line)
	}

	return &Symbol{
		Kind:    kind,
		Section: section,
		Offset:  offset,
		Size:    size,
		Name:    fields[0],
	}, true, nil
}

// parseRelocLine decodes "TAG(SYMBOL ± ADDEND)". The addend digits are
// hexadecimal, as the serializer writes them; a 0x prefix is accepted.
func parseRelocLine(content string) (RelocType, bool, string, int64, error) {
	s := strings.TrimSpace(content)
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return 0, false, "", 0, fmt.Errorf("%w: invalid relocation: %s", ErrMalformedInput, s)
	}

	typ, dynamic, err := ParseRelocTag(s[:open])
	if err != nil {
		return 0, false, "", 0, err
	}

	inner := s[open+1 : len(s)-1]
	signIdx := strings.IndexAny(inner, "+-")
	if signIdx < 0 {
		return 0, false, "", 0, fmt.Errorf("%w: invalid relocation: %s", ErrMalformedInput, s)
	}
	sym := strings.TrimSpace(inner[:signIdx])
	if sym == "" {
		return 0, false, "", 0, fmt.Errorf("%w: invalid relocation: %s", ErrMalformedInput, s)
	}

	digits := strings.TrimSpace(inner[signIdx+1:])
	digits = strings.TrimPrefix(strings.TrimPrefix(digits, "0x"), "0X")
	addend, err := strconv.ParseInt(digits, 16, 64)
	if err != nil {
		return 0, false, "", 0, fmt.Errorf("%w: invalid relocation addend: %s", ErrMalformedInput, s)
	}
	if inner[signIdx] == '-' {
		addend = -addend
	}

	return typ, dynamic, sym, addend, nil
}
