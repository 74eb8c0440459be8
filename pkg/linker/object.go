package linker

import "fmt"

const ImageBase uint64 = 0x400000

const PageSize uint64 = 4096

const (
	KindObject  = ".obj"
	KindExec    = ".exe"
	KindShared  = ".so"
	KindArchive = ".ar"
)

const (
	PhfX uint32 = 1
	PhfW uint32 = 2
	PhfR uint32 = 4
)

const (
	ShfAlloc  uint32 = 1
	ShfWrite  uint32 = 2
	ShfExec   uint32 = 4
	ShfNobits uint32 = 8
)

type SymbolKind uint8

const (
	SymbolLocal SymbolKind = iota
	SymbolWeak
	SymbolGlobal
	SymbolUndefined
)

type Symbol struct {
	Kind    SymbolKind
	Section string // empty iff undefined
	Offset  uint64
	Size    uint64
	Name    string
}

type Section struct {
	Name       string
	Data       []byte
	Relocs     []Reloc
	HasSymbols bool
}

type Phdr struct {
	Name  string `json:"name"`
	VAddr uint64 `json:"vaddr"`
	Size  uint64 `json:"size"`
	Flags uint32 `json:"flags"`
}

type Shdr struct {
	Name   string `json:"name"`
	Type   uint32 `json:"type"`
	Flags  uint32 `json:"flags"`
	Addr   uint64 `json:"addr"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

type Object struct {
	Name    string
	Kind    string
	Entry   uint64
	Shdrs   []Shdr
	Phdrs   []Phdr
	Symbols []*Symbol

	// Section bodies, keyed by name. SectionOrder preserves the order the
	// sections appeared in (document order for parsed objects, creation
	// order for linker output).
	Sections     map[string]*Section
	SectionOrder []string

	Needed    []string
	DynRelocs []Reloc

	Members []*Object
}

func NewObject(name, kind string) *Object {
	return &Object{
		Name:     name,
		Kind:     kind,
		Sections: make(map[string]*Section),
	}
}

func (o *Object) AddSection(sec *Section) {
	o.Sections[sec.Name] = sec
	o.SectionOrder = append(o.SectionOrder, sec.Name)
}

// OrderedSections returns the bodies in SectionOrder.
func (o *Object) OrderedSections() []*Section {
	secs := make([]*Section, 0, len(o.SectionOrder))
	for _, name := range o.SectionOrder {
		secs = append(secs, o.Sections[name])
	}
	return secs
}

// SectionAddr finds the load address of a named section or segment,
// section headers taking priority over program headers.
func (o *Object) SectionAddr(name string) (uint64, bool) {
	for i := range o.Shdrs {
		if o.Shdrs[i].Name == name {
			return o.Shdrs[i].Addr, true
		}
	}
	for i := range o.Phdrs {
		if o.Phdrs[i].Name == name {
			return o.Phdrs[i].VAddr, true
		}
	}
	return 0, false
}

// Validate checks the structural invariants of a freshly ingested object.
func (o *Object) Validate() error {
	for _, sym := range o.Symbols {
		if sym.Section == "" {
			continue
		}
		if _, ok := o.Sections[sym.Section]; !ok {
			return fmt.Errorf("%w: symbol %s defined in missing section %s",
				ErrMalformedInput, sym.Name, sym.Section)
		}
	}
	for _, sec := range o.Sections {
		for i := range sec.Relocs {
			rel := &sec.Relocs[i]
			if rel.Offset+uint64(rel.Type.Width()) > uint64(len(sec.Data)) {
				return fmt.Errorf("%w: relocation at %#x overruns section %s",
					ErrMalformedInput, rel.Offset, sec.Name)
			}
		}
	}
	for _, member := range o.Members {
		if err := member.Validate(); err != nil {
			return err
		}
	}
	return nil
}
