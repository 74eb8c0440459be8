package linker

type ContextArg struct {
	Output string
	Entry  string
	Shared bool
	Static bool

	LibraryPaths []string
}

// Context carries the whole state of one link: the inputs, the active
// set after archive member selection, the layout, and the symbol tables.
type Context struct {
	Arg ContextArg

	Objs       []*Object // top-level relocatable inputs
	Archives   []*Object
	SharedDeps []*Object

	Active []*Object

	// Layout.
	Text, Rodata, Data []byte
	BssSize            uint64
	Placements         []Placement
	SectionVAddr       map[*Object]map[string]uint64

	TextBase, PltBase    uint64
	RodataBase, DataBase uint64
	GotBase, BssBase     uint64
	PltSize              uint64
	GotIndex             map[string]int
	GotOrder             []string
	PltCount             int // leading GOT slots that also get a PLT stub
	SoDefined            map[string]bool

	// Symbol resolution.
	Globals map[string]GlobalDef
	Locals  map[*Object]map[string]uint64

	// Relocation output. Buf holds [text | plt | rodata | data | got].
	Buf          []byte
	DynRelocsOut []Reloc
}

type GlobalDef struct {
	Kind SymbolKind
	Addr uint64
}

func NewContext() *Context {
	return &Context{
		Arg: ContextArg{
			Output: "a.out",
			Entry:  "_start",
		},
		SectionVAddr: make(map[*Object]map[string]uint64),
		GotIndex:     make(map[string]int),
		SoDefined:    make(map[string]bool),
		Globals:      make(map[string]GlobalDef),
		Locals:       make(map[*Object]map[string]uint64),
	}
}
