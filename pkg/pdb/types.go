package pdb

// Info summarizes the identity of an opened PDB.
type Info struct {
	GUID         string            `json:"guid,omitempty"`
	Age          uint32            `json:"age"`
	Version      uint32            `json:"version"`
	Signature    uint32            `json:"signature"`
	Machine      string            `json:"machine,omitempty"`
	Streams      uint32            `json:"streams"`
	BlockSize    uint32            `json:"block_size"`
	NamedStreams map[string]uint32 `json:"named_streams,omitempty"`
}

// ModuleInfo describes one compiled module.
type ModuleInfo struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	ObjectFile   string `json:"object_file,omitempty"`
	SymbolStream uint16 `json:"symbol_stream"`
	SymbolSize   uint32 `json:"symbol_size"`
	LineInfoSize uint32 `json:"line_info_size"`
	SourceFiles  uint16 `json:"source_files"`
}

// Function is a procedure symbol found in the global or module symbol
// streams.
type Function struct {
	Name     string `json:"name"`
	Segment  uint16 `json:"segment"`
	Offset   uint32 `json:"offset"`
	Length   uint32 `json:"length"`
	IsGlobal bool   `json:"is_global"`
	Module   string `json:"module,omitempty"`
}

// Variable is a global or file-static data symbol.
type Variable struct {
	Name     string `json:"name"`
	Segment  uint16 `json:"segment"`
	Offset   uint32 `json:"offset"`
	IsGlobal bool   `json:"is_global"`
	Module   string `json:"module,omitempty"`
}

// PublicSymbol is an exported linker symbol.
type PublicSymbol struct {
	Name    string `json:"name"`
	Segment uint16 `json:"segment"`
	Offset  uint32 `json:"offset"`
}
