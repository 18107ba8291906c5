// Package pdb reads Microsoft Program Database (PDB) files in place
// over a loaded byte buffer: the MSF container, the well-known streams,
// and per-module symbol and line information.
package pdb

import (
	"os"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"gopkg.in/src-d/go-errors.v1"

	"github.com/pdbtools/gopdb/pkg/pdb/codeview"
	"github.com/pdbtools/gopdb/pkg/pdb/msf"
	"github.com/pdbtools/gopdb/pkg/pdb/streams"
)

var (
	// ErrModuleOutOfRange is returned for module indices outside the
	// DBI module table.
	ErrModuleOutOfRange = errors.NewKind("module index %d out of range [0, %d)")

	// ErrNoLineInfo is returned when a module carries no C13 line
	// info.
	ErrNoLineInfo = errors.NewKind("module %q has no line info")
)

// defaultStreamCacheSize bounds the number of coalesced module streams
// kept alive; profilers revisit hot modules far more often than they
// touch cold ones.
const defaultStreamCacheSize = 16

// File is an opened PDB. It borrows the byte buffer it was constructed
// over; the buffer must stay alive and unmodified while the File or any
// stream derived from it is in use.
type File struct {
	raw    *msf.RawFile
	logger *zap.Logger
	cache  *lru.Cache

	info *streams.Info
	dbi  *streams.DBI

	functions []Function
	variables []Variable
	publics   []PublicSymbol
}

// Option configures a File.
type Option func(*File)

// WithLogger sets the logger used for non-fatal parse diagnostics. The
// default is a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *File) {
		f.logger = logger
	}
}

// WithStreamCacheSize sets the capacity of the coalesced module stream
// cache.
func WithStreamCacheSize(size int) Option {
	return func(f *File) {
		f.cache, _ = lru.New(size)
	}
}

// Open parses the PDB held in data. The container structure must be
// well formed; the optional info and DBI streams are parsed leniently,
// with failures logged and the corresponding queries returning empty
// results (the way debugger consumers treat partially stripped PDBs).
func Open(data []byte, opts ...Option) (*File, error) {
	raw, err := msf.NewRawFile(data)
	if err != nil {
		return nil, err
	}

	f := &File{raw: raw, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	if f.cache == nil {
		f.cache, _ = lru.New(defaultStreamCacheSize)
	}

	f.logger.Debug("parsed MSF directory",
		zap.Uint32("streams", raw.StreamCount()),
		zap.Uint32("block_size", raw.BlockSize()))

	if raw.StreamCount() > streams.InfoStreamIndex {
		if stream, err := raw.OpenCoalesced(streams.InfoStreamIndex); err == nil && stream.Size() > 0 {
			f.info, err = streams.ReadInfo(stream.Data())
			if err != nil {
				f.logger.Warn("failed to parse PDB info stream", zap.Error(err))
			}
		}
	}

	if raw.StreamCount() > streams.DBIStreamIndex {
		if stream, err := raw.OpenCoalesced(streams.DBIStreamIndex); err == nil && stream.Size() > 0 {
			f.dbi, err = streams.ReadDBI(stream.Data())
			if err != nil {
				f.logger.Warn("failed to parse DBI stream", zap.Error(err))
			}
		}
	}

	return f, nil
}

// OpenFile reads path into memory and opens it as a PDB.
func OpenFile(path string, opts ...Option) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Open(data, opts...)
}

// Raw returns the underlying MSF container.
func (f *File) Raw() *msf.RawFile {
	return f.raw
}

// Info returns the PDB's identity and stream layout summary.
func (f *File) Info() *Info {
	info := &Info{
		Streams:   f.raw.StreamCount(),
		BlockSize: f.raw.BlockSize(),
	}
	if f.info != nil {
		info.GUID = f.info.GUIDString()
		info.Age = f.info.Age
		info.Version = f.info.Version
		info.Signature = f.info.Signature
		info.NamedStreams = f.info.NamedStreams
	}
	if f.dbi != nil {
		info.Machine = streams.MachineName(f.dbi.Header.Machine)
	}
	return info
}

// NamedStream looks up a stream index by name (for example "/names").
func (f *File) NamedStream(name string) (uint32, bool) {
	if f.info == nil {
		return 0, false
	}
	index, ok := f.info.NamedStreams[name]
	return index, ok
}

// Modules lists the compiled modules recorded in the DBI stream.
func (f *File) Modules() []ModuleInfo {
	if f.dbi == nil {
		return nil
	}
	modules := make([]ModuleInfo, len(f.dbi.Modules))
	for i, mod := range f.dbi.Modules {
		modules[i] = ModuleInfo{
			Index:        i,
			Name:         mod.Name,
			ObjectFile:   mod.ObjFileName,
			SymbolStream: mod.SymStream,
			SymbolSize:   mod.SymByteSize,
			LineInfoSize: mod.C13ByteSize,
			SourceFiles:  mod.SourceFileCount,
		}
	}
	return modules
}

// ModuleCount returns the number of DBI modules.
func (f *File) ModuleCount() int {
	if f.dbi == nil {
		return 0
	}
	return len(f.dbi.Modules)
}

// ModuleLineStream returns a walker over the C13 line info of the
// module at index. The underlying module stream is served from the
// coalesced stream cache.
func (f *File) ModuleLineStream(index int) (*streams.ModuleLineStream, error) {
	if f.dbi == nil || index < 0 || index >= len(f.dbi.Modules) {
		return nil, ErrModuleOutOfRange.New(index, f.ModuleCount())
	}
	mod := &f.dbi.Modules[index]
	if !mod.HasLineInfo() {
		return nil, ErrNoLineInfo.New(mod.Name)
	}

	stream, err := f.cachedStream(uint32(mod.SymStream), mod.LineInfoEnd())
	if err != nil {
		return nil, err
	}
	return streams.NewModuleLineStreamOn(stream, mod.LineInfoOffset())
}

// cachedStream returns a coalesced view of the first size bytes of a
// stream, memoized per (index, size).
func (f *File) cachedStream(index, size uint32) (*msf.CoalescedStream, error) {
	key := uint64(index)<<32 | uint64(size)
	if cached, ok := f.cache.Get(key); ok {
		return cached.(*msf.CoalescedStream), nil
	}
	stream, err := f.raw.OpenCoalescedSize(index, size)
	if err != nil {
		return nil, err
	}
	f.cache.Add(key, stream)
	return stream, nil
}

// Functions returns the procedure symbols from the global symbol record
// stream and every module's symbol substream. The result is computed
// once and cached.
func (f *File) Functions() []Function {
	if f.functions != nil {
		return f.functions
	}
	f.functions = make([]Function, 0)

	f.scanSymbols(func(rec codeview.SymbolRecord, module string) {
		if !codeview.IsProcSymbol(rec.Kind) {
			return
		}
		proc, err := codeview.ParseProcSym(rec.Data)
		if err != nil {
			f.logger.Warn("skipping malformed proc symbol",
				zap.String("kind", codeview.SymbolKindName(rec.Kind)), zap.Error(err))
			return
		}
		f.functions = append(f.functions, Function{
			Name:     proc.Name,
			Segment:  proc.Segment,
			Offset:   proc.Offset,
			Length:   proc.Length,
			IsGlobal: codeview.IsGlobalSymbol(rec.Kind),
			Module:   module,
		})
	})
	return f.functions
}

// Variables returns the data symbols from the global symbol record
// stream and every module's symbol substream.
func (f *File) Variables() []Variable {
	if f.variables != nil {
		return f.variables
	}
	f.variables = make([]Variable, 0)

	f.scanSymbols(func(rec codeview.SymbolRecord, module string) {
		if !codeview.IsDataSymbol(rec.Kind) {
			return
		}
		sym, err := codeview.ParseDataSym(rec.Data)
		if err != nil {
			f.logger.Warn("skipping malformed data symbol",
				zap.String("kind", codeview.SymbolKindName(rec.Kind)), zap.Error(err))
			return
		}
		f.variables = append(f.variables, Variable{
			Name:     sym.Name,
			Segment:  sym.Segment,
			Offset:   sym.Offset,
			IsGlobal: codeview.IsGlobalSymbol(rec.Kind),
			Module:   module,
		})
	})
	return f.variables
}

// PublicSymbols returns the S_PUB32 records of the symbol record
// stream.
func (f *File) PublicSymbols() []PublicSymbol {
	if f.publics != nil {
		return f.publics
	}
	f.publics = make([]PublicSymbol, 0)

	data, ok := f.globalSymbolData()
	if !ok {
		return f.publics
	}
	err := codeview.ForEachSymbol(data, func(rec codeview.SymbolRecord) error {
		if rec.Kind != codeview.S_PUB32 {
			return nil
		}
		pub, err := codeview.ParsePubSym(rec.Data)
		if err != nil {
			return err
		}
		f.publics = append(f.publics, PublicSymbol{
			Name:    pub.Name,
			Segment: pub.Segment,
			Offset:  pub.Offset,
		})
		return nil
	})
	if err != nil {
		f.logger.Warn("symbol record stream walk stopped early", zap.Error(err))
	}
	return f.publics
}

// scanSymbols runs visit over every record of the global symbol record
// stream (with module == "") and of each module's symbol substream.
func (f *File) scanSymbols(visit func(rec codeview.SymbolRecord, module string)) {
	if data, ok := f.globalSymbolData(); ok {
		err := codeview.ForEachSymbol(data, func(rec codeview.SymbolRecord) error {
			visit(rec, "")
			return nil
		})
		if err != nil {
			f.logger.Warn("symbol record stream walk stopped early", zap.Error(err))
		}
	}

	if f.dbi == nil {
		return
	}
	for i := range f.dbi.Modules {
		mod := &f.dbi.Modules[i]
		if !mod.HasSymbols() {
			continue
		}
		// The symbol substream is a prefix of the module debug stream.
		stream, err := f.cachedStream(uint32(mod.SymStream), mod.SymByteSize)
		if err != nil {
			f.logger.Warn("failed to open module symbol stream",
				zap.String("module", mod.Name), zap.Error(err))
			continue
		}
		err = codeview.ForEachSymbol(stream.Data(), func(rec codeview.SymbolRecord) error {
			visit(rec, mod.Name)
			return nil
		})
		if err != nil {
			f.logger.Warn("module symbol walk stopped early",
				zap.String("module", mod.Name), zap.Error(err))
		}
	}
}

// globalSymbolData returns the bytes of the symbol record stream named
// by the DBI header, if any.
func (f *File) globalSymbolData() ([]byte, bool) {
	if f.dbi == nil || f.dbi.Header.SymRecordStream == streams.NilStreamIndex {
		return nil, false
	}
	size, err := f.raw.StreamSize(uint32(f.dbi.Header.SymRecordStream))
	if err != nil || size == 0 {
		return nil, false
	}
	stream, err := f.cachedStream(uint32(f.dbi.Header.SymRecordStream), size)
	if err != nil {
		return nil, false
	}
	return stream.Data(), true
}
