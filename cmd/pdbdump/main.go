// pdbdump extracts information from Microsoft PDB files as JSON.
package main

import (
	"encoding/hex"
	"encoding/json"
	"os"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdbtools/gopdb/pkg/pdb"
	"github.com/pdbtools/gopdb/pkg/pdb/codeview"
	"github.com/pdbtools/gopdb/pkg/pdb/streams"
)

const name = "pdbdump"

func main() {
	parser := flags.NewNamedParser(name, flags.Default)

	parser.AddCommand("info", "show PDB identity",
		"Show the PDB GUID, age, machine and named streams.", &infoCommand{})
	parser.AddCommand("streams", "list MSF streams",
		"List every stream's size and block layout.", &streamsCommand{})
	parser.AddCommand("modules", "list compiled modules",
		"List the modules recorded in the DBI stream.", &modulesCommand{})
	parser.AddCommand("functions", "list functions",
		"List procedure symbols from the global and module symbol streams.", &functionsCommand{})
	parser.AddCommand("publics", "list public symbols",
		"List exported linker symbols.", &publicsCommand{})
	parser.AddCommand("lines", "dump line tables",
		"Dump per-module source line tables and file checksums.", &linesCommand{})

	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrCommandRequired {
			parser.WriteHelp(os.Stdout)
		}
		os.Exit(1)
	}
}

type commonOptions struct {
	Verbose bool `short:"v" long:"verbose" description:"Enable debug logging"`
	Pretty  bool `long:"pretty" description:"Indent JSON output"`

	Args struct {
		File string `positional-arg-name:"pdb-file" required:"yes" description:"Path to the PDB file"`
	} `positional-args:"yes"`
}

func (c *commonOptions) open() (*pdb.File, error) {
	logger := zap.NewNop()
	if c.Verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}
	return pdb.OpenFile(c.Args.File, pdb.WithLogger(logger))
}

func (c *commonOptions) print(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	if c.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

type infoCommand struct {
	commonOptions
}

func (c *infoCommand) Execute([]string) error {
	f, err := c.open()
	if err != nil {
		return err
	}
	return c.print(f.Info())
}

type streamsCommand struct {
	commonOptions
	Blocks bool `long:"blocks" description:"Include each stream's block indices"`
}

type streamEntry struct {
	Index  uint32   `json:"index"`
	Size   uint32   `json:"size"`
	Blocks []uint32 `json:"blocks,omitempty"`
}

func (c *streamsCommand) Execute([]string) error {
	f, err := c.open()
	if err != nil {
		return err
	}

	raw := f.Raw()
	entries := make([]streamEntry, raw.StreamCount())
	for i := uint32(0); i < raw.StreamCount(); i++ {
		size, err := raw.StreamSize(i)
		if err != nil {
			return err
		}
		entries[i] = streamEntry{Index: i, Size: size}
		if c.Blocks {
			if entries[i].Blocks, err = raw.StreamBlocks(i); err != nil {
				return err
			}
		}
	}
	return c.print(entries)
}

type modulesCommand struct {
	commonOptions
}

func (c *modulesCommand) Execute([]string) error {
	f, err := c.open()
	if err != nil {
		return err
	}
	return c.print(f.Modules())
}

type functionsCommand struct {
	commonOptions
}

func (c *functionsCommand) Execute([]string) error {
	f, err := c.open()
	if err != nil {
		return err
	}
	return c.print(f.Functions())
}

type publicsCommand struct {
	commonOptions
}

func (c *publicsCommand) Execute([]string) error {
	f, err := c.open()
	if err != nil {
		return err
	}
	return c.print(f.PublicSymbols())
}

type linesCommand struct {
	commonOptions
	Module int `short:"m" long:"module" default:"-1" description:"Only this module index"`
	Jobs   int `short:"j" long:"jobs" default:"4" description:"Modules processed in parallel"`
}

type lineEntry struct {
	Offset      uint32 `json:"offset"`
	Line        uint32 `json:"line"`
	IsStatement bool   `json:"is_statement"`
}

type fileLines struct {
	ChecksumOffset uint32      `json:"checksum_offset"`
	Lines          []lineEntry `json:"lines"`
}

type fileChecksum struct {
	FilenameOffset uint32 `json:"filename_offset"`
	Kind           string `json:"kind"`
	Checksum       string `json:"checksum"`
}

type moduleLines struct {
	Module    string         `json:"module"`
	Files     []fileLines    `json:"files,omitempty"`
	Checksums []fileChecksum `json:"checksums,omitempty"`
}

func (c *linesCommand) Execute([]string) error {
	f, err := c.open()
	if err != nil {
		return err
	}

	modules := f.Modules()
	results := make([]*moduleLines, len(modules))

	// Independent stream views are safe to read concurrently; each
	// worker walks its own module's line info.
	var g errgroup.Group
	g.SetLimit(c.Jobs)
	for _, mod := range modules {
		if c.Module >= 0 && mod.Index != c.Module {
			continue
		}
		if mod.LineInfoSize == 0 {
			continue
		}
		mod := mod
		g.Go(func() error {
			walker, err := f.ModuleLineStream(mod.Index)
			if err != nil {
				return err
			}
			lines, err := collectModuleLines(walker, mod.Name)
			if err != nil {
				return err
			}
			results[mod.Index] = lines
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := make([]*moduleLines, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return c.print(out)
}

func collectModuleLines(walker *streams.ModuleLineStream, module string) (*moduleLines, error) {
	result := &moduleLines{Module: module}

	err := walker.ForEachSubsection(func(section *streams.Subsection) error {
		switch section.Header.Kind {
		case codeview.SubsectionLines:
			return walker.ForEachLinesBlock(section, func(block *streams.LinesBlock) error {
				lines, err := block.Lines()
				if err != nil {
					return err
				}
				file := fileLines{
					ChecksumOffset: block.Header.FileChecksumOffset,
					Lines:          make([]lineEntry, len(lines)),
				}
				for i, line := range lines {
					file.Lines[i] = lineEntry{
						Offset:      line.Offset,
						Line:        line.LineNumStart,
						IsStatement: line.IsStatement,
					}
				}
				result.Files = append(result.Files, file)
				return nil
			})

		case codeview.SubsectionFileChecksums:
			return walker.ForEachFileChecksum(section, func(checksum *streams.FileChecksum) error {
				result.Checksums = append(result.Checksums, fileChecksum{
					FilenameOffset: checksum.Header.FilenameOffset,
					Kind:           checksum.Header.ChecksumKind.String(),
					Checksum:       hex.EncodeToString(checksum.Checksum),
				})
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
