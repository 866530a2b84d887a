package model

import "time"

// SymbolKind enumerates the symbol taxonomy, mapped onto Go constructs
// (class is a struct type declaration, enum a shared-type const block).
type SymbolKind string

const (
	SymbolClass      SymbolKind = "class" // Go struct type declaration
	SymbolInterface  SymbolKind = "interface"
	SymbolFunction   SymbolKind = "function"
	SymbolMethod     SymbolKind = "method"
	SymbolProperty   SymbolKind = "property"
	SymbolVariable   SymbolKind = "variable"
	SymbolConstant   SymbolKind = "constant"
	SymbolType       SymbolKind = "type"
	SymbolEnum       SymbolKind = "enum"
	SymbolEnumMember SymbolKind = "enum_member"
	SymbolNamespace  SymbolKind = "namespace"
	SymbolModule     SymbolKind = "module"
)

// Symbol is a named entity extracted from source. Identity is derived
// from (File, Name, Line); Symbol.ID is that triple rendered as
// "file#name#line".
type Symbol struct {
	ID         string
	Name       string
	Kind       SymbolKind
	File       string
	Line       int
	EndLine    int
	Column     int
	Signature  string
	Doc        string
	Exported   bool
	ParentID   string // empty when no parent
	Modifiers  []string
	References int // mutable inbound-reference count; exported symbols only
}

// ImportKind tags how an import or export binds its symbols.
type ImportKind string

const (
	ImportNamed     ImportKind = "named"
	ImportDefault   ImportKind = "default"
	ImportNamespace ImportKind = "namespace"
	ImportSideEffect ImportKind = "side_effect"
	ImportDynamic   ImportKind = "dynamic"
	ImportRequire   ImportKind = "require"
	ImportReExport  ImportKind = "re_export"
	ImportAll       ImportKind = "all"
)

// BoundSymbol is a (local, original) name pair carried by an import/export.
type BoundSymbol struct {
	Local    string
	Original string
}

// ImportStatement is one import in a file.
type ImportStatement struct {
	SourceModule string
	Bound        []BoundSymbol
	Kind         ImportKind
	Line         int
	TypeOnly     bool
}

// ExportStatement mirrors ImportStatement for exported bindings.
type ExportStatement struct {
	SourceModule string // non-empty for re-exports
	Bound        []BoundSymbol
	Kind         ImportKind
	Line         int
	TypeOnly     bool
}

// EdgeKind enumerates dependency-edge kinds.
type EdgeKind string

const (
	EdgeImport     EdgeKind = "import"
	EdgeRequire    EdgeKind = "require"
	EdgeDynamic    EdgeKind = "dynamic"
	EdgeExportFrom EdgeKind = "export_from"
	EdgeTypeImport EdgeKind = "type_import"
	EdgeSideEffect EdgeKind = "side_effect"
)

// DependencyEdge is a directed file-to-file relation induced by an import
// or re-export.
type DependencyEdge struct {
	From    string
	To      string
	Kind    EdgeKind
	Symbols []string
	Line    int // 0 when unknown
}

// FileMeta is one entry of RepoMap's file metadata list.
type FileMeta struct {
	Path         string
	Language     string
	SymbolCount  int
	ImportCount  int
}

// RepoStats is RepoMap's statistics block.
type RepoStats struct {
	TotalFiles           int
	TotalSymbols         int
	TotalEdges           int
	SymbolsByKind        map[SymbolKind]int
	MostReferencedSymbol []string // symbol IDs, descending by reference count
	MostConnectedFiles   []string // file paths, descending by degree
	GenerationTime       float64  // seconds
}

// RepoMap is the aggregation root produced by the analysis pipeline:
// scan → parse → graph → reference count → aggregate. repomap.Format renders
// it as text afterwards.
type RepoMap struct {
	ProjectRoot    string
	GeneratedAt    time.Time
	Files          []FileMeta
	Symbols        []Symbol
	Edges          []DependencyEdge
	Stats          RepoStats
}
