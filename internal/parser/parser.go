// Package parser turns a source file into its symbol table: declared
// types, functions, constants, and variables, plus the file's import and
// export surface. It is a Go-source frontend over go/parser, go/ast, and
// go/token, reporting failures through a success/errors channel in each
// result rather than a returned error.
package parser

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"qaforge/internal/model"
)

// ParseResult carries everything extracted from one file, with parse-level
// failures recorded in Errors rather than raised.
type ParseResult struct {
	Success   bool
	File      string
	Symbols   []model.Symbol
	Imports   []model.ImportStatement
	Exports   []model.ExportStatement
	Errors    []model.ErrorEntry
	ParseTime time.Duration
}

// languageTable is the per-extension dispatch table. Only Go is wired;
// every other extension fails fast with a structured error entry.
var languageTable = map[string]string{
	".go": "go",
}

// DetectLanguage is a pure lookup over file extensions.
func DetectLanguage(path string) (string, bool) {
	lang, ok := languageTable[filepath.Ext(path)]
	return lang, ok
}

// ParseFile translates (filePath, sourceText) into a ParseResult. It never
// panics for parse-level failures: every failure becomes a single error
// entry with a generic message and line 1, and the per-file timer still
// reports wall-clock duration.
func ParseFile(path, content string) ParseResult {
	start := time.Now()

	lang, ok := DetectLanguage(path)
	if !ok || lang != "go" {
		return ParseResult{
			Success: false,
			File:    path,
			Errors: []model.ErrorEntry{{
				Origin:   model.GateBuild,
				Severity: model.SeverityError,
				Message:  "Unsupported file type",
				File:     path,
				Line:     1,
			}},
			ParseTime: time.Since(start),
		}
	}

	if strings.TrimSpace(content) == "" {
		return ParseResult{Success: true, File: path, ParseTime: time.Since(start)}
	}

	return parseGoFile(path, content, start)
}

func parseGoFile(path, content string, start time.Time) (result ParseResult) {
	defer func() {
		if r := recover(); r != nil {
			result = ParseResult{
				Success: false,
				File:    path,
				Errors: []model.ErrorEntry{{
					Origin:   model.GateBuild,
					Severity: model.SeverityError,
					Message:  "parse error",
					File:     path,
					Line:     1,
				}},
				ParseTime: time.Since(start),
			}
		}
	}()

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		return ParseResult{
			Success: false,
			File:    path,
			Errors: []model.ErrorEntry{{
				Origin:   model.GateBuild,
				Severity: model.SeverityError,
				Message:  "parse error",
				File:     path,
				Line:     1,
			}},
			ParseTime: time.Since(start),
		}
	}

	extractor := &extractor{fset: fset, file: file, path: path}
	symbols := extractor.extractSymbols()
	imports := extractor.extractImports()
	exports := extractExports(symbols)

	return ParseResult{
		Success:   true,
		File:      path,
		Symbols:   symbols,
		Imports:   imports,
		Exports:   exports,
		Errors:    nil,
		ParseTime: time.Since(start),
	}
}

// ParseFiles runs ParseFile sequentially over files, in input order, so
// downstream caches and indexes observe a stable order.
func ParseFiles(files map[string]string, order []string) []ParseResult {
	results := make([]ParseResult, 0, len(order))
	for _, path := range order {
		results = append(results, ParseFile(path, files[path]))
	}
	return results
}

type extractor struct {
	fset *token.FileSet
	file *ast.File
	path string
}

func (e *extractor) position(pos token.Pos) token.Position {
	return e.fset.Position(pos)
}

// extractSymbols walks top-level declarations, mapping Go struct/
// interface/func/type/const declarations onto the symbol taxonomy.
func (e *extractor) extractSymbols() []model.Symbol {
	var symbols []model.Symbol

	for _, decl := range e.file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			symbols = append(symbols, e.extractFunc(d))
		case *ast.GenDecl:
			symbols = append(symbols, e.extractGenDecl(d)...)
		}
	}

	return symbols
}

func (e *extractor) extractFunc(d *ast.FuncDecl) model.Symbol {
	pos := e.position(d.Pos())
	end := e.position(d.End())

	kind := model.SymbolFunction
	var parentID string
	if d.Recv != nil && len(d.Recv.List) > 0 {
		kind = model.SymbolMethod
		parentID = receiverTypeName(d.Recv.List[0].Type)
	}

	return model.Symbol{
		ID:        symbolID(e.path, d.Name.Name, pos.Line),
		Name:      d.Name.Name,
		Kind:      kind,
		File:      normalizePath(e.path),
		Line:      pos.Line,
		EndLine:   end.Line,
		Column:    pos.Column,
		Signature: funcSignature(d),
		Doc:       extractDoc(d.Doc),
		Exported:  ast.IsExported(d.Name.Name),
		ParentID:  parentID,
	}
}

func (e *extractor) extractGenDecl(d *ast.GenDecl) []model.Symbol {
	var symbols []model.Symbol

	isEnumBlock := d.Tok == token.CONST && len(d.Specs) > 1 && sharesNamedType(d.Specs)

	for _, spec := range d.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			symbols = append(symbols, e.extractTypeSpec(s, d.Doc))
		case *ast.ValueSpec:
			symbols = append(symbols, e.extractValueSpec(s, d, isEnumBlock)...)
		}
	}

	return symbols
}

func (e *extractor) extractTypeSpec(s *ast.TypeSpec, doc *ast.CommentGroup) model.Symbol {
	pos := e.position(s.Pos())

	kind := model.SymbolType
	switch t := s.Type.(type) {
	case *ast.StructType:
		kind = model.SymbolClass
		return model.Symbol{
			ID:        symbolID(e.path, s.Name.Name, pos.Line),
			Name:      s.Name.Name,
			Kind:      kind,
			File:      normalizePath(e.path),
			Line:      pos.Line,
			Column:    pos.Column,
			Doc:       extractDoc(doc),
			Exported:  ast.IsExported(s.Name.Name),
		}
	case *ast.InterfaceType:
		kind = model.SymbolInterface
		_ = t
	}

	return model.Symbol{
		ID:       symbolID(e.path, s.Name.Name, pos.Line),
		Name:     s.Name.Name,
		Kind:     kind,
		File:     normalizePath(e.path),
		Line:     pos.Line,
		Column:   pos.Column,
		Doc:      extractDoc(doc),
		Exported: ast.IsExported(s.Name.Name),
	}
}

// extractValueSpec lifts a const/var declarator whose initializer is a
// function literal to a `function` symbol; otherwise a const declarator
// becomes `constant` (or `enum_member` inside a shared-type const block)
// and a var declarator becomes `variable`.
func (e *extractor) extractValueSpec(s *ast.ValueSpec, parent *ast.GenDecl, isEnum bool) []model.Symbol {
	var symbols []model.Symbol
	pos := e.position(s.Pos())

	for i, name := range s.Names {
		if name.Name == "_" {
			continue
		}

		kind := model.SymbolVariable
		if parent.Tok == token.CONST {
			kind = model.SymbolConstant
			if isEnum {
				kind = model.SymbolEnumMember
			}
		}

		if i < len(s.Values) {
			if _, ok := s.Values[i].(*ast.FuncLit); ok {
				kind = model.SymbolFunction
			}
		}

		symbols = append(symbols, model.Symbol{
			ID:       symbolID(e.path, name.Name, pos.Line),
			Name:     name.Name,
			Kind:     kind,
			File:     normalizePath(e.path),
			Line:     pos.Line,
			Column:   pos.Column,
			Doc:      extractDoc(parent.Doc),
			Exported: ast.IsExported(name.Name),
		})
	}

	return symbols
}

// extractImports maps import declarations of form `import "pkg"`,
// `import alias "pkg"`, `import . "pkg"`, and `import _ "pkg"` onto the
// named/namespace/side-effect taxonomy. Go has no require()/dynamic
// import() analogue, so those kinds never appear from this Parser.
func (e *extractor) extractImports() []model.ImportStatement {
	var imports []model.ImportStatement
	selected := e.selectorUses()

	for _, imp := range e.file.Imports {
		pos := e.position(imp.Pos())
		path := strings.Trim(imp.Path.Value, `"`)

		kind := model.ImportNamed
		local := filepath.Base(path)
		if imp.Name != nil {
			switch imp.Name.Name {
			case "_":
				kind = model.ImportSideEffect
				local = "_"
			case ".":
				kind = model.ImportNamespace
				local = "."
			default:
				local = imp.Name.Name
			}
		}

		// The bound-symbol list is the set of qualified selector uses of
		// this import's local name: `user.User` binds User the way a
		// named-import clause would. Imports with no qualified uses
		// (side-effect, dot, or unused) bind the package name itself.
		var bound []model.BoundSymbol
		if kind == model.ImportNamed {
			for _, name := range selected[local] {
				bound = append(bound, model.BoundSymbol{Local: name, Original: name})
			}
		}
		if len(bound) == 0 {
			bound = []model.BoundSymbol{{Local: local, Original: filepath.Base(path)}}
		}

		imports = append(imports, model.ImportStatement{
			SourceModule: path,
			Bound:        bound,
			Kind:         kind,
			Line:         pos.Line,
		})
	}

	return imports
}

// selectorUses maps each qualifier identifier in the file to the sorted
// set of member names selected through it. Callers consult only entries
// keyed by an import's local name; a variable that happens to share an
// import's name contributes its field selections too, and that ambiguity
// is accepted.
func (e *extractor) selectorUses() map[string][]string {
	seen := make(map[string]map[string]bool)
	ast.Inspect(e.file, func(n ast.Node) bool {
		sel, ok := n.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		id, ok := sel.X.(*ast.Ident)
		if !ok {
			return true
		}
		if seen[id.Name] == nil {
			seen[id.Name] = make(map[string]bool)
		}
		seen[id.Name][sel.Sel.Name] = true
		return true
	})

	uses := make(map[string][]string, len(seen))
	for qualifier, names := range seen {
		sorted := make([]string, 0, len(names))
		for name := range names {
			sorted = append(sorted, name)
		}
		sort.Strings(sorted)
		uses[qualifier] = sorted
	}
	return uses
}

// extractExports derives export statements from exported top-level
// symbols. Go has no `export` keyword to parse directly; exported-ness is
// capitalization.
func extractExports(symbols []model.Symbol) []model.ExportStatement {
	var exports []model.ExportStatement
	for _, sym := range symbols {
		if !sym.Exported || sym.ParentID != "" {
			continue
		}
		exports = append(exports, model.ExportStatement{
			Bound: []model.BoundSymbol{{Local: sym.Name, Original: sym.Name}},
			Kind:  model.ImportNamed,
			Line:  sym.Line,
		})
	}
	return exports
}

func symbolID(file, name string, line int) string {
	return fmt.Sprintf("%s#%s#%d", normalizePath(file), name, line)
}

func normalizePath(p string) string {
	return filepath.ToSlash(p)
}

func receiverTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	case *ast.Ident:
		return t.Name
	default:
		return ""
	}
}

func funcSignature(d *ast.FuncDecl) string {
	var b strings.Builder
	b.WriteString("func ")
	if d.Recv != nil && len(d.Recv.List) > 0 {
		b.WriteString("(receiver) ")
	}
	b.WriteString(d.Name.Name)
	b.WriteString("(...)")
	return b.String()
}

// extractDoc returns the immediately preceding doc comment with comment
// markers stripped. Annotation-style `@tag` lines have no Go convention
// equivalent and are left untouched.
func extractDoc(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	var lines []string
	for _, c := range doc.List {
		text := strings.TrimPrefix(c.Text, "//")
		text = strings.TrimPrefix(text, "/*")
		text = strings.TrimSuffix(text, "*/")
		lines = append(lines, strings.TrimSpace(text))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func sharesNamedType(specs []ast.Spec) bool {
	var typeName string
	for _, spec := range specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok || vs.Type == nil {
			return false
		}
		ident, ok := vs.Type.(*ast.Ident)
		if !ok {
			return false
		}
		if typeName == "" {
			typeName = ident.Name
		} else if typeName != ident.Name {
			return false
		}
	}
	return typeName != ""
}
