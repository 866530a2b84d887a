package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFile_UnsupportedExtension(t *testing.T) {
	result := ParseFile("x.css", "body {}")

	require.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Message, "Unsupported file type")
	assert.Equal(t, 1, result.Errors[0].Line)
}

func TestParseFile_Empty(t *testing.T) {
	result := ParseFile("empty.go", "")

	// An empty file parses successfully with nothing extracted and no
	// error entries.
	require.True(t, result.Success)
	require.Empty(t, result.Errors)
}

func TestParseFile_ExtractsSymbols(t *testing.T) {
	src := `package user

// User represents an account holder.
type User struct {
	Name string
}

func NewUser(name string) *User {
	return &User{Name: name}
}

func (u *User) Greet() string {
	return "hi " + u.Name
}

const maxRetries = 3
`

	result := ParseFile("user.go", src)
	require.True(t, result.Success)

	names := map[string]bool{}
	for _, sym := range result.Symbols {
		names[sym.Name] = true
	}

	assert.True(t, names["User"])
	assert.True(t, names["NewUser"])
	assert.True(t, names["Greet"])
	assert.True(t, names["maxRetries"])

	for _, sym := range result.Symbols {
		if sym.Name == "User" {
			assert.Equal(t, "class", string(sym.Kind))
			assert.True(t, sym.Exported)
			assert.Contains(t, sym.Doc, "User represents")
		}
		if sym.Name == "Greet" {
			assert.Equal(t, "method", string(sym.Kind))
		}
		if sym.Name == "maxRetries" {
			assert.False(t, sym.Exported)
			assert.Equal(t, "constant", string(sym.Kind))
		}
	}
}

// Qualified selector uses become the import's bound-symbol list, one
// (local, original) pair per distinct member, sorted for determinism.
func TestParseFile_ImportBindsSelectedSymbols(t *testing.T) {
	src := `package demo

import (
	"example.com/demo/user"
	_ "example.com/demo/sideeffect"
)

func build() *user.Order {
	u := user.NewUser("a")
	return user.NewOrder(u)
}
`
	result := ParseFile("demo.go", src)
	require.True(t, result.Success)
	require.Len(t, result.Imports, 2)

	named := result.Imports[0]
	require.Len(t, named.Bound, 3)
	assert.Equal(t, "NewOrder", named.Bound[0].Original)
	assert.Equal(t, "NewUser", named.Bound[1].Original)
	assert.Equal(t, "Order", named.Bound[2].Original)

	side := result.Imports[1]
	require.Len(t, side.Bound, 1)
	assert.Equal(t, "_", side.Bound[0].Local)
	assert.Equal(t, "sideeffect", side.Bound[0].Original)
}

func TestParseFile_Idempotent(t *testing.T) {
	src := `package demo

func Add(a, b int) int { return a + b }
`
	r1 := ParseFile("demo.go", src)
	r2 := ParseFile("demo.go", src)

	require.True(t, r1.Success)
	require.True(t, r2.Success)
	assert.Equal(t, r1.Symbols, r2.Symbols)
	assert.Equal(t, r1.Imports, r2.Imports)
}

func TestParseFiles_PreservesOrder(t *testing.T) {
	files := map[string]string{
		"a.go": "package a\nfunc A() {}\n",
		"b.go": "package b\nfunc B() {}\n",
		"c.go": "package c\nfunc C() {}\n",
	}
	order := []string{"c.go", "a.go", "b.go"}

	results := ParseFiles(files, order)

	require.Len(t, results, 3)
	assert.Equal(t, "c.go", results[0].File)
	assert.Equal(t, "a.go", results[1].File)
	assert.Equal(t, "b.go", results[2].File)
}

func TestDetectLanguage(t *testing.T) {
	lang, ok := DetectLanguage("foo.go")
	require.True(t, ok)
	assert.Equal(t, "go", lang)

	_, ok = DetectLanguage("foo.ts")
	assert.False(t, ok)
}
