package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Register(Definition{
		Name:    "file_search",
		Aliases: []string{"search_files", "fs"},
		Variant: VariantNative,
	})
	r.Register(Definition{
		Name:    "web_search",
		Variant: VariantRemote,
	})
	return r
}

func TestResolve_CanonicalAndAlias(t *testing.T) {
	r := newTestRegistry()
	assert.NotNil(t, r.Resolve("file_search"))
	assert.NotNil(t, r.Resolve("fs"))
	assert.Equal(t, "file_search", r.Resolve("search_files").Name)
}

func TestResolve_CaseSensitive(t *testing.T) {
	r := newTestRegistry()
	assert.Nil(t, r.Resolve("File_Search"))
	assert.Nil(t, r.Resolve("FS"))
}

func TestResolve_UnknownReturnsNil(t *testing.T) {
	r := newTestRegistry()
	assert.Nil(t, r.Resolve("does_not_exist"))
}

func TestRequestAliasMap_ResolvesDeclaredAliasToCanonical(t *testing.T) {
	r := newTestRegistry()
	m := NewRequestAliasMap(r, []string{"fs", "web_search"})

	def := m.Resolve("fs")
	if assert.NotNil(t, def) {
		assert.Equal(t, "file_search", def.Name)
	}

	def2 := m.Resolve("web_search")
	if assert.NotNil(t, def2) {
		assert.Equal(t, "web_search", def2.Name)
	}
}

func TestRequestAliasMap_FallsBackToRegistryForUndeclaredNames(t *testing.T) {
	r := newTestRegistry()
	m := NewRequestAliasMap(r, nil)
	def := m.Resolve("file_search")
	assert.NotNil(t, def)
}

func TestRequestAliasMap_UnknownNameResolvesNil(t *testing.T) {
	r := newTestRegistry()
	m := NewRequestAliasMap(r, []string{"fs"})
	assert.Nil(t, m.Resolve("nonexistent"))
}
