package uritemplate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleVariableMatch(t *testing.T) {
	tmpl := Compile("users://{id}/profile")
	vars, ok := tmpl.Match("users://42/profile")
	require.True(t, ok)
	assert.Equal(t, "42", vars["id"])
}

func TestSimpleVariableDoesNotCrossSegments(t *testing.T) {
	tmpl := Compile("users://{id}/profile")
	_, ok := tmpl.Match("users://42/nested/profile")
	assert.False(t, ok)
}

func TestReservedExpansionCrossesSegments(t *testing.T) {
	tmpl := Compile("file:///{+path}")
	vars, ok := tmpl.Match("file:///a/b/c.txt")
	require.True(t, ok)
	assert.Equal(t, "a/b/c.txt", vars["path"])
}

func TestMatcherPrefersInsertionOrder(t *testing.T) {
	m := NewMatcher()
	m.Add("file:///{+path}")
	m.Add("file:///a/{name}")

	tmpl, vars, ok := m.Resolve("file:///a/b.txt")
	require.True(t, ok)
	assert.Equal(t, "file:///{+path}", tmpl.String())
	assert.Equal(t, "a/b.txt", vars["path"])
}

func TestMatcherNoMatch(t *testing.T) {
	m := NewMatcher()
	m.Add("users://{id}/profile")
	_, _, ok := m.Resolve("unrelated://thing")
	assert.False(t, ok)
}
