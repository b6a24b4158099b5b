package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gentleJSON = `{
	"display_name": "Gentle Companion",
	"style": {"tone": "warm", "register": "casual", "quirks": ["uses pet names"]},
	"pinned_qa": [{"q": "what was your favorite song?", "a": "Moon River, always."}],
	"avoid_topics": ["how they died"],
	"refusals": ["Let's talk about something happier."]
}`

func writePersona(t *testing.T, dir, id, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".json"), []byte(content), 0o644))
}

func TestRegistryLoad(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "gentle", gentleJSON)

	r := NewRegistry(dir)
	p, err := r.Load("gentle")
	require.NoError(t, err)
	assert.Equal(t, "gentle", p.ID)
	assert.Equal(t, "Gentle Companion", p.DisplayName)
	assert.Equal(t, "casual", p.Style.Register)
	assert.Len(t, p.PinnedQA, 1)

	// cached instance is returned on second load
	again, err := r.Load("gentle")
	require.NoError(t, err)
	assert.Same(t, p, again)
}

func TestRegistryLoadMissing(t *testing.T) {
	r := NewRegistry(t.TempDir())
	_, err := r.Load("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryRejectsPathTraversal(t *testing.T) {
	r := NewRegistry(t.TempDir())
	for _, id := range []string{"../etc/passwd", "a/b", `a\b`, "dotted.name"} {
		_, err := r.Load(id)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
}

func TestRegistryValidation(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "bad-register", `{"display_name": "X", "style": {"tone": "warm", "register": "shouty"}}`)
	writePersona(t, dir, "no-name", `{"style": {"tone": "warm", "register": "casual"}}`)
	writePersona(t, dir, "bad-qa", `{"display_name": "X", "style": {"tone": "warm", "register": "neutral"}, "pinned_qa": [{"q": "", "a": "yes"}]}`)

	r := NewRegistry(dir)
	for _, id := range []string{"bad-register", "no-name", "bad-qa"} {
		_, err := r.Load(id)
		assert.Error(t, err, id)
	}
}

func TestRegistryList(t *testing.T) {
	dir := t.TempDir()
	writePersona(t, dir, "b", gentleJSON)
	writePersona(t, dir, "a", gentleJSON)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644))

	r := NewRegistry(dir)
	ids, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestRegistryListMissingDir(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "absent"))
	ids, err := r.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}
