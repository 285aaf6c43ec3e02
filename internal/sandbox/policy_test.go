package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCanon struct{}

func (fakeCanon) Canonicalize(path, baseDir string) (string, error) {
	return path, nil
}

func TestScopeContainsRejectsPrefixLookalike(t *testing.T) {
	scope, err := NewScope(fakeCanon{}, []string{"/a/project"})
	require.NoError(t, err)

	assert.True(t, scope.Contains("/a/project"))
	assert.True(t, scope.Contains("/a/project/src/main.go"))
	assert.False(t, scope.Contains("/a/project-other"))
	assert.False(t, scope.Contains("/a/project-other/file"))
	assert.False(t, scope.Contains("/a/other"))
}

func TestScopeDedupesRoots(t *testing.T) {
	scope, err := NewScope(fakeCanon{}, []string{"/a/project", "/a/project", "/b"})
	require.NoError(t, err)
	assert.Len(t, scope.Roots(), 2)
}

func TestNewScopeRejectsEmpty(t *testing.T) {
	_, err := NewScope(fakeCanon{}, nil)
	assert.Error(t, err)
}

func TestValidateReturnsOutsideScopeError(t *testing.T) {
	scope, err := NewScope(fakeCanon{}, []string{"/a/project"})
	require.NoError(t, err)
	err = scope.Validate("/a/project-other/file")
	var outside *ErrOutsideScope
	require.ErrorAs(t, err, &outside)
	assert.Equal(t, "/a/project-other/file", outside.Path)
}

func TestLexicalNormalizerClampsAtRoot(t *testing.T) {
	n := LexicalNormalizer{}
	got, err := n.Canonicalize("../../../../etc/passwd", "/a/project")
	require.NoError(t, err)
	assert.Equal(t, "/etc/passwd", got)
}

func TestLexicalNormalizerResolvesDotDot(t *testing.T) {
	n := LexicalNormalizer{}
	got, err := n.Canonicalize("/a/project/sub/../file.txt", "")
	require.NoError(t, err)
	assert.Equal(t, "/a/project/file.txt", got)
}
