package adapter

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahma-project/mcp-shelladapter/internal/registry"
)

func boolPtr(b bool) *bool { return &b }

func TestAssembleArgsBasic(t *testing.T) {
	chain := []registry.SubcommandConfig{
		{
			Name: "build",
			Options: []registry.CommandOption{
				{Name: "release", Type: "boolean"},
				{Name: "jobs", Type: "integer"},
				{Name: "features", Type: "array"},
			},
			PositionalArgs: []registry.CommandOption{
				{Name: "package", Required: boolPtr(true)},
			},
		},
	}
	args := map[string]any{
		"release":  true,
		"jobs":     float64(4),
		"features": []any{"a", "b"},
		"package":  "mycrate",
	}

	out, err := AssembleArgs("cargo", chain, args, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"cargo", "build", "--release", "--jobs", "4", "--features", "a", "--features", "b", "mycrate"}, out.Argv)
}

func TestAssembleArgsPositionalFirst(t *testing.T) {
	chain := []registry.SubcommandConfig{
		{
			Name:                "run",
			PositionalArgsFirst: true,
			Options: []registry.CommandOption{
				{Name: "verbose", Type: "boolean"},
			},
			PositionalArgs: []registry.CommandOption{
				{Name: "target", Required: boolPtr(true)},
			},
		},
	}
	args := map[string]any{"target": "app", "verbose": true}

	out, err := AssembleArgs("make", chain, args, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"make", "run", "app", "--verbose"}, out.Argv)
}

func TestAssembleArgsSkipsDefaultSentinel(t *testing.T) {
	chain := []registry.SubcommandConfig{
		{
			Name: "default",
			Options: []registry.CommandOption{
				{Name: "verbose", Type: "boolean"},
			},
		},
	}
	out, err := AssembleArgs("ls", chain, map[string]any{"verbose": true}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ls", "--verbose"}, out.Argv, `the "default" sentinel must never reach the command line`)
}

func TestAssembleArgsMissingRequiredOption(t *testing.T) {
	chain := []registry.SubcommandConfig{
		{
			Name: "deploy",
			Options: []registry.CommandOption{
				{Name: "env", Type: "string", Required: boolPtr(true)},
			},
		},
	}
	_, err := AssembleArgs("tool", chain, map[string]any{}, nil)
	assert.Error(t, err)
}

func TestAssembleArgsReservedKeysNeverEmitted(t *testing.T) {
	chain := []registry.SubcommandConfig{{Name: "build"}}
	args := map[string]any{
		"_subcommand":       "build",
		"working_directory": "/tmp/x",
		"_internal":         "hidden",
	}
	out, err := AssembleArgs("cargo", chain, args, nil)
	require.NoError(t, err)
	for _, tok := range out.Argv {
		assert.NotContains(t, tok, "hidden")
		assert.NotContains(t, tok, "/tmp/x")
	}
}

func TestAssembleArgsFileArgSpillsLargeValue(t *testing.T) {
	chain := []registry.SubcommandConfig{
		{
			Name: "apply",
			Options: []registry.CommandOption{
				{Name: "patch", Type: "string", FileArg: boolPtr(true), FileFlag: "--patch-file"},
			},
		},
	}
	big := strings.Repeat("x", fileArgThreshold+1)
	var spilled string
	writeSpill := func(v string) (string, error) {
		spilled = v
		return "/tmp/spilled-arg", nil
	}
	out, err := AssembleArgs("tool", chain, map[string]any{"patch": big}, writeSpill)
	require.NoError(t, err)
	assert.Equal(t, big, spilled)
	assert.Contains(t, out.Argv, "--patch-file")
	assert.Contains(t, out.Argv, "/tmp/spilled-arg")
	require.Len(t, out.Spills, 1)
	assert.Equal(t, "/tmp/spilled-arg", out.Spills[0].Path)
}

func TestAssembleArgsAliasShortOption(t *testing.T) {
	chain := []registry.SubcommandConfig{
		{
			Name: "build",
			Options: []registry.CommandOption{
				{Name: "output", Type: "string", Alias: "-o"},
			},
		},
	}
	out, err := AssembleArgs("tool", chain, map[string]any{"output": "bin/app"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"tool", "build", "-o", "bin/app"}, out.Argv)
}

// TestArgumentEscapingRoundTripProperty checks Testable Property 6: for
// pathological strings (embedded newlines, quotes, $, backticks,
// backslashes), EscapeShellArgument produces a POSIX-safe single-quoted
// token that /bin/sh -c 'printf %s ...' would echo back byte-for-byte. We
// verify the escaping algebraically rather than shelling out: unwrapping
// the produced token's outer quotes and undoing the '\''  substitution must
// recover the original bytes exactly.
func TestArgumentEscapingRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	pathological := gen.OneGenOf(
		gen.AlphaString(),
		gen.Const("it's a \"test\""),
		gen.Const("line1\nline2\r\nline3"),
		gen.Const("$(rm -rf /)"),
		gen.Const("`whoami`"),
		gen.Const(`back\slash`),
		gen.Const("mix 'of' \"everything\" $HOME `id` \\n"),
		gen.Const(""),
		gen.Const("'''"),
	)

	properties.Property("escape-then-unescape recovers the original bytes", prop.ForAll(
		func(s string) bool {
			escaped := EscapeShellArgument(s)
			return unescapeSingleQuoted(escaped) == s
		},
		pathological,
	))

	properties.TestingRun(t)
}

// unescapeSingleQuoted reverses EscapeShellArgument: strips the wrapping
// quotes and folds each '\''  sequence back into a literal single quote.
func unescapeSingleQuoted(token string) string {
	n := len(token)
	if n < 2 || token[0] != '\'' || token[n-1] != '\'' {
		return token
	}
	inner := token[1 : n-1]
	return strings.ReplaceAll(inner, `'\''`, "'")
}

func TestNeedsFileHandling(t *testing.T) {
	assert.False(t, NeedsFileHandling("plain-value"))
	assert.True(t, NeedsFileHandling(strings.Repeat("a", fileArgThreshold+1)))
	assert.True(t, NeedsFileHandling("has\nnewline"))
	assert.True(t, NeedsFileHandling("has'quote"))
	assert.True(t, NeedsFileHandling("has$dollar"))
}
