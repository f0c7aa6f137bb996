package clix

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("limit", 20, "")
	fs.Int("offset", 0, "")
	fs.String("language", "auto", "")
	fs.String("format", "text", "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestParsePagination(t *testing.T) {
	p, err := ParsePagination(newFlags(t, "--limit=0", "--offset=-3"))
	require.NoError(t, err)
	assert.Equal(t, PaginationParams{Limit: 20, Offset: 0}, p)

	p, err = ParsePagination(newFlags(t, "--limit", "5", "--offset", "10"))
	require.NoError(t, err)
	assert.Equal(t, PaginationParams{Limit: 5, Offset: 10}, p)
}

func TestParseLanguage(t *testing.T) {
	assert.Equal(t, "auto", ParseLanguage(newFlags(t, "--language", " ")))
	assert.Equal(t, "de", ParseLanguage(newFlags(t, "--language", "DE")))
}

func TestParseResultKind(t *testing.T) {
	k, err := ParseResultKind(newFlags(t, "--format", "CSV"))
	require.NoError(t, err)
	assert.Equal(t, "csv", k)

	k, err = ParseResultKind(newFlags(t, "--format", "txt"))
	require.NoError(t, err)
	assert.Equal(t, "text", k)

	_, err = ParseResultKind(newFlags(t, "--format", "pdf"))
	assert.Error(t, err)
}
