package clix

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

type PaginationParams struct {
	Limit  int
	Offset int
}

func ParsePagination(flags *pflag.FlagSet) (PaginationParams, error) {
	limit, _ := flags.GetInt("limit")
	offset, _ := flags.GetInt("offset")
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return PaginationParams{Limit: limit, Offset: offset}, nil
}

// ParseLanguage reads --language; an empty value means auto-detect.
func ParseLanguage(flags *pflag.FlagSet) string {
	lang, _ := flags.GetString("language")
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return "auto"
	}
	return lang
}

// ParseResultKind reads --format and accepts text or csv.
func ParseResultKind(flags *pflag.FlagSet) (string, error) {
	kind, _ := flags.GetString("format")
	kind = strings.ToLower(strings.TrimSpace(kind))
	switch kind {
	case "", "text", "txt":
		return "text", nil
	case "csv":
		return "csv", nil
	default:
		return "", fmt.Errorf("unsupported format %q (use text or csv)", kind)
	}
}
