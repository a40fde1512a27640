package dom

import (
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
)

// parseStyle splits an inline style attribute into declarations. It reports
// false when the parser rejects the text, in which case no declaration is
// returned.
func parseStyle(style string) ([]*css.Declaration, bool) {
	style = strings.TrimSpace(style)
	if style == "" {
		return nil, true
	}
	// The parser drops a final declaration that has no terminator.
	if !strings.HasSuffix(style, ";") {
		style += ";"
	}
	decls, err := parser.ParseDeclarations(style)
	if err != nil {
		return nil, false
	}
	out := decls[:0]
	for _, d := range decls {
		if d != nil && d.Property != "" {
			out = append(out, d)
		}
	}
	return out, true
}

// ValidStyle reports whether style parses as a declaration list.
func ValidStyle(style string) bool {
	_, ok := parseStyle(style)
	return ok
}

func formatStyle(decls []*css.Declaration) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		parts = append(parts, d.String())
	}
	return strings.Join(parts, " ")
}

// StyleProperty returns the value of an inline style property, including a
// trailing " !important" when the declaration carries it.
func StyleProperty(style, property string) (string, bool) {
	var (
		val   string
		found bool
	)
	decls, _ := parseStyle(style)
	for _, d := range decls {
		if strings.EqualFold(d.Property, property) {
			val, found = d.Value, true
			if d.Important {
				val += " !important"
			}
		}
	}
	return val, found
}

// WithStyleProperty returns style with property set to value. An empty value
// removes the property. Other declarations keep their order.
//
// Text the parser rejects is never rewritten: the declaration is appended to
// it, where it wins over earlier ones, and removal leaves it unchanged.
func WithStyleProperty(style, property, value string) string {
	decls, ok := parseStyle(style)
	if !ok {
		if value == "" {
			return style
		}
		raw := strings.TrimRight(strings.TrimSpace(style), ";")
		return raw + "; " + property + ": " + value + ";"
	}
	out := decls[:0]
	for _, d := range decls {
		if strings.EqualFold(d.Property, property) {
			continue
		}
		out = append(out, d)
	}
	if value != "" {
		d := css.NewDeclaration()
		d.Property = property
		d.Value = value
		if v, ok := strings.CutSuffix(value, "!important"); ok {
			d.Value = strings.TrimSpace(v)
			d.Important = true
		}
		out = append(out, d)
	}
	return formatStyle(out)
}
