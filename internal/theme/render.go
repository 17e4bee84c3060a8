// Package theme projects a tenant's brand identity into style variables and
// resolves brand asset paths.
package theme

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"
	"unicode"

	"github.com/teresa-solution/tenant-context-service/internal/model"
)

// Format selects variable naming and value encoding.
type Format string

const (
	// FormatCSS names variables --colors-consumption-primary and appends
	// px/ms units.
	FormatCSS Format = "css"
	// FormatDotted names variables colors.consumption.primary with raw values.
	FormatDotted Format = "dotted"
)

// ParseFormat accepts "css" and "dotted"; empty selects css.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatCSS:
		return FormatCSS, nil
	case FormatDotted:
		return FormatDotted, nil
	}
	return "", fmt.Errorf("unknown variable format %q", s)
}

var ErrWrongFormat = errors.New("stylesheet requires css variables")

// UnresolvedError reports a palette reference with no literal behind it.
type UnresolvedError struct {
	Path string
	Ref  string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("brand.%s: unresolved palette reference %q", e.Path, e.Ref)
}

// Variable is one rendered leaf.
type Variable struct {
	Name  string
	Value string
}

// Variables is the rendered form of one brand identity. It holds a private
// copy of the tree, so it stays valid after the tenant context is replaced.
type Variables struct {
	Slug    string
	BrandID string
	Version int64
	Format  Format

	brand model.BrandIdentity
	count int
}

// Render checks every palette reference in tc's brand identity and returns
// the variables in the fixed leaf order. Nothing is rendered if any
// reference is unresolved.
func Render(tc *model.TenantContext, format Format) (*Variables, error) {
	if tc == nil {
		return nil, errors.New("render theme: no tenant context")
	}
	if format != FormatCSS && format != FormatDotted {
		return nil, fmt.Errorf("unknown variable format %q", format)
	}
	brand := tc.Brand()
	return renderBrand(brand, tc.Slug(), tc.Version(), format)
}

func renderBrand(brand model.BrandIdentity, slug string, version int64, format Format) (*Variables, error) {
	count := 0
	for leaf := range brand.Leaves() {
		count++
		if leaf.Kind != model.KindColor {
			continue
		}
		if _, err := resolveColor(leaf, brand.Colors.Palette); err != nil {
			return nil, err
		}
	}
	return &Variables{
		Slug:    slug,
		BrandID: brand.ID,
		Version: version,
		Format:  format,
		brand:   brand,
		count:   count,
	}, nil
}

// Len is the number of variables All yields.
func (v *Variables) Len() int { return v.count }

// All yields every variable once. It may be ranged over any number of times.
func (v *Variables) All() iter.Seq[Variable] {
	return func(yield func(Variable) bool) {
		for leaf := range v.brand.Leaves() {
			if !yield(v.variable(leaf)) {
				return
			}
		}
	}
}

func (v *Variables) variable(leaf model.Leaf) Variable {
	if v.Format == FormatDotted {
		return Variable{Name: leaf.Name("."), Value: rawValue(leaf, v.brand.Colors.Palette)}
	}
	return Variable{Name: cssName(leaf.Path), Value: cssValue(leaf, v.brand.Colors.Palette)}
}

func resolveColor(leaf model.Leaf, palette map[string]model.Color) (string, error) {
	name, isRef := leaf.Color.PaletteRef()
	if !isRef {
		return string(leaf.Color), nil
	}
	target, ok := palette[name]
	if !ok {
		return "", &UnresolvedError{Path: leaf.Name("."), Ref: name}
	}
	if _, chained := target.PaletteRef(); chained {
		return "", &UnresolvedError{Path: leaf.Name("."), Ref: name}
	}
	return string(target), nil
}

func rawValue(leaf model.Leaf, palette map[string]model.Color) string {
	switch leaf.Kind {
	case model.KindColor:
		// References were checked by renderBrand.
		c, _ := resolveColor(leaf, palette)
		return c
	case model.KindLength, model.KindDuration, model.KindNumber:
		return strconv.FormatFloat(leaf.Number, 'f', -1, 64)
	default:
		return leaf.Text
	}
}

var shadowValues = map[string]string{
	"none":   "none",
	"subtle": "0 1px 2px rgba(0,0,0,0.08)",
	"medium": "0 4px 8px rgba(0,0,0,0.12)",
	"strong": "0 12px 24px rgba(0,0,0,0.18)",
}

func cssValue(leaf model.Leaf, palette map[string]model.Color) string {
	raw := rawValue(leaf, palette)
	switch leaf.Kind {
	case model.KindLength:
		return raw + "px"
	case model.KindDuration:
		return raw + "ms"
	case model.KindEnum:
		if leaf.Path[0] == "decorations" && leaf.Path[1] == "shadow" {
			return shadowValues[raw]
		}
	}
	return raw
}

func cssName(path []string) string {
	var b strings.Builder
	b.WriteString("-")
	for _, seg := range path {
		b.WriteByte('-')
		for _, r := range seg {
			if unicode.IsUpper(r) {
				b.WriteByte('-')
				r = unicode.ToLower(r)
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// WriteStylesheet streams vars as a :root rule.
func WriteStylesheet(w io.Writer, vars *Variables) error {
	if vars.Format != FormatCSS {
		return ErrWrongFormat
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "/* tenant %s, brand %s, version %d */\n:root {\n", vars.Slug, vars.BrandID, vars.Version)
	for v := range vars.All() {
		bw.WriteString("  ")
		bw.WriteString(v.Name)
		bw.WriteString(": ")
		bw.WriteString(v.Value)
		bw.WriteString(";\n")
	}
	bw.WriteString("}\n")
	return bw.Flush()
}
