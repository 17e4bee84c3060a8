package theme

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/schema"
)

func defaultContext(t *testing.T, mutate func(*model.Config)) *model.TenantContext {
	t.Helper()
	cfg := schema.DefaultTemplate().Config()
	if mutate != nil {
		mutate(&cfg)
	}
	rec := model.TenantRecord{Slug: "acme", Status: model.StatusActive}
	return model.NewTenantContext(rec, cfg, 3, time.Unix(0, 0))
}

func collect(vars *Variables) map[string]string {
	out := make(map[string]string)
	for v := range vars.All() {
		out[v.Name] = v.Value
	}
	return out
}

func TestRender_EveryLeafExactlyOnce(t *testing.T) {
	tc := defaultContext(t, nil)
	brand := tc.Brand()

	for _, format := range []Format{FormatCSS, FormatDotted} {
		vars, err := Render(tc, format)
		require.NoError(t, err)

		seen := make(map[string]int)
		n := 0
		for v := range vars.All() {
			seen[v.Name]++
			n++
			assert.NotEmpty(t, v.Value, v.Name)
			assert.False(t, strings.HasPrefix(v.Value, "{palette."), "unresolved %s", v.Name)
		}
		leaves := 0
		for range brand.Leaves() {
			leaves++
		}
		assert.Equal(t, leaves, n)
		assert.Equal(t, leaves, vars.Len())
		for name, count := range seen {
			assert.Equal(t, 1, count, name)
		}
	}
}

func TestRender_Restartable(t *testing.T) {
	vars, err := Render(defaultContext(t, nil), FormatDotted)
	require.NoError(t, err)

	var first, second []Variable
	for v := range vars.All() {
		first = append(first, v)
	}
	for v := range vars.All() {
		second = append(second, v)
	}
	assert.Equal(t, first, second)

	// Early break stops the walk.
	count := 0
	for range vars.All() {
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}

func TestRender_FixedSectionOrder(t *testing.T) {
	vars, err := Render(defaultContext(t, nil), FormatDotted)
	require.NoError(t, err)

	order := []string{"colors", "spacing", "typography", "decorations", "motion", "interactive", "navigation"}
	var sections []string
	for v := range vars.All() {
		section := strings.SplitN(v.Name, ".", 2)[0]
		if len(sections) == 0 || sections[len(sections)-1] != section {
			sections = append(sections, section)
		}
	}
	assert.Equal(t, order, sections)
}

func TestRender_CSSValues(t *testing.T) {
	vars, err := Render(defaultContext(t, nil), FormatCSS)
	require.NoError(t, err)
	got := collect(vars)

	assert.Equal(t, "#1f6feb", got["--colors-consumption-primary"])
	assert.Equal(t, "rgba(31,35,40,0.5)", got["--colors-background-overlay"])
	assert.Equal(t, "#ffffff", got["--colors-navigation-active-text"])
	assert.Equal(t, "16px", got["--spacing-md"])
	assert.Equal(t, "1.5", got["--typography-line-height-normal"])
	assert.Equal(t, "700", got["--typography-font-weight-bold"])
	assert.Equal(t, "200ms", got["--motion-duration-normal"])
	assert.Equal(t, "0 4px 8px rgba(0,0,0,0.12)", got["--decorations-shadow-md"])
	assert.Equal(t, "44px", got["--interactive-min-touch-target"])
}

func TestRender_DottedValues(t *testing.T) {
	vars, err := Render(defaultContext(t, nil), FormatDotted)
	require.NoError(t, err)
	got := collect(vars)

	assert.Equal(t, "#1f6feb", got["colors.consumption.primary"])
	assert.Equal(t, "16", got["spacing.md"])
	assert.Equal(t, "medium", got["decorations.shadow.md"])
	assert.Equal(t, "ease-in-out", got["motion.easing.standard"])
}

func TestRender_UnresolvedReferenceRendersNothing(t *testing.T) {
	tc := defaultContext(t, func(cfg *model.Config) {
		cfg.Brand.Colors.Navigation.Border = model.Ref("missing")
	})

	vars, err := Render(tc, FormatCSS)
	assert.Nil(t, vars)
	var unresolved *UnresolvedError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, "colors.navigation.border", unresolved.Path)
	assert.Equal(t, "missing", unresolved.Ref)
}

func TestRender_ChainedReferenceIsUnresolved(t *testing.T) {
	tc := defaultContext(t, func(cfg *model.Config) {
		cfg.Brand.Colors.Palette["alias"] = model.Ref("primary")
		cfg.Brand.Colors.Foundation.Tertiary = model.Ref("alias")
	})
	_, err := Render(tc, FormatDotted)
	assert.Error(t, err)
}

func TestWriteStylesheet(t *testing.T) {
	vars, err := Render(defaultContext(t, nil), FormatCSS)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteStylesheet(&buf, vars))
	css := buf.String()
	assert.True(t, strings.HasPrefix(css, "/* tenant acme, brand default, version 3 */\n:root {\n"))
	assert.Contains(t, css, "  --colors-consumption-primary: #1f6feb;\n")
	assert.True(t, strings.HasSuffix(css, "}\n"))
	assert.Equal(t, vars.Len()+3, strings.Count(css, "\n"))

	dotted, err := Render(defaultContext(t, nil), FormatDotted)
	require.NoError(t, err)
	assert.ErrorIs(t, WriteStylesheet(&buf, dotted), ErrWrongFormat)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSS, f)
	f, err = ParseFormat("dotted")
	require.NoError(t, err)
	assert.Equal(t, FormatDotted, f)
	_, err = ParseFormat("scss")
	assert.Error(t, err)
}

func TestAssetPath(t *testing.T) {
	p, err := AssetPath("acme", "default", "logos", "logo-dark.svg")
	require.NoError(t, err)
	assert.Equal(t, "acme/default/logos/logo-dark.svg", p)

	bad := [][4]string{
		{"acme", "default", "logos", "../../etc/passwd"},
		{"acme", "default", "logos", ".env"},
		{"acme", "default", "logos", "a..b"},
		{"acme", "default", "scripts", "x.js"},
		{"../acme", "default", "logos", "x.png"},
		{"acme", "Default", "logos", "x.png"},
	}
	for _, b := range bad {
		_, err := AssetPath(b[0], b[1], b[2], b[3])
		assert.ErrorIs(t, err, ErrInvalidAsset, b)
	}

	a := Assets{Root: "/srv/brand", BaseURL: "https://cdn.example.com/brand/"}
	u, err := a.URL("acme", "default", "icons", "bell.svg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/brand/acme/default/icons/bell.svg", u)
	f, err := a.File("acme", "default", "icons", "bell.svg")
	require.NoError(t, err)
	assert.Equal(t, "/srv/brand/acme/default/icons/bell.svg", f)
}
