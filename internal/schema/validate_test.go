package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/tenant-context-service/internal/model"
)

func TestValidColor(t *testing.T) {
	valid := []string{"#fff", "#ffff", "#1f6feb", "#1f6feb80", "rgb(0, 0, 0)", "rgba(31,35,40,0.5)", "rgba(255, 255, 255, 1)"}
	invalid := []string{"", "blue", "#ff", "#gggggg", "rgb(256,0,0)", "rgba(0,0,0)", "rgb(0,0,0,0.5)", "rgba(0,0,0,2)", "{palette.primary}"}

	for _, c := range valid {
		assert.True(t, ValidColor(c), c)
	}
	for _, c := range invalid {
		assert.False(t, ValidColor(c), c)
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	tmpl := DefaultTemplate()
	cfg := tmpl.Config()
	cfg.General.Locale = "english"
	cfg.Security.SessionTTLMinutes = 1
	cfg.Limits.MaxUsers = -5
	cfg.Brand.Colors.Background.Base = "not-a-color"
	cfg.Brand.Typography.FontWeight.Medium = 450
	cfg.Brand.Motion.Easing.Standard = "bouncy"

	problems := Validate(&cfg, tmpl)

	paths := make([]string, 0, len(problems))
	for _, p := range problems {
		paths = append(paths, p.Path)
	}
	assert.Equal(t, []string{
		"brand.colors.background.base",
		"brand.motion.easing.standard",
		"brand.typography.fontWeight.medium",
		"general.locale",
		"limits.maxUsers",
		"security.sessionTtlMinutes",
	}, paths)
}

func TestValidate_PaletteReferences(t *testing.T) {
	tmpl := DefaultTemplate()

	t.Run("unresolved", func(t *testing.T) {
		cfg := tmpl.Config()
		cfg.Brand.Colors.Consumption.Primary = model.Ref("missing")

		problems := Validate(&cfg, tmpl)
		require.Len(t, problems, 1)
		assert.Equal(t, "brand.colors.consumption.primary", problems[0].Path)
		assert.Contains(t, problems[0].Reason, "unresolved")
	})

	t.Run("chained", func(t *testing.T) {
		cfg := tmpl.Config()
		cfg.Brand.Colors.Palette["alias"] = model.Ref("primary")

		problems := Validate(&cfg, tmpl)
		require.Len(t, problems, 1)
		assert.Equal(t, "brand.colors.palette.alias", problems[0].Path)
	})
}

func TestValidate_FeatureMustExistInTemplate(t *testing.T) {
	tmpl := DefaultTemplate()
	cfg := tmpl.Config()
	cfg.Features["teleportation"] = model.Feature{Enabled: true}

	problems := Validate(&cfg, tmpl)
	require.Len(t, problems, 1)
	assert.Equal(t, "features.teleportation", problems[0].Path)

	assert.Empty(t, Validate(&cfg, nil), "without a template any well-formed key is accepted")
}

func TestValidate_UnlimitedIsAllowed(t *testing.T) {
	tmpl := DefaultTemplate()
	cfg := tmpl.Config()
	cfg.Limits.MaxStorageBytes = model.Unlimited

	assert.Empty(t, Validate(&cfg, tmpl))
}

func TestValidateBrand_FontFamilyInjection(t *testing.T) {
	b := DefaultTemplate().Config().Brand
	b.Typography.FontFamily.Body = "Inter; } body { display:none"

	problems := ValidateBrand(&b)
	require.Len(t, problems, 1)
	assert.Equal(t, "brand.typography.fontFamily.body", problems[0].Path)
}
