package schema

import (
	"cmp"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/teresa-solution/tenant-context-service/internal/model"
)

var (
	hexColorRe  = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{4}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
	rgbColorRe  = regexp.MustCompile(`^rgba?\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*(?:,\s*(0|1|0?\.\d+|1\.0+)\s*)?\)$`)
	localeRe    = regexp.MustCompile(`^[a-z]{2}(?:-[A-Z]{2})?$`)
	tokenNameRe = regexp.MustCompile(`^[a-z][a-zA-Z0-9]{0,39}$`)
	brandIDRe   = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)
)

// ValidColor reports whether s is a hex, rgb() or rgba() color literal.
func ValidColor(s string) bool {
	if hexColorRe.MatchString(s) {
		return true
	}
	m := rgbColorRe.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	isRGBA := strings.HasPrefix(s, "rgba")
	if isRGBA != (m[4] != "") {
		return false
	}
	for _, ch := range m[1:4] {
		if n, err := strconv.Atoi(ch); err != nil || n > 255 {
			return false
		}
	}
	return true
}

// Validate checks every field of cfg against its constraint and returns all
// failures sorted by path. When t is non-nil, feature keys must be declared by
// the template.
func Validate(cfg *model.Config, t *Template) []model.FieldError {
	v := &validator{}
	v.general(&cfg.General)
	v.security(&cfg.Security)
	v.features(cfg.Features, t)
	v.limits(cfg.Limits)
	v.brand(&cfg.Brand)
	sortProblems(v.problems)
	return v.problems
}

func sortProblems(problems []model.FieldError) {
	slices.SortStableFunc(problems, func(a, b model.FieldError) int {
		return cmp.Compare(a.Path, b.Path)
	})
}

// ValidateBrand checks only the brand identity tree.
func ValidateBrand(b *model.BrandIdentity) []model.FieldError {
	v := &validator{}
	v.brand(b)
	return v.problems
}

type validator struct {
	problems []model.FieldError
}

func (v *validator) fail(path, format string, args ...any) {
	v.problems = append(v.problems, model.FieldError{Path: path, Reason: fmt.Sprintf(format, args...)})
}

func (v *validator) general(g *model.GeneralSettings) {
	if g.DisplayName == "" || len(g.DisplayName) > 120 {
		v.fail("general.displayName", "must be 1-120 characters")
	}
	if !localeRe.MatchString(g.Locale) {
		v.fail("general.locale", "must look like en or en-US")
	}
	if _, err := time.LoadLocation(g.Timezone); err != nil || g.Timezone == "" {
		v.fail("general.timezone", "unknown time zone %q", g.Timezone)
	}
	if g.SupportEmail != "" && !isValidEmail(g.SupportEmail) {
		v.fail("general.supportEmail", "invalid email format")
	}
}

func (v *validator) security(s *model.SecuritySettings) {
	if s.SessionTTLMinutes < 5 || s.SessionTTLMinutes > 1440 {
		v.fail("security.sessionTtlMinutes", "must be between 5 and 1440")
	}
	if s.PasswordMinLength < 8 || s.PasswordMinLength > 128 {
		v.fail("security.passwordMinLength", "must be between 8 and 128")
	}
	for i, origin := range s.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || (u.Path != "" && u.Path != "/") {
			v.fail(fmt.Sprintf("security.allowedOrigins[%d]", i), "must be an http(s) origin")
		}
	}
	if s.RateLimit.RequestsPerSecond <= 0 || s.RateLimit.RequestsPerSecond > 10000 {
		v.fail("security.rateLimit.requestsPerSecond", "must be in (0, 10000]")
	}
	if s.RateLimit.Burst < 1 {
		v.fail("security.rateLimit.burst", "must be at least 1")
	}
}

func (v *validator) features(features map[string]model.Feature, t *Template) {
	if len(features) == 0 {
		v.fail("features", "must declare at least one feature")
	}
	for key := range features {
		if !tokenNameRe.MatchString(key) {
			v.fail("features."+key, "invalid feature key")
			continue
		}
		if t != nil && !t.HasFeature(key) {
			v.fail("features."+key, "feature not declared by the default template")
		}
	}
}

func (v *validator) limits(l model.Limits) {
	for _, r := range model.Resources {
		n, _ := l.Limit(r)
		if n < model.Unlimited {
			v.fail("limits."+limitKey(r), "must be -1 (unlimited) or non-negative")
		}
	}
}

func limitKey(r model.Resource) string {
	switch r {
	case model.ResourceAPICalls:
		return "maxApiCallsPerPeriod"
	case model.ResourceStorageBytes:
		return "maxStorageBytes"
	}
	s := string(r)
	return "max" + strings.ToUpper(s[:1]) + s[1:]
}

func (v *validator) brand(b *model.BrandIdentity) {
	if !brandIDRe.MatchString(b.ID) {
		v.fail("brand.id", "invalid brand id")
	}
	for leaf := range b.Leaves() {
		path := "brand." + leaf.Name(".")
		switch leaf.Kind {
		case model.KindColor:
			v.color(path, leaf, b.Colors.Palette)
		case model.KindLength, model.KindDuration, model.KindNumber:
			v.number(path, leaf)
		case model.KindEnum:
			if !slices.Contains(leaf.Options, leaf.Text) {
				v.fail(path, "must be one of %s", strings.Join(leaf.Options, ", "))
			}
		case model.KindFontFamily:
			if leaf.Text == "" || len(leaf.Text) > 200 || strings.ContainsAny(leaf.Text, ";{}<>") {
				v.fail(path, "invalid font family")
			}
		}
	}
}

func (v *validator) color(path string, leaf model.Leaf, palette map[string]model.Color) {
	isPaletteEntry := len(leaf.Path) == 3 && leaf.Path[1] == "palette"
	if isPaletteEntry && !tokenNameRe.MatchString(leaf.Path[2]) {
		v.fail(path, "invalid palette name")
	}
	name, isRef := leaf.Color.PaletteRef()
	switch {
	case isRef && isPaletteEntry:
		v.fail(path, "palette entries must be color literals")
	case isRef:
		target, ok := palette[name]
		if !ok {
			v.fail(path, "unresolved palette reference %q", name)
		} else if _, chained := target.PaletteRef(); chained {
			v.fail(path, "palette reference %q points at another reference", name)
		}
	case !ValidColor(string(leaf.Color)):
		v.fail(path, "invalid color %q", leaf.Color)
	}
}

func (v *validator) number(path string, leaf model.Leaf) {
	n := leaf.Number
	if math.IsNaN(n) || n < leaf.Min || n > leaf.Max {
		v.fail(path, "must be between %g and %g", leaf.Min, leaf.Max)
		return
	}
	if leaf.Step > 0 && math.Mod(n, leaf.Step) != 0 {
		v.fail(path, "must be a multiple of %g", leaf.Step)
	}
}

// isValidEmail performs a basic email validation
func isValidEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if len(email) < 3 || at < 1 || !strings.Contains(email[at:], ".") {
		return false
	}
	return true
}
