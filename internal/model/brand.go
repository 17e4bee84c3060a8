package model

import (
	"iter"
	"maps"
	"slices"
	"strings"
)

// BrandIdentity is the nested theme tree of a tenant.
type BrandIdentity struct {
	ID          string               `json:"id"`
	Colors      Colors               `json:"colors"`
	Spacing     Spacing              `json:"spacing"`
	Typography  Typography           `json:"typography"`
	Decorations Decorations          `json:"decorations"`
	Motion      Motion               `json:"motion"`
	Interactive InteractiveComponent `json:"interactive"`
	Navigation  NavigationComponent  `json:"navigation"`
}

// Color is a color literal or a reference of the form {palette.<name>}.
type Color string

const (
	refPrefix = "{palette."
	refSuffix = "}"
)

// PaletteRef returns the palette name c refers to, if c is a reference.
func (c Color) PaletteRef() (string, bool) {
	s := string(c)
	if !strings.HasPrefix(s, refPrefix) || !strings.HasSuffix(s, refSuffix) {
		return "", false
	}
	return s[len(refPrefix) : len(s)-len(refSuffix)], true
}

// Ref builds a palette reference.
func Ref(name string) Color {
	return Color(refPrefix + name + refSuffix)
}

type Colors struct {
	Palette     map[string]Color `json:"palette"`
	Consumption ContentColors    `json:"consumption"`
	Discovery   ContentColors    `json:"discovery"`
	Foundation  FoundationColors `json:"foundation"`
	Background  BackgroundColors `json:"background"`
	Interactive StateColors      `json:"interactive"`
	Navigation  NavigationColors `json:"navigation"`
}

type ContentColors struct {
	Primary   Color `json:"primary"`
	Secondary Color `json:"secondary"`
	Highlight Color `json:"highlight"`
}

type FoundationColors struct {
	Primary   Color `json:"primary"`
	Secondary Color `json:"secondary"`
	Tertiary  Color `json:"tertiary"`
}

type BackgroundColors struct {
	Base     Color `json:"base"`
	Surface  Color `json:"surface"`
	Elevated Color `json:"elevated"`
	Overlay  Color `json:"overlay"`
}

type StateColors struct {
	Default  Color `json:"default"`
	Hover    Color `json:"hover"`
	Active   Color `json:"active"`
	Disabled Color `json:"disabled"`
	Focus    Color `json:"focus"`
}

type NavigationColors struct {
	Background Color `json:"background"`
	Text       Color `json:"text"`
	ActiveText Color `json:"activeText"`
	Border     Color `json:"border"`
}

// Spacing values are pixels.
type Spacing struct {
	Unit float64 `json:"unit"`
	XS   float64 `json:"xs"`
	SM   float64 `json:"sm"`
	MD   float64 `json:"md"`
	LG   float64 `json:"lg"`
	XL   float64 `json:"xl"`
}

type Typography struct {
	FontFamily FontFamilies `json:"fontFamily"`
	FontSize   FontSizes    `json:"fontSize"`
	FontWeight FontWeights  `json:"fontWeight"`
	LineHeight LineHeights  `json:"lineHeight"`
}

type FontFamilies struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
	Mono    string `json:"mono"`
}

type FontSizes struct {
	XS   float64 `json:"xs"`
	SM   float64 `json:"sm"`
	Base float64 `json:"base"`
	LG   float64 `json:"lg"`
	XL   float64 `json:"xl"`
	XXL  float64 `json:"xxl"`
}

type FontWeights struct {
	Regular float64 `json:"regular"`
	Medium  float64 `json:"medium"`
	Bold    float64 `json:"bold"`
}

type LineHeights struct {
	Tight   float64 `json:"tight"`
	Normal  float64 `json:"normal"`
	Relaxed float64 `json:"relaxed"`
}

type Decorations struct {
	BorderRadius BorderRadii  `json:"borderRadius"`
	BorderWidth  BorderWidths `json:"borderWidth"`
	Shadow       Shadows      `json:"shadow"`
}

type BorderRadii struct {
	SM   float64 `json:"sm"`
	MD   float64 `json:"md"`
	LG   float64 `json:"lg"`
	Full float64 `json:"full"`
}

type BorderWidths struct {
	Thin  float64 `json:"thin"`
	Thick float64 `json:"thick"`
}

type Shadows struct {
	SM string `json:"sm"`
	MD string `json:"md"`
	LG string `json:"lg"`
}

type Motion struct {
	Duration Durations `json:"duration"`
	Easing   Easings   `json:"easing"`
}

// Durations are milliseconds.
type Durations struct {
	Fast   float64 `json:"fast"`
	Normal float64 `json:"normal"`
	Slow   float64 `json:"slow"`
}

type Easings struct {
	Standard   string `json:"standard"`
	Emphasized string `json:"emphasized"`
}

type InteractiveComponent struct {
	MinTouchTarget float64 `json:"minTouchTarget"`
	FocusRingWidth float64 `json:"focusRingWidth"`
	Cursor         string  `json:"cursor"`
}

type NavigationComponent struct {
	Height  float64 `json:"height"`
	ItemGap float64 `json:"itemGap"`
	Style   string  `json:"style"`
}

// Clone returns a deep copy of b.
func (b BrandIdentity) Clone() BrandIdentity {
	out := b
	out.Colors.Palette = maps.Clone(b.Colors.Palette)
	return out
}

// LeafKind is the constraint family of a brand leaf.
type LeafKind int

const (
	KindColor LeafKind = iota
	KindLength
	KindDuration
	KindNumber
	KindEnum
	KindFontFamily
)

// Leaf is one terminal value of the brand tree together with its constraint.
type Leaf struct {
	Path    []string
	Kind    LeafKind
	Color   Color
	Text    string
	Number  float64
	Min     float64
	Max     float64
	Step    float64
	Options []string
}

// Name joins the leaf path with sep.
func (l Leaf) Name(sep string) string {
	return strings.Join(l.Path, sep)
}

var (
	shadowLevels = []string{"none", "subtle", "medium", "strong"}
	easings      = []string{"linear", "ease", "ease-in", "ease-out", "ease-in-out"}
	cursors      = []string{"pointer", "default"}
	navStyles    = []string{"bar", "tabs", "sidebar"}
)

// Leaves walks every leaf in a fixed order: colors (palette sorted by name),
// spacing, typography, decorations, motion, interactive, navigation.
func (b *BrandIdentity) Leaves() iter.Seq[Leaf] {
	return func(yield func(Leaf) bool) {
		w := &leafWalker{yield: yield}
		w.colors(&b.Colors)
		w.spacing(&b.Spacing)
		w.typography(&b.Typography)
		w.decorations(&b.Decorations)
		w.motion(&b.Motion)
		w.interactive(&b.Interactive)
		w.navigation(&b.Navigation)
	}
}

type leafWalker struct {
	yield   func(Leaf) bool
	stopped bool
}

func (w *leafWalker) emit(l Leaf) {
	if w.stopped {
		return
	}
	if !w.yield(l) {
		w.stopped = true
	}
}

func (w *leafWalker) color(c Color, path ...string) {
	w.emit(Leaf{Path: path, Kind: KindColor, Color: c})
}

func (w *leafWalker) number(kind LeafKind, v, lo, hi, step float64, path ...string) {
	w.emit(Leaf{Path: path, Kind: kind, Number: v, Min: lo, Max: hi, Step: step})
}

func (w *leafWalker) enum(v string, options []string, path ...string) {
	w.emit(Leaf{Path: path, Kind: KindEnum, Text: v, Options: options})
}

func (w *leafWalker) colors(c *Colors) {
	for _, name := range slices.Sorted(maps.Keys(c.Palette)) {
		w.color(c.Palette[name], "colors", "palette", name)
	}
	for _, g := range []struct {
		name string
		c    *ContentColors
	}{{"consumption", &c.Consumption}, {"discovery", &c.Discovery}} {
		w.color(g.c.Primary, "colors", g.name, "primary")
		w.color(g.c.Secondary, "colors", g.name, "secondary")
		w.color(g.c.Highlight, "colors", g.name, "highlight")
	}
	w.color(c.Foundation.Primary, "colors", "foundation", "primary")
	w.color(c.Foundation.Secondary, "colors", "foundation", "secondary")
	w.color(c.Foundation.Tertiary, "colors", "foundation", "tertiary")
	w.color(c.Background.Base, "colors", "background", "base")
	w.color(c.Background.Surface, "colors", "background", "surface")
	w.color(c.Background.Elevated, "colors", "background", "elevated")
	w.color(c.Background.Overlay, "colors", "background", "overlay")
	w.color(c.Interactive.Default, "colors", "interactive", "default")
	w.color(c.Interactive.Hover, "colors", "interactive", "hover")
	w.color(c.Interactive.Active, "colors", "interactive", "active")
	w.color(c.Interactive.Disabled, "colors", "interactive", "disabled")
	w.color(c.Interactive.Focus, "colors", "interactive", "focus")
	w.color(c.Navigation.Background, "colors", "navigation", "background")
	w.color(c.Navigation.Text, "colors", "navigation", "text")
	w.color(c.Navigation.ActiveText, "colors", "navigation", "activeText")
	w.color(c.Navigation.Border, "colors", "navigation", "border")
}

func (w *leafWalker) spacing(s *Spacing) {
	w.number(KindLength, s.Unit, 0, 256, 0, "spacing", "unit")
	w.number(KindLength, s.XS, 0, 256, 0, "spacing", "xs")
	w.number(KindLength, s.SM, 0, 256, 0, "spacing", "sm")
	w.number(KindLength, s.MD, 0, 256, 0, "spacing", "md")
	w.number(KindLength, s.LG, 0, 256, 0, "spacing", "lg")
	w.number(KindLength, s.XL, 0, 256, 0, "spacing", "xl")
}

func (w *leafWalker) typography(t *Typography) {
	w.emit(Leaf{Path: []string{"typography", "fontFamily", "heading"}, Kind: KindFontFamily, Text: t.FontFamily.Heading})
	w.emit(Leaf{Path: []string{"typography", "fontFamily", "body"}, Kind: KindFontFamily, Text: t.FontFamily.Body})
	w.emit(Leaf{Path: []string{"typography", "fontFamily", "mono"}, Kind: KindFontFamily, Text: t.FontFamily.Mono})
	w.number(KindLength, t.FontSize.XS, 6, 96, 0, "typography", "fontSize", "xs")
	w.number(KindLength, t.FontSize.SM, 6, 96, 0, "typography", "fontSize", "sm")
	w.number(KindLength, t.FontSize.Base, 6, 96, 0, "typography", "fontSize", "base")
	w.number(KindLength, t.FontSize.LG, 6, 96, 0, "typography", "fontSize", "lg")
	w.number(KindLength, t.FontSize.XL, 6, 96, 0, "typography", "fontSize", "xl")
	w.number(KindLength, t.FontSize.XXL, 6, 96, 0, "typography", "fontSize", "xxl")
	w.number(KindNumber, t.FontWeight.Regular, 100, 900, 100, "typography", "fontWeight", "regular")
	w.number(KindNumber, t.FontWeight.Medium, 100, 900, 100, "typography", "fontWeight", "medium")
	w.number(KindNumber, t.FontWeight.Bold, 100, 900, 100, "typography", "fontWeight", "bold")
	w.number(KindNumber, t.LineHeight.Tight, 1, 3, 0, "typography", "lineHeight", "tight")
	w.number(KindNumber, t.LineHeight.Normal, 1, 3, 0, "typography", "lineHeight", "normal")
	w.number(KindNumber, t.LineHeight.Relaxed, 1, 3, 0, "typography", "lineHeight", "relaxed")
}

func (w *leafWalker) decorations(d *Decorations) {
	w.number(KindLength, d.BorderRadius.SM, 0, 9999, 0, "decorations", "borderRadius", "sm")
	w.number(KindLength, d.BorderRadius.MD, 0, 9999, 0, "decorations", "borderRadius", "md")
	w.number(KindLength, d.BorderRadius.LG, 0, 9999, 0, "decorations", "borderRadius", "lg")
	w.number(KindLength, d.BorderRadius.Full, 0, 9999, 0, "decorations", "borderRadius", "full")
	w.number(KindLength, d.BorderWidth.Thin, 0, 16, 0, "decorations", "borderWidth", "thin")
	w.number(KindLength, d.BorderWidth.Thick, 0, 16, 0, "decorations", "borderWidth", "thick")
	w.enum(d.Shadow.SM, shadowLevels, "decorations", "shadow", "sm")
	w.enum(d.Shadow.MD, shadowLevels, "decorations", "shadow", "md")
	w.enum(d.Shadow.LG, shadowLevels, "decorations", "shadow", "lg")
}

func (w *leafWalker) motion(m *Motion) {
	w.number(KindDuration, m.Duration.Fast, 0, 5000, 0, "motion", "duration", "fast")
	w.number(KindDuration, m.Duration.Normal, 0, 5000, 0, "motion", "duration", "normal")
	w.number(KindDuration, m.Duration.Slow, 0, 5000, 0, "motion", "duration", "slow")
	w.enum(m.Easing.Standard, easings, "motion", "easing", "standard")
	w.enum(m.Easing.Emphasized, easings, "motion", "easing", "emphasized")
}

func (w *leafWalker) interactive(c *InteractiveComponent) {
	w.number(KindLength, c.MinTouchTarget, 24, 96, 0, "interactive", "minTouchTarget")
	w.number(KindLength, c.FocusRingWidth, 0, 8, 0, "interactive", "focusRingWidth")
	w.enum(c.Cursor, cursors, "interactive", "cursor")
}

func (w *leafWalker) navigation(c *NavigationComponent) {
	w.number(KindLength, c.Height, 32, 128, 0, "navigation", "height")
	w.number(KindLength, c.ItemGap, 0, 64, 0, "navigation", "itemGap")
	w.enum(c.Style, navStyles, "navigation", "style")
}
