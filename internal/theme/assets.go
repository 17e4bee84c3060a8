package theme

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

// Categories lists the brand asset directories.
var Categories = []string{"logos", "icons", "favicons", "backgrounds", "fonts"}

var ErrInvalidAsset = errors.New("invalid asset reference")

var (
	segmentRe  = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$`)
	filenameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)
)

// AssetPath returns the slash-separated location of a brand asset relative
// to the asset root: <slug>/<brandID>/<category>/<filename>.
func AssetPath(slug, brandID, category, filename string) (string, error) {
	if !segmentRe.MatchString(slug) {
		return "", fmt.Errorf("%w: tenant %q", ErrInvalidAsset, slug)
	}
	if !segmentRe.MatchString(brandID) {
		return "", fmt.Errorf("%w: brand %q", ErrInvalidAsset, brandID)
	}
	if !slices.Contains(Categories, category) {
		return "", fmt.Errorf("%w: category %q", ErrInvalidAsset, category)
	}
	if !filenameRe.MatchString(filename) || strings.Contains(filename, "..") {
		return "", fmt.Errorf("%w: filename %q", ErrInvalidAsset, filename)
	}
	return path.Join(slug, brandID, category, filename), nil
}

// Assets maps asset references onto a directory and a public URL prefix.
type Assets struct {
	Root    string
	BaseURL string
}

// File returns the on-disk location of an asset.
func (a Assets) File(slug, brandID, category, filename string) (string, error) {
	rel, err := AssetPath(slug, brandID, category, filename)
	if err != nil {
		return "", err
	}
	return filepath.Join(a.Root, filepath.FromSlash(rel)), nil
}

// URL returns the public URL of an asset.
func (a Assets) URL(slug, brandID, category, filename string) (string, error) {
	rel, err := AssetPath(slug, brandID, category, filename)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(a.BaseURL, "/") + "/" + rel, nil
}
