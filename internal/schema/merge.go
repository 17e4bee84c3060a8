package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"reflect"
	"strings"

	"github.com/teresa-solution/tenant-context-service/internal/model"
)

// openMaps are object paths whose children are named by the tenant rather
// than by the schema. Object entries are checked key by key against the
// entry shape; a nil shape means entries are scalars.
var openMaps = map[string]map[string]any{
	"features":             entryShape(reflect.TypeFor[model.Feature]()),
	"brand.colors.palette": nil,
}

// entryShape returns the JSON keys a struct type declares.
func entryShape(t reflect.Type) map[string]any {
	shape := make(map[string]any, t.NumField())
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		shape[name] = nil
	}
	return shape
}

// Merge overlays a partial override document onto the template. Objects merge
// key by key, arrays and scalars are replaced wholesale and a null value keeps
// the template's value. Keys the schema does not declare are rejected.
func Merge(t *Template, override json.RawMessage) (model.Config, []model.FieldError) {
	trimmed := bytes.TrimSpace(override)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return t.Config(), nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var patch map[string]any
	if err := dec.Decode(&patch); err != nil {
		return model.Config{}, []model.FieldError{{Path: "$", Reason: "override must be a JSON object: " + err.Error()}}
	}

	var problems []model.FieldError
	checkKeys(patch, t.doc, "", &problems)
	sortProblems(problems)

	if len(problems) == 0 {
		var typed model.Config
		problems = decodeStrict(trimmed, &typed)
	}
	if len(problems) > 0 {
		return model.Config{}, problems
	}

	merged, err := json.Marshal(overlay(t.doc, patch))
	if err != nil {
		return model.Config{}, []model.FieldError{{Path: "$", Reason: err.Error()}}
	}
	var cfg model.Config
	if err := json.Unmarshal(merged, &cfg); err != nil {
		return model.Config{}, []model.FieldError{{Path: "$", Reason: err.Error()}}
	}
	return cfg, nil
}

func overlay(base, patch any) any {
	pm, patchIsObject := patch.(map[string]any)
	bm, baseIsObject := base.(map[string]any)
	if !patchIsObject || !baseIsObject {
		return patch
	}
	out := make(map[string]any, len(bm)+len(pm))
	maps.Copy(out, bm)
	for k, v := range pm {
		if v == nil {
			continue
		}
		out[k] = overlay(bm[k], v)
	}
	return out
}

func checkKeys(patch, base map[string]any, prefix string, problems *[]model.FieldError) {
	if shape, open := openMaps[prefix]; open {
		if shape == nil {
			return
		}
		for name, v := range patch {
			if entry, ok := v.(map[string]any); ok {
				checkKeys(entry, shape, joinPath(prefix, name), problems)
			}
		}
		return
	}
	for k, v := range patch {
		path := joinPath(prefix, k)
		bv, known := base[k]
		if !known {
			*problems = append(*problems, model.FieldError{Path: path, Reason: "unknown key"})
			continue
		}
		pm, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if bm, ok := bv.(map[string]any); ok {
			checkKeys(pm, bm, path, problems)
		}
	}
}

// decodeStrict decodes data into cfg, reporting unknown fields and type
// mismatches as field errors.
func decodeStrict(data []byte, cfg *model.Config) []model.FieldError {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(cfg)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return []model.FieldError{{
			Path:   typeErr.Field,
			Reason: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
		}}
	}
	if msg := err.Error(); strings.HasPrefix(msg, "json: unknown field ") {
		return []model.FieldError{{Path: strings.Trim(strings.TrimPrefix(msg, "json: unknown field "), `"`), Reason: "unknown key"}}
	}
	return []model.FieldError{{Path: "$", Reason: err.Error()}}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
