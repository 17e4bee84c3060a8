package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/schema"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCheckOverride(t *testing.T) {
	tmpl := schema.DefaultTemplate()

	assert.NoError(t, checkOverride(tmpl, writeFile(t, "ok.json", `{"limits":{"maxUsers":10}}`)))

	err := checkOverride(tmpl, writeFile(t, "bad.json", `{"limits":{"maxUsers":-5}}`))
	var cfgErr *model.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "limits.maxUsers", cfgErr.Problems[0].Path)

	assert.Error(t, checkOverride(tmpl, writeFile(t, "broken.json", `{"limits":`)))
	assert.Error(t, checkOverride(tmpl, filepath.Join(t.TempDir(), "missing.json")))
}

func TestCheckTemplateCommand(t *testing.T) {
	good := writeFile(t, "good.json", `{"limits":{"maxUsers":10}}`)
	bad := writeFile(t, "bad.json", `{"limits":{"bogus":1}}`)

	cmd := newCheckTemplateCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"--override", good, "--override", bad})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, out.String(), "template ok")
	assert.Contains(t, out.String(), good+": ok")
	assert.Contains(t, out.String(), bad+": invalid")
	assert.Contains(t, errOut.String(), "limits.bogus")
}

func TestLoadTemplate_DefaultWhenPathEmpty(t *testing.T) {
	tmpl, err := loadTemplate("")
	require.NoError(t, err)
	assert.Equal(t, schema.DefaultTemplate().Features(), tmpl.Features())

	_, err = loadTemplate(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestClosers_ReverseOrderAndAggregate(t *testing.T) {
	var order []int
	var c closers
	c.add(func() error { order = append(order, 1); return errors.New("first") })
	c.add(func() error { order = append(order, 2); return nil })
	c.add(func() error { order = append(order, 3); return errors.New("third") })

	err := c.close()
	assert.Equal(t, []int{3, 2, 1}, order)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "third")
}
