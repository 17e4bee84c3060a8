package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teresa-solution/tenant-context-service/internal/model"
	"github.com/teresa-solution/tenant-context-service/internal/schema"
)

func newCheckTemplateCommand() *cobra.Command {
	var overrides []string

	cmd := &cobra.Command{
		Use:   "check-template [template.yaml]",
		Short: "Validate a configuration template and, optionally, tenant overrides against it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			tmpl, err := loadTemplate(path)
			if err != nil {
				printProblems(cmd, err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "template ok: %d features\n", len(tmpl.Features()))

			var failed error
			for _, file := range overrides {
				if err := checkOverride(tmpl, file); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: invalid\n", file)
					printProblems(cmd, err)
					failed = errors.New("one or more overrides are invalid")
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", file)
			}
			return failed
		},
	}
	cmd.Flags().StringSliceVar(&overrides, "override", nil, "Override JSON file to validate (repeatable)")
	return cmd
}

// loadTemplate reads the template at path, or returns the embedded default
// when path is empty.
func loadTemplate(path string) (*schema.Template, error) {
	if path == "" {
		return schema.DefaultTemplate(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return schema.LoadTemplate(f)
}

func checkOverride(tmpl *schema.Template, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if !json.Valid(data) {
		return fmt.Errorf("%s is not valid JSON", file)
	}
	cfg, problems := schema.Merge(tmpl, data)
	if len(problems) == 0 {
		problems = schema.Validate(&cfg, tmpl)
	}
	if len(problems) > 0 {
		return &model.ConfigError{Slug: file, Problems: problems}
	}
	return nil
}

func printProblems(cmd *cobra.Command, err error) {
	var cfgErr *model.ConfigError
	if !errors.As(err, &cfgErr) {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %v\n", err)
		return
	}
	for _, p := range cfgErr.Problems {
		fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", p)
	}
}
