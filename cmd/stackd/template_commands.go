package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"github.com/loykin/stackd/pkg/template"
)

// TemplateFlags holds flags for template and init.
type TemplateFlags struct {
	Format string // toml or json
	Out    string
	Root   string
	Force  bool
}

// Template prints one generated [[services]] entry.
func (c command) Template(typ, id string, f TemplateFlags) error {
	g := template.NewGenerator()
	var (
		data []byte
		err  error
	)
	switch f.Format {
	case "", "toml":
		data, err = g.GenerateTOML(template.TemplateType(typ), id)
	case "json":
		data, err = g.GenerateJSON(template.TemplateType(typ), id)
		data = append(data, '\n')
	default:
		return fmt.Errorf("unknown template format %q (want toml or json)", f.Format)
	}
	if err != nil {
		return err
	}
	_, err = c.out.Write(data)
	return err
}

// Init writes a starter stackd.toml containing one service per type.
func (c command) Init(types []string, f TemplateFlags) error {
	if len(types) == 0 {
		types = []string{string(template.TypePostgres), string(template.TypeRedis)}
	}
	g := template.NewGenerator()
	stack := template.Stack{Root: f.Root}
	for _, typ := range types {
		t, err := g.Generate(template.TemplateType(typ), "")
		if err != nil {
			return err
		}
		stack.Services = append(stack.Services, *t)
	}
	data, err := template.Render(stack)
	if err != nil {
		return err
	}
	if f.Out == "" || f.Out == "-" {
		_, err = c.out.Write(data)
		return err
	}
	if _, err := os.Stat(f.Out); err == nil && !f.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", f.Out)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Out), 0o750); err != nil {
		return err
	}
	if err := renameio.WriteFile(f.Out, data, 0o640); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "wrote %s with %d service(s)\n", f.Out, len(stack.Services))
	return err
}

func createTemplateCommand(c command) *cobra.Command {
	f := &TemplateFlags{}
	cmd := &cobra.Command{
		Use:   "template <type> [id]",
		Short: "Print a service definition template",
		Long: `Print a [[services]] entry for a common local service.

Supported types: ` + fmt.Sprint(template.NewGenerator().GetSupportedTypes()) + `

Examples:
  stackd template postgres
  stackd template redis cache --format json
  stackd template web >> stackd.toml`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) > 1 {
				id = args[1]
			}
			return c.Template(args[0], id, *f)
		},
	}
	cmd.Flags().StringVar(&f.Format, "format", "toml", "toml or json")
	return cmd
}

func createInitCommand(c command) *cobra.Command {
	f := &TemplateFlags{}
	cmd := &cobra.Command{
		Use:   "init [type...]",
		Short: "Write a starter stackd.toml",
		Long: `Write a starter configuration with one service per given type
(postgres and redis when none are given).

Examples:
  stackd init
  stackd init postgres redis web --out ./stackd.toml
  stackd init mariadb --out -            # Print instead of writing`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Init(args, *f)
		},
	}
	cmd.Flags().StringVar(&f.Out, "out", "stackd.toml", "destination file, - for stdout")
	cmd.Flags().StringVar(&f.Root, "root", "", "root written into the config (default ~/.stackd)")
	cmd.Flags().BoolVar(&f.Force, "force", false, "overwrite an existing file")
	return cmd
}
