package main

import (
	"fmt"
	"io"
	"os"

	"github.com/loykin/slotexec/pkg/template"
)

// TemplateCreateFlags holds flags for the template command
type TemplateCreateFlags struct {
	Type   string
	Slots  int
	Output string
	Force  bool
}

// TemplateCreate writes a starter configuration for the chosen layout, to
// stdout when no output file is given.
func (c command) TemplateCreate(w io.Writer, f TemplateCreateFlags) error {
	generator := template.NewGenerator()
	content, err := generator.GenerateTOML(template.TemplateType(f.Type), f.Slots)
	if err != nil {
		return fmt.Errorf("failed to generate template: %w", err)
	}
	if f.Output == "" {
		_, err := w.Write(content)
		return err
	}

	if _, err := os.Stat(f.Output); err == nil && !f.Force {
		return fmt.Errorf("config file '%s' already exists (use --force to overwrite)", f.Output)
	}
	if err := os.WriteFile(f.Output, content, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	_, err = fmt.Fprintf(w, "Config '%s' created: %s\nStart the server with: slotexec serve %s\n", f.Type, f.Output, f.Output)
	return err
}
