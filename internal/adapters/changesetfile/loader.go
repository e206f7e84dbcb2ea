// Package changesetfile loads change sets from YAML files.
package changesetfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/rollgate/internal/config"
	"github.com/felixgeelhaar/rollgate/internal/domain/changeset"
	"gopkg.in/yaml.v3"
)

// File is the YAML shape of a change set.
//
//	name: app-config
//	operations:
//	  - id: app-conf
//	    kind: file
//	    path: /etc/app.conf
//	    content_file: files/app.conf
//	  - id: restart
//	    kind: command
//	    command: systemctl restart app
//	    unless: systemctl is-active app
type File struct {
	Name       string          `yaml:"name"`
	Operations []OperationFile `yaml:"operations"`
}

// OperationFile is one operation entry. ContentFile is read relative to the
// change set file and replaces Content, so the fingerprint covers the bytes
// that will be written.
type OperationFile struct {
	changeset.Spec `yaml:",inline"`
	ContentFile    string `yaml:"content_file"`
}

// Load reads and validates the change set at path.
func Load(path string) (*changeset.ChangeSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, config.NewFileNotFoundError(config.ErrCodeChangeSetNotFound, "change set", path).
				WithSuggestion("Pass the change set with --changeset.")
		}
		return nil, fmt.Errorf("failed to read change set: %w", err)
	}
	return Parse(data, filepath.Dir(path), path)
}

// Parse decodes a change set. baseDir resolves content_file entries; source
// names the input in errors. All invalid operations are reported together.
func Parse(data []byte, baseDir, source string) (*changeset.ChangeSet, error) {
	var raw File
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, config.NewParseError(config.ErrCodeChangeSetParse, source, err)
	}

	errs := config.NewErrorList()
	if raw.Name == "" {
		errs.AddValidation("name", "is required", "Give the change set a name; it is recorded in every audit record.")
	}
	if len(raw.Operations) == 0 {
		errs.AddValidation("operations", "must list at least one operation", "")
	}

	ops := make([]changeset.Operation, 0, len(raw.Operations))
	seen := make(map[string]int, len(raw.Operations))
	for i, entry := range raw.Operations {
		field := fmt.Sprintf("operations[%d]", i)
		spec := entry.Spec

		if entry.ContentFile != "" {
			if spec.Content != "" {
				errs.AddValidation(field, "content and content_file are mutually exclusive", "Keep one of them.")
				continue
			}
			contentPath := entry.ContentFile
			if !filepath.IsAbs(contentPath) {
				contentPath = filepath.Join(baseDir, contentPath)
			}
			content, err := os.ReadFile(contentPath)
			if err != nil {
				errs.Add(&config.UserError{
					Code:       config.ErrCodeValidationFailed,
					Message:    fmt.Sprintf("%s: cannot read content_file", field),
					Context:    contentPath,
					Underlying: err,
				})
				continue
			}
			spec.Content = string(content)
		}

		if first, dup := seen[spec.ID]; dup && spec.ID != "" {
			errs.AddValidation(field, fmt.Sprintf("duplicate id %q (first used by operations[%d])", spec.ID, first), "Operation ids must be unique within a change set.")
			continue
		}
		seen[spec.ID] = i

		op, err := changeset.NewOperation(spec)
		if err != nil {
			errs.Add(&config.UserError{
				Code:       config.ErrCodeValidationFailed,
				Message:    fmt.Sprintf("%s: %v", field, err),
				Context:    field,
				Suggestion: "Supported kinds are file, command, package and symlink.",
			})
			continue
		}
		ops = append(ops, op)
	}

	if errs.HasErrors() {
		return nil, errs
	}

	cs, err := changeset.New(raw.Name, ops...)
	if err != nil {
		return nil, config.NewUserError(config.ErrCodeValidationFailed, err.Error()).WithContext(source)
	}
	return cs, nil
}
