// Package inventory loads target inventories from YAML files and
// Ansible-style INI files.
package inventory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/rollgate/internal/config"
	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
)

// Format is an inventory file format.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatINI  Format = "ini"
)

// FormatFor picks the format from the file extension. Files without an
// extension, such as Ansible's conventional "hosts", are read as INI.
func FormatFor(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".ini", ".cfg", "":
		return FormatINI, true
	default:
		return "", false
	}
}

// Load reads the inventory at path.
func Load(path string) (*fleet.Inventory, error) {
	format, ok := FormatFor(path)
	if !ok {
		return nil, config.NewUnsupportedFormatError(path, []string{".yaml", ".yml", ".ini", ".cfg"})
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, config.NewFileNotFoundError(config.ErrCodeInventoryNotFound, "inventory", path).
				WithSuggestion("Pass the inventory with --inventory or set inventory in rollgate.yaml.")
		}
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	return Parse(format, data, path)
}

// Parse decodes inventory data. source names the input in errors.
func Parse(format Format, data []byte, source string) (*fleet.Inventory, error) {
	var (
		inv *fleet.Inventory
		err error
	)
	switch format {
	case FormatYAML:
		inv, err = parseYAML(data)
	case FormatINI:
		inv, err = parseINI(data)
	default:
		return nil, config.NewUserError(config.ErrCodeUnsupportedFormat, fmt.Sprintf("unknown inventory format %q", format)).
			WithContext(source)
	}
	var syntax syntaxError
	if errors.As(err, &syntax) {
		return nil, config.NewParseError(config.ErrCodeInventoryParse, source, syntax.err)
	}
	if err != nil {
		return nil, &config.UserError{
			Code:       config.ErrCodeInventoryInvalid,
			Message:    "invalid inventory",
			Context:    source,
			Suggestion: "Check host names, group names and connection variables.",
			Underlying: err,
		}
	}
	return inv, nil
}

type syntaxError struct{ err error }

func (e syntaxError) Error() string { return e.err.Error() }
func (e syntaxError) Unwrap() error { return e.err }
