package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/rollgate/internal/adapters/changesetfile"
	"github.com/felixgeelhaar/rollgate/internal/adapters/inventory"
	"github.com/felixgeelhaar/rollgate/internal/config"
	"github.com/felixgeelhaar/rollgate/internal/domain/changeset"
	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
	"github.com/felixgeelhaar/rollgate/internal/domain/fleet/targeting"
	"github.com/felixgeelhaar/rollgate/internal/domain/rollout"
)

// planFile is what `plan` leaves behind for `apply`: the dry-run report and
// the inputs needed to rebuild the same change set and target subset.
type planFile struct {
	ChangeSetPath string          `yaml:"changeset_path"`
	InventoryPath string          `yaml:"inventory_path"`
	Selector      string          `yaml:"selector"`
	Report        *rollout.Report `yaml:"report"`
}

func planPath(dir, id string) string {
	return filepath.Join(dir, id+".yaml")
}

func savePlan(dir string, plan planFile) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := yaml.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	path := planPath(dir, plan.Report.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func loadPlan(dir, id string) (planFile, error) {
	path := planPath(dir, id)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return planFile{}, config.NewUserError(config.ErrCodeReportNotFound, fmt.Sprintf("report %s not found", id)).
			WithContext(path).
			WithSuggestion("Run `rollgate plan` first, or pass --state-dir pointing at the directory used for the plan.")
	}
	if err != nil {
		return planFile{}, fmt.Errorf("failed to read report: %w", err)
	}
	var plan planFile
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return planFile{}, config.NewParseError(config.ErrCodeConfigParse, path, err)
	}
	if plan.Report == nil {
		return planFile{}, config.NewUserError(config.ErrCodeReportNotFound, fmt.Sprintf("report %s is empty", id)).WithContext(path)
	}
	return plan, nil
}

// runInputs is a loaded change set plus the selected targets.
type runInputs struct {
	changeSetPath string
	inventoryPath string
	selector      string
	changeSet     *changeset.ChangeSet
	targets       []*fleet.Target
}

func resolveInventoryPath(flagValue, fromSettings string) (string, error) {
	path := flagValue
	if path == "" {
		path = fromSettings
	}
	if path == "" {
		return "", config.NewUserError(config.ErrCodeInventoryNotFound, "no inventory given").
			WithSuggestion("Pass -i/--inventory or set inventory in rollgate.yaml.")
	}
	return filepath.Abs(path)
}

// selectTargets loads the inventory and applies the targeting expression.
func selectTargets(inventoryPath, selector string) ([]*fleet.Target, error) {
	inv, err := inventory.Load(inventoryPath)
	if err != nil {
		return nil, err
	}
	expr, err := targeting.Parse(selector)
	if err != nil {
		return nil, config.NewUserError(config.ErrCodeValidationFailed, "invalid target expression").
			WithContext(selector).
			WithSuggestion("Use @group, tag:name, host patterns and !exclusions, e.g. @web,!tag:canary.").
			WithUnderlying(err)
	}
	targets := expr.Select(inv)
	if len(targets) == 0 {
		return nil, config.NewUserError(config.ErrCodeValidationFailed, "target expression matched no hosts").
			WithContext(selector).
			WithSuggestion("Run `rollgate inventory list` to see the available targets.")
	}
	return targets, nil
}

func loadInputs(changeSetPath, inventoryPath, selector string) (*runInputs, error) {
	csPath, err := filepath.Abs(changeSetPath)
	if err != nil {
		return nil, err
	}
	cs, err := changesetfile.Load(csPath)
	if err != nil {
		return nil, err
	}
	targets, err := selectTargets(inventoryPath, selector)
	if err != nil {
		return nil, err
	}
	return &runInputs{
		changeSetPath: csPath,
		inventoryPath: inventoryPath,
		selector:      selector,
		changeSet:     cs,
		targets:       targets,
	}, nil
}
