package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/rollgate/internal/adapters/inventory"
	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
)

var (
	inventoryFile    string
	inventorySelect  string
	inventoryJSONOut bool
)

var inventoryCmd = &cobra.Command{
	Use:   "inventory",
	Short: "Inspect the target inventory",
	Long: `Inventory commands show the hosts and groups rollgate can target.

Inventories are YAML or Ansible-style INI files. Use targeting syntax to
select hosts:
  @all              - All hosts
  @groupname        - Hosts in a group
  tag:tagname       - Hosts with a tag
  host-*            - Glob pattern matching
  !pattern          - Exclude matching hosts

Examples:
  rollgate inventory list -i hosts.ini
  rollgate inventory list -i inventory.yaml -t "@ai_worker,!tag:canary"
  rollgate inventory groups -i hosts.ini`,
}

var inventoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List targets in the inventory",
	RunE:  runInventoryList,
}

var inventoryGroupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List groups in the inventory",
	RunE:  runInventoryGroups,
}

func init() {
	rootCmd.AddCommand(inventoryCmd)
	inventoryCmd.AddCommand(inventoryListCmd)
	inventoryCmd.AddCommand(inventoryGroupsCmd)

	inventoryCmd.PersistentFlags().StringVarP(&inventoryFile, "inventory", "i", "", "inventory file (YAML or INI)")
	inventoryCmd.PersistentFlags().BoolVar(&inventoryJSONOut, "json", false, "output as JSON")
	inventoryListCmd.Flags().StringVarP(&inventorySelect, "targets", "t", "@all", "target expression")
}

func inventoryPathFromFlags(cmd *cobra.Command) (string, error) {
	settings, err := loadSettings(cmd)
	if err != nil {
		return "", err
	}
	return resolveInventoryPath(inventoryFile, settings.Inventory)
}

func runInventoryList(cmd *cobra.Command, _ []string) error {
	path, err := inventoryPathFromFlags(cmd)
	if err != nil {
		return err
	}
	targets, err := selectTargets(path, inventorySelect)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if inventoryJSONOut {
		summaries := make([]fleet.TargetSummary, len(targets))
		for i, t := range targets {
			summaries[i] = t.Summary()
		}
		return writeJSON(out, summaries)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	//nolint:errcheck // Tabwriter errors are captured by Flush
	fmt.Fprintln(w, "TARGET\tADDRESS\tTRANSPORT\tTAGS\tGROUPS")
	for _, t := range targets {
		s := t.Summary()
		address := s.Hostname
		if s.Transport != fleet.TransportLocal {
			address = fmt.Sprintf("%s@%s:%d", s.User, s.Hostname, s.Port)
		}
		//nolint:errcheck // Tabwriter errors are captured by Flush
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, address, s.Transport, dash(s.Tags), dash(s.Groups))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "\n%d targets\n", len(targets))
	return err
}

func runInventoryGroups(cmd *cobra.Command, _ []string) error {
	path, err := inventoryPathFromFlags(cmd)
	if err != nil {
		return err
	}
	inv, err := inventory.Load(path)
	if err != nil {
		return err
	}

	type groupRow struct {
		fleet.GroupSummary
		Targets int `json:"targets"`
	}
	groups := inv.AllGroups()
	rows := make([]groupRow, len(groups))
	for i, g := range groups {
		rows[i] = groupRow{GroupSummary: g.Summary(), Targets: len(inv.TargetsByGroup(g.Name()))}
	}

	out := cmd.OutOrStdout()
	if inventoryJSONOut {
		return writeJSON(out, rows)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	//nolint:errcheck // Tabwriter errors are captured by Flush
	fmt.Fprintln(w, "GROUP\tTARGETS\tCHILDREN\tDESCRIPTION")
	for _, row := range rows {
		//nolint:errcheck // Tabwriter errors are captured by Flush
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", row.Name, row.Targets, dash(row.Children), row.Description)
	}
	return w.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ",")
}
