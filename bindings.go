package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/callummance/nia-roles/db"
	"github.com/callummance/nia-roles/guildmodels"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const storageTimeout = 30 * time.Second

func bindingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bindings",
		Short: "Inspect and seed the stored reaction role bindings",
		Long: `Work directly on binding storage. These commands do not talk to discord, so
they should not be used while the bot is running against the same storage.`,
	}
	cmd.AddCommand(bindingsListCmd(), bindingsImportCmd())
	return cmd
}

func bindingsListCmd() *cobra.Command {
	var output, guildID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print stored bindings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bindings, err := loadStoredBindings(cmd.Context())
			if err != nil {
				return err
			}
			if guildID != "" {
				filtered := bindings[:0]
				for _, b := range bindings {
					if b.GuildID == guildID {
						filtered = append(filtered, b)
					}
				}
				bindings = filtered
			}
			return writeBindings(cmd.OutOrStdout(), output, bindings)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json, yaml)")
	cmd.Flags().StringVar(&guildID, "guild", "", "only show bindings in this guild")
	return cmd
}

func bindingsImportCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load bindings from a json or yaml file into storage",
		Long: `Reads a list of bindings and writes them to storage. Imported bindings are
merged over the stored table by message and emoji unless --replace is given.
Legacy single-role and toggle fields are accepted and converted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			imported, err := readBindingsFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), storageTimeout)
			defer cancel()
			store, err := db.Open(ctx, cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			var existing []guildmodels.RoleBinding
			if !replace {
				existing, err = store.LoadAll(ctx)
				if err != nil {
					return fmt.Errorf("failed to load existing bindings: %w", err)
				}
			}
			merged := mergeBindings(existing, imported)
			if err := store.SaveAll(ctx, merged); err != nil {
				return fmt.Errorf("failed to save bindings: %w", err)
			}
			logrus.Infof("Imported %d bindings into %v, %d stored in total", len(imported), store, len(merged))
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "discard stored bindings instead of merging")
	return cmd
}

func loadStoredBindings(ctx context.Context) ([]guildmodels.RoleBinding, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, storageTimeout)
	defer cancel()
	store, err := db.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.LoadAll(ctx)
}

//readBindingsFile parses a binding list, choosing the format from the file extension
func readBindingsFile(path string) ([]guildmodels.RoleBinding, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeBindings(filepath.Ext(path), raw)
}

func decodeBindings(ext string, raw []byte) ([]guildmodels.RoleBinding, error) {
	var bindings []guildmodels.RoleBinding
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		//yaml.v3 ignores json tags, so go through a generic document and re-encode it
		var doc interface{}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("invalid yaml: %w", err)
		}
		asJSON, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("invalid yaml: %w", err)
		}
		raw = asJSON
	}
	if err := json.Unmarshal(raw, &bindings); err != nil {
		return nil, fmt.Errorf("invalid binding list: %w", err)
	}
	for i := range bindings {
		bindings[i].Normalize()
		if err := bindings[i].Validate(); err != nil {
			return nil, fmt.Errorf("binding %d (%v): %w", i, bindings[i].ID, err)
		}
	}
	return bindings, nil
}

//mergeBindings overlays imported on existing by binding id, keeping the existing order
func mergeBindings(existing, imported []guildmodels.RoleBinding) []guildmodels.RoleBinding {
	index := make(map[string]int, len(existing))
	res := make([]guildmodels.RoleBinding, 0, len(existing)+len(imported))
	for _, b := range existing {
		index[b.ID] = len(res)
		res = append(res, b)
	}
	for _, b := range imported {
		if i, ok := index[b.ID]; ok {
			res[i] = b
			continue
		}
		index[b.ID] = len(res)
		res = append(res, b)
	}
	return res
}

func writeBindings(w io.Writer, format string, bindings []guildmodels.RoleBinding) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(bindings)
	case "yaml":
		//Keep the storage field names rather than yaml.v3's lowercased go names
		asJSON, err := json.Marshal(bindings)
		if err != nil {
			return err
		}
		var doc interface{}
		if err := yaml.Unmarshal(asJSON, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(doc)
	case "table":
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.AppendHeader(table.Row{"Guild", "Channel", "Message", "Emoji", "Type", "Roles", "Winners", "Max", "Requirements"})
		for _, b := range bindings {
			limit := "-"
			if b.MaxGrants > 0 {
				limit = fmt.Sprintf("%d", b.MaxGrants)
			}
			tw.AppendRow(table.Row{b.GuildID, b.ChannelID, b.MessageID, b.EmojiKey, b.Type, strings.Join(b.RoleIDs, ","), len(b.Winners), limit, requirementsLabel(b.Requirements)})
		}
		tw.AppendFooter(table.Row{"", "", "", "", "", "Total", len(bindings)})
		tw.Render()
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func requirementsLabel(r guildmodels.Requirements) string {
	if !r.Any() {
		return "-"
	}
	var labels []string
	if r.Boost {
		labels = append(labels, "boost")
	}
	if r.VerifiedDeveloper {
		labels = append(labels, "developer")
	}
	return strings.Join(labels, ",")
}
