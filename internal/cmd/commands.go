package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sightlinehq/sightline/internal/commands"
)

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the command vocabulary the agent understands",
	RunE:  runCommands,
}

func init() {
	rootCmd.AddCommand(commandsCmd)
}

func runCommands(cmd *cobra.Command, args []string) error {
	registry := commands.NewRegistry()
	if cfg.Agent.CommandsFile != "" {
		specs, err := commands.LoadSpecs(cfg.Agent.CommandsFile)
		if err != nil {
			return fmt.Errorf("load command vocabulary: %w", err)
		}
		registry.Replace(specs)
	}

	specs := registry.Specs()
	for _, category := range registry.Categories() {
		fmt.Printf("%s:\n", category)
		for _, spec := range specs {
			if spec.Category != category {
				continue
			}
			syntax := spec.Syntax
			if len(spec.Aliases) > 0 {
				syntax += " (" + strings.Join(spec.Aliases, ", ") + ")"
			}
			fmt.Printf("  %-28s %s\n", syntax, spec.Description)
		}
		fmt.Println()
	}
	return nil
}
