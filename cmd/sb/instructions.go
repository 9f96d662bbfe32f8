package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/instructions"
)

func newInstructionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instructions",
		Short: "Show or replace the AI system prompt",
	}

	cmd.AddCommand(newInstructionsShowCmd())
	cmd.AddCommand(newInstructionsSetCmd())
	return cmd
}

func newInstructionsShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the active instructions",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			ins, err := instructions.Current(gormDB)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ins == nil {
				fmt.Fprintln(out, "(default)")
				fmt.Fprintln(out, instructions.DefaultText)
				return nil
			}
			fmt.Fprintf(out, "Version %d, updated %s\n", ins.ID, ins.UpdatedAt.Format("2006-01-02 15:04"))
			fmt.Fprintln(out, ins.Text)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newInstructionsSetCmd() *cobra.Command {
	var (
		configPath string
		file       string
		as         string
	)

	cmd := &cobra.Command{
		Use:   "set [text]",
		Short: "Replace the active instructions",
		Long:  "Stores a new active version from the argument or from --file. Older versions are kept.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			switch {
			case file != "" && len(args) > 0:
				return fmt.Errorf("pass either text or --file, not both")
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
				text = string(data)
			case len(args) == 1:
				text = args[0]
			default:
				return fmt.Errorf("instructions text is required")
			}

			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			actor, err := resolveActor(gormDB, as)
			if err != nil {
				return err
			}
			if actor != nil && !actor.IsSuperadmin {
				return fmt.Errorf("operator %d is not a superadmin", actor.ID)
			}
			ins, err := instructions.Update(gormDB, actor, strings.TrimSpace(text))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored instructions version %d\n", ins.ID)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the instructions from a file")
	cmd.Flags().StringVar(&as, "as", "", "id of the superadmin recorded in the audit log")
	return cmd
}
