package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/operator"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator account commands",
	}

	cmd.AddCommand(newAdminListCmd())
	cmd.AddCommand(newAdminCreateCmd())
	return cmd
}

func newAdminListCmd() *cobra.Command {
	var (
		configPath string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operators",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			admins, err := operator.List(gormDB, all)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(admins) == 0 {
				fmt.Fprintln(out, "No operators.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEXTERNAL ID\tNAME\tSUPERADMIN\tACTIVE")
			for _, a := range admins {
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%t\n", a.ID, a.ExternalID, a.FullName, a.IsSuperadmin, a.IsActive)
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&all, "all", false, "include inactive operators")
	return cmd
}

func newAdminCreateCmd() *cobra.Command {
	var (
		configPath string
		as         string
		in         operator.CreateInput
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an operator",
		Long:  "Creates an active operator. --as must name an existing superadmin, who is recorded in the audit log.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			actor, err := resolveActor(gormDB, as)
			if err != nil {
				return err
			}
			admin, err := operator.Create(gormDB, actor, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created operator %d (%s)\n", admin.ID, admin.FullName)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&as, "as", "", "id of the superadmin performing the action (required)")
	cmd.Flags().StringVar(&in.ExternalID, "external-id", "", "chat platform user id (required)")
	cmd.Flags().StringVar(&in.FullName, "name", "", "display name (required)")
	cmd.Flags().StringVar(&in.Username, "username", "", "chat platform username")
	cmd.Flags().StringVar(&in.Email, "email", "", "email address")
	cmd.Flags().BoolVar(&in.IsSuperadmin, "superadmin", false, "grant superadmin privileges")
	cmd.MarkFlagRequired("as")
	return cmd
}
