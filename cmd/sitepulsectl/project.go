package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"sitepulse/internal/db"
)

func newProjectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create, list and delete tracked projects",
	}
	cmd.AddCommand(
		newProjectCreateCmd(a),
		newProjectListCmd(a),
		newProjectDeleteCmd(a),
	)
	return cmd
}

func newProjectCreateCmd(a *app) *cobra.Command {
	var (
		owner     string
		retention int
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a project and print its tracking id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := a.database()
			if err != nil {
				return err
			}
			u, err := ownerByName(cmd, gdb, owner)
			if err != nil {
				return err
			}
			p, err := db.CreateProject(cmd.Context(), gdb, u.ID, args[0], retention)
			if err != nil {
				return fmt.Errorf("create project: %w", err)
			}
			cmd.Printf("Created project %d (%s)\n", p.ID, p.Name)
			cmd.Printf("Tracking id: %s\n", p.TrackingID)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", a.cfg.AdminUser, "username that owns the project")
	cmd.Flags().IntVar(&retention, "retention", 0, "days to keep events (0 uses the server default)")
	return cmd
}

func newProjectListCmd(a *app) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gdb, err := a.database()
			if err != nil {
				return err
			}
			var ownerID uint
			if owner != "" {
				u, err := ownerByName(cmd, gdb, owner)
				if err != nil {
					return err
				}
				ownerID = u.ID
			}
			projects, err := db.ListProjects(cmd.Context(), gdb, ownerID)
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}
			if len(projects) == 0 {
				cmd.Println("No projects.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTRACKING ID\tOWNER\tRETENTION")
			for _, p := range projects {
				retention := "default"
				if p.RetentionDays > 0 {
					retention = strconv.Itoa(p.RetentionDays) + "d"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.TrackingID, p.Owner.Username, retention)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only list projects owned by this user")
	return cmd
}

func newProjectDeleteCmd(a *app) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a project owned by --owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid project id %q", args[0])
			}
			gdb, err := a.database()
			if err != nil {
				return err
			}
			u, err := ownerByName(cmd, gdb, owner)
			if err != nil {
				return err
			}
			err = db.DeleteProject(cmd.Context(), gdb, uint(id), u.ID)
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				return fmt.Errorf("project %d not found", id)
			case errors.Is(err, db.ErrNotOwner):
				return fmt.Errorf("project %d is not owned by %s", id, owner)
			case err != nil:
				return fmt.Errorf("delete project: %w", err)
			}
			cmd.Printf("Deleted project %d\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", a.cfg.AdminUser, "username that owns the project")
	return cmd
}

func ownerByName(cmd *cobra.Command, gdb *gorm.DB, username string) (*db.User, error) {
	u, err := db.UserByUsername(cmd.Context(), gdb, username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %q not found", username)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}
