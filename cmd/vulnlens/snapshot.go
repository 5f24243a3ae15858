// ABOUTME: Snapshot command dumping registry contents to a file.
// ABOUTME: The file can be served later through the local registry backend.

package main

import (
	"errors"
	"fmt"

	"github.com/jfeddern/VulnLens/internal/providers/local"
	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func newSnapshotCmd(c *cli) *cobra.Command {
	var (
		output   string
		projects []string
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write projects, repositories and scanned artifacts to a snapshot file",
		Example: `  vulnlens snapshot --output harbor.json
  VULNLENS_REGISTRY=local SNAPSHOT_FILE=harbor.json vulnlens report`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			aggregator, err := c.newAggregator(ctx, nil)
			if err != nil {
				return err
			}

			all, err := aggregator.ListProjects(ctx)
			if err != nil {
				return fmt.Errorf("listing projects: %w", err)
			}
			selected := all
			if len(projects) > 0 {
				selected = lo.Filter(all, func(p types.Project, _ int) bool {
					return lo.Contains(projects, p.Name)
				})
			}
			if len(selected) == 0 {
				return errors.New("no projects to snapshot")
			}
			names := lo.Map(selected, func(p types.Project, _ int) string { return p.Name })

			repos, err := aggregator.ListRepositories(ctx, names, false)
			if err != nil {
				return fmt.Errorf("listing repositories: %w", err)
			}
			infos, err := aggregator.GetVulnerabilityReports(ctx, aggregator.Config().ReportOptions(names, nil, false))
			if err != nil {
				return fmt.Errorf("fetching vulnerability reports: %w", err)
			}

			var users []types.User
			for _, project := range selected {
				owner, err := aggregator.GetProjectOwner(ctx, project.Name)
				if err != nil {
					c.logger.WithError(err).WithField("project", project.Name).Warn("Failed to look up project owner")
					continue
				}
				if owner != nil {
					users = append(users, *owner)
				}
			}
			users = lo.UniqBy(users, func(u types.User) int64 { return u.UserID })

			snapshot := local.Snapshot{
				Projects:     selected,
				Users:        users,
				Repositories: repos,
				Artifacts:    infos,
			}
			if err := local.WriteSnapshot(output, snapshot); err != nil {
				return fmt.Errorf("writing snapshot: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d projects, %d repositories and %d artifacts to %s\n",
				len(selected), len(repos), len(infos), output)
			return nil
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Snapshot file to write")
	cmd.Flags().StringSliceVarP(&projects, "project", "p", nil, "Project to include, repeatable (default all projects)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
