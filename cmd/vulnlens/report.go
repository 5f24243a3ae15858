// ABOUTME: Report and artifact commands printing vulnerability views.
// ABOUTME: Renders tables as text, JSON or YAML for projects, tags or single artifacts.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jfeddern/VulnLens/internal/engine"
	"github.com/jfeddern/VulnLens/internal/providers"
	"github.com/jfeddern/VulnLens/internal/tables"
	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

var errArtifactNotFound = errors.New("artifact not found")

type viewOptions struct {
	format      string
	maxRows     int
	fixableOnly bool
}

func (o *viewOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.format, "format", "o", formatTable, "Output format: table, json or yaml")
	cmd.Flags().IntVar(&o.maxRows, "max-rows", tables.DefaultMaxRows, "Top vulnerabilities listed per image")
	cmd.Flags().BoolVar(&o.fixableOnly, "fixable", false, "Only list vulnerabilities with a known fix")
}

func (o *viewOptions) validate() error {
	switch o.format {
	case formatTable, formatJSON, formatYAML:
	default:
		return fmt.Errorf("unsupported format %q", o.format)
	}
	if o.maxRows < 1 {
		return fmt.Errorf("max rows must be at least 1, got %d", o.maxRows)
	}
	return nil
}

// reportOutput is what the json and yaml formats print.
type reportOutput struct {
	Images      []string `json:"images" yaml:"images"`
	tables.View `yaml:",inline"`
}

func newReportOutput(infos []types.ArtifactInfo, opts viewOptions) reportOutput {
	out := reportOutput{Images: make([]string, 0, len(infos))}
	for _, info := range infos {
		out.Images = append(out.Images, info.Name())
	}
	out.View = tables.ViewOf(infos, opts.maxRows, opts.fixableOnly)
	return out
}

func writeOutput(w io.Writer, out reportOutput, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	default:
		return tables.RenderView(w, out.View)
	}
}

func newReportCmd(c *cli) *cobra.Command {
	var (
		projects []string
		tags     []string
		latest   bool
		deployed bool
		opts     viewOptions
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print an aggregate vulnerability report",
		Long: `Fetches the vulnerability reports of every scanned artifact in the given
projects, or in all projects, and prints statistics and the most critical
findings per image.`,
		Example: `  vulnlens report --project production --latest
  vulnlens report --project staging --tag v1.2.3 --fixable -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			ctx := cmd.Context()

			aggregator, err := c.newAggregator(ctx, nil)
			if err != nil {
				return err
			}

			reportOpts := aggregator.Config().ReportOptions(projects, tags, true)
			infos, err := aggregator.GetVulnerabilityReports(ctx, reportOpts)
			if err != nil {
				return fmt.Errorf("fetching vulnerability reports: %w", err)
			}
			if latest {
				infos = engine.FilterLatest(infos, nil)
			}
			if deployed {
				discoverer, err := providers.CreateImageDiscoverer(c.cfg.ProviderConfig(), c.logger)
				if err != nil {
					return fmt.Errorf("failed to create image discoverer: %w", err)
				}
				images, err := discoverer.DiscoverImages(ctx)
				if err != nil {
					return fmt.Errorf("discovering images: %w", err)
				}
				infos = engine.FilterDeployed(infos, images)
			}

			return writeOutput(cmd.OutOrStdout(), newReportOutput(infos, opts), opts.format)
		},
	}

	cmd.Flags().StringSliceVarP(&projects, "project", "p", nil, "Project to include, repeatable (default all projects)")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Only include artifacts with one of these tags, repeatable")
	cmd.Flags().BoolVar(&latest, "latest", false, "Keep only the most recently pushed artifact per repository")
	cmd.Flags().BoolVar(&deployed, "deployed", false, "Keep only artifacts running in the cluster (see DISCOVERY_MODE)")
	opts.register(cmd)
	return cmd
}

func newArtifactCmd(c *cli) *cobra.Command {
	var (
		project string
		repo    string
		tag     string
		digest  string
		opts    viewOptions
	)

	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Print the vulnerability report of one artifact",
		Example: `  vulnlens artifact --project production --repo web-frontend --tag v1.2.3
  vulnlens artifact --project production --repo web-frontend --digest sha256:...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			ctx := cmd.Context()

			aggregator, err := c.newAggregator(ctx, nil)
			if err != nil {
				return err
			}

			info, err := aggregator.GetArtifactByDigestOrTag(ctx, project, repo, tag, digest)
			if err != nil {
				return err
			}
			if info == nil {
				return fmt.Errorf("%w: %s/%s", errArtifactNotFound, project, repo)
			}

			return writeOutput(cmd.OutOrStdout(), newReportOutput([]types.ArtifactInfo{*info}, opts), opts.format)
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "Project of the artifact")
	cmd.Flags().StringVarP(&repo, "repo", "r", "", "Repository of the artifact, without the project")
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Tag of the artifact")
	cmd.Flags().StringVar(&digest, "digest", "", "Digest of the artifact, used when no tag is given")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("repo")
	cmd.MarkFlagsOneRequired("tag", "digest")
	opts.register(cmd)
	return cmd
}
