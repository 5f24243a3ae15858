// ABOUTME: Table builders for image info, CVSS statistics and top vulnerabilities.
// ABOUTME: Produces presentation-neutral rows and renders them as text tables.

package tables

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jfeddern/VulnLens/internal/report"
	"github.com/jfeddern/VulnLens/internal/types"
	"github.com/olekukonko/tablewriter"
	"github.com/opencontainers/go-digest"
)

const (
	// DefaultDigestLimit is how many hex characters of a digest are shown.
	DefaultDigestLimit = 8
	// DefaultMaxRows bounds the top vulnerabilities listed per image.
	DefaultMaxRows = 5

	timeLayout = "2006-01-02 15:04:05"
	missing    = "-"
)

// Table is a titled grid of cells. Every row has len(Header) cells.
type Table struct {
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Header      []string   `json:"header" yaml:"header"`
	Rows        [][]string `json:"rows" yaml:"rows"`
}

func imageName(info types.ArtifactInfo) string {
	if info.Repository.Name == "" {
		return missing
	}
	return info.Repository.Name
}

// ShortDigest strips the algorithm prefix and cuts the hex part to limit
// characters. A limit of 0 keeps the full value.
func ShortDigest(value string, limit int) string {
	if value == "" {
		return missing
	}
	encoded := value
	if d, err := digest.Parse(value); err == nil {
		encoded = d.Encoded()
	} else if _, after, found := strings.Cut(value, ":"); found {
		encoded = after
	}
	if limit > 0 && len(encoded) > limit {
		encoded = encoded[:limit]
	}
	return encoded
}

func formatDecimal(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}

// ImageInfo lists each image with its push time, tags and short digest.
func ImageInfo(r *report.Report, digestLimit int) Table {
	var rows [][]string
	for _, info := range r.Artifacts() {
		created := missing
		if info.Artifact.PushTime != nil {
			created = info.Artifact.PushTime.Format(timeLayout)
		}
		tags := missing
		if names := info.Artifact.TagNames(); len(names) > 0 {
			tags = strings.Join(names, ", ")
		}
		rows = append(rows, []string{
			imageName(info),
			created,
			tags,
			ShortDigest(info.Artifact.Digest, digestLimit),
		})
	}

	title := "Image"
	if r.IsAggregate() {
		title += "s"
	}
	return Table{
		Title:  title,
		Header: []string{"Image", "Created", "Tags", "Digest"},
		Rows:   rows,
	}
}

// CVEStatistics lists CVSS statistics and severity counts per image.
func CVEStatistics(r *report.Report) Table {
	var rows [][]string
	for _, c := range r.CVSS() {
		dist := c.Artifact.Report.Distribution()
		low := dist[types.SeverityLow]
		medium := dist[types.SeverityMedium]
		high := dist[types.SeverityHigh]
		critical := dist[types.SeverityCritical]

		rows = append(rows, []string{
			imageName(c.Artifact),
			formatDecimal(c.CVSS.Median),
			formatDecimal(c.CVSS.Mean),
			formatDecimal(c.CVSS.Stdev),
			formatDecimal(c.CVSS.Max),
			strconv.Itoa(low),
			strconv.Itoa(medium),
			strconv.Itoa(high),
			strconv.Itoa(critical),
			strconv.Itoa(low + medium + high + critical),
		})
	}

	return Table{
		Title: "Statistics",
		Description: "Median, mean, standard deviation and maximum CVSS score of the vulnerabilities in each image. " +
			"L, M, H and C count vulnerabilities per severity: Low (0.1-3.9), Medium (4.0-6.9), High (7.0-8.9), Critical (9.0-10.0).",
		Header: []string{"Image", "Median CVSS", "Mean CVSS", "CVSS Stdev", "Max CVSS", "L", "M", "H", "C", "# Vulns"},
		Rows:   rows,
	}
}

// TopVulns lists the most severe findings of each image.
func TopVulns(r *report.Report, fixable bool, maxRows int) Table {
	var rows [][]string
	for _, vuln := range r.TopVulns(maxRows, fixable) {
		scanner := vuln.Artifact.Report.Scanner
		id := vuln.Item.ID
		if link := vuln.Item.NVDLink(); link != "" {
			id = fmt.Sprintf("%s (%s)", id, link)
		}
		rows = append(rows, []string{
			imageName(vuln.Artifact),
			orMissing(vuln.Item.Package),
			vuln.Item.Version,
			orMissing(vuln.Item.Description),
			id,
			formatDecimal(vuln.Item.CVSSScore(scanner)),
			vuln.Item.HighestSeverity(scanner).String(),
			vuln.Item.FixVersion,
		})
	}

	title := "Most Critical Vulnerabilities"
	description := "Vulnerabilities with the highest severity and CVSS score per image."
	if fixable {
		title = "Most Critical Fixable Vulnerabilities"
		description += " Only vulnerabilities with a known fix are listed."
	}
	return Table{
		Title:       title,
		Description: description,
		Header:      []string{"Image", "Package", "Version", "Description", "CVSS ID", "CVSS Score", "Severity", "Fixed In"},
		Rows:        rows,
	}
}

func orMissing(value string) string {
	if value == "" {
		return missing
	}
	return value
}

// Render writes the table as aligned text with its title above.
func Render(w io.Writer, table Table) error {
	if _, err := fmt.Fprintf(w, "%s\n", table.Title); err != nil {
		return err
	}
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(table.Header)
	tw.SetAutoWrapText(false)
	tw.SetAutoFormatHeaders(false)
	tw.AppendBulk(table.Rows)
	if table.Description != "" {
		tw.SetCaption(true, table.Description)
	}
	tw.Render()
	_, err := fmt.Fprintln(w)
	return err
}
