package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ifc-inspector/inspector/internal/models"
	"github.com/ifc-inspector/inspector/internal/report"
)

var (
	passColor = lipgloss.Color("#10B981")
	failColor = lipgloss.Color("#EF4444")
	mutedText = lipgloss.Color("#8CA1AE")

	cellStyle = lipgloss.NewStyle().Padding(0, 1)
	passStyle = lipgloss.NewStyle().Foreground(passColor).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(failColor).Bold(true)
	noteStyle = lipgloss.NewStyle().Foreground(mutedText)
)

// tableOptions selects which rows are printed and in what order.
type tableOptions struct {
	filter string
	sort   string
	desc   bool
}

func (o tableOptions) build(r *models.Report) (*report.Table, error) {
	t := report.NewTable(r)
	t.SetFilter(o.filter)
	if o.sort != "" {
		key, ok := report.ParseSortKey(o.sort)
		if !ok {
			return nil, fmt.Errorf("unknown sort column %q (want tag, type or pipe_diameter_mm)", o.sort)
		}
		t.SortBy(key)
		if o.desc {
			t.SortBy(key)
		}
	}
	return t, nil
}

// printReport writes the instrument table and a summary line.
func printReport(w io.Writer, r *models.Report, opts tableOptions) error {
	t, err := opts.build(r)
	if err != nil {
		return err
	}
	rows := t.Rows()
	sum := t.Summary()

	if sum.Total == 0 {
		fmt.Fprintln(w, noteStyle.Render("No instruments found."))
		return nil
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style { return cellStyle }).
		Headers("TAG", "TYPE", "DN (mm)", "UPSTREAM", "DOWNSTREAM", "ORIENTATION", "RESULT")
	for _, row := range rows {
		tbl.Row(
			row.Tag,
			row.Type,
			diameter(row.PipeDiameterMM),
			check(row.UpstreamOK),
			check(row.DownstreamOK),
			check(row.OrientationOK),
			verdict(row.Pass),
		)
	}
	fmt.Fprintln(w, tbl.Render())

	fmt.Fprintf(w, "%d instruments, %d shown: %s, %s\n",
		sum.Total, sum.Shown,
		passStyle.Render(fmt.Sprintf("%d passing", sum.Passing)),
		failStyle.Render(fmt.Sprintf("%d failing", sum.Failing)))

	for _, row := range rows {
		for _, s := range row.Suggestions {
			fmt.Fprintf(w, "  %s %s\n", noteStyle.Render(row.Tag+":"), s)
		}
	}
	return nil
}

func diameter(mm *float64) string {
	if mm == nil {
		return "-"
	}
	return strconv.FormatFloat(*mm, 'f', -1, 64)
}

func check(ok bool) string {
	if ok {
		return "ok"
	}
	return "no"
}

func verdict(pass bool) string {
	if pass {
		return passStyle.Render("PASS")
	}
	return failStyle.Render("FAIL")
}
