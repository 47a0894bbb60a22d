package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"orgsim/internal/domain"
	"orgsim/internal/journal"
	sqlitejournal "orgsim/internal/journal/sqlite"
)

func main() {
	dbPath := flag.String("db", "data/orgsim.db", "sqlite journal path")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	flag.Parse()

	store, err := sqlitejournal.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open journal store: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = store.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate journal store: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()

	deptTable := tview.NewTable().SetBorders(false)
	deptTable.SetTitle("Departments").SetBorder(true)

	severityView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	severityView.SetTitle("Severity").SetBorder(true)

	eventsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	eventsView.SetTitle("Recent Events").SetBorder(true)

	alertsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	alertsView.SetTitle("Warnings & Errors").SetBorder(true)

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf("Journal %s | waiting for first refresh | F5 refresh, F10 quit", *dbPath))

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(deptTable, 0, 2, false).
		AddItem(severityView, 9, 0, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(eventsView, 0, 3, false).
		AddItem(alertsView, 0, 2, false)
	mainLayout := tview.NewFlex().
		AddItem(left, 0, 1, false).
		AddItem(right, 0, 3, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(statusView, 3, 0, false)

	refresh := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		recent, err := store.ListRecent(ctx, 200)
		if err != nil {
			app.QueueUpdateDraw(func() {
				statusView.SetText(fmt.Sprintf("refresh failed: %v", err))
			})
			return
		}
		deptCounts, err := store.CountByDepartment(ctx)
		if err != nil {
			app.QueueUpdateDraw(func() {
				statusView.SetText(fmt.Sprintf("refresh failed: %v", err))
			})
			return
		}
		severityCounts, err := store.CountBySeverity(ctx)
		if err != nil {
			app.QueueUpdateDraw(func() {
				statusView.SetText(fmt.Sprintf("refresh failed: %v", err))
			})
			return
		}
		alerts, err := collectAlerts(ctx, store, 40)
		if err != nil {
			app.QueueUpdateDraw(func() {
				statusView.SetText(fmt.Sprintf("refresh failed: %v", err))
			})
			return
		}

		total := 0
		for _, n := range severityCounts {
			total += n
		}
		app.QueueUpdateDraw(func() {
			renderDepartments(deptTable, deptCounts)
			severityView.SetText(renderSeverities(severityCounts))
			eventsView.SetText(renderEvents(recent))
			alertsView.SetText(renderAlerts(alerts))
			statusView.SetText(fmt.Sprintf(
				"Journal %s | %d events | refreshed %s | F5 refresh, F10 quit",
				*dbPath, total, time.Now().Format("15:04:05"),
			))
		})
	}

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go refresh()
			return nil
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		refresh()
		for range ticker.C {
			refresh()
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

// collectAlerts merges the attention-worthy severities into one list,
// newest first.
func collectAlerts(ctx context.Context, store *sqlitejournal.Store, limit int) ([]journal.Event, error) {
	severities := []journal.Severity{
		journal.SeverityWarning,
		journal.SeverityError,
		journal.SeverityCritical,
	}
	var merged []journal.Event
	for _, sev := range severities {
		events, err := store.ListBySeverity(ctx, sev, limit)
		if err != nil {
			return nil, err
		}
		merged = append(merged, events...)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].ID > merged[j].ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func renderDepartments(table *tview.Table, counts map[domain.Department]int) {
	table.Clear()
	table.SetCell(0, 0, tview.NewTableCell("Department").SetSelectable(false).SetAttributes(tcell.AttrBold))
	table.SetCell(0, 1, tview.NewTableCell("Events").SetSelectable(false).SetAttributes(tcell.AttrBold))
	for i, dept := range domain.Departments() {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(string(dept)))
		table.SetCell(row, 1, tview.NewTableCell(strconv.Itoa(counts[dept])).SetAlign(tview.AlignRight))
	}
}

func renderSeverities(counts map[journal.Severity]int) string {
	order := []journal.Severity{
		journal.SeverityDebug,
		journal.SeverityInfo,
		journal.SeverityWarning,
		journal.SeverityError,
		journal.SeverityCritical,
	}
	var b strings.Builder
	for _, sev := range order {
		b.WriteString(fmt.Sprintf("[%s]%-8s[-] %d\n", severityColor(sev), sev, counts[sev]))
	}
	return b.String()
}

func renderEvents(events []journal.Event) string {
	if len(events) == 0 {
		return "No events yet"
	}
	var b strings.Builder
	for _, ev := range events {
		dept := string(ev.Department)
		if dept == "" {
			dept = "company"
		}
		b.WriteString(fmt.Sprintf(
			"[gray]%s[-] [%s]%-8s[-] step=%-4d %-12s %-22s %s\n",
			ev.Time.Format("15:04:05"),
			severityColor(ev.Severity),
			ev.Severity,
			ev.Step,
			dept,
			ev.Kind,
			trimLine(ev.Message, 88),
		))
	}
	return b.String()
}

func renderAlerts(events []journal.Event) string {
	if len(events) == 0 {
		return "No warnings or errors"
	}
	var b strings.Builder
	for _, ev := range events {
		b.WriteString(fmt.Sprintf(
			"[gray]%s[-] [%s]%-8s[-] %s %s\n",
			ev.Time.Format("15:04:05"),
			severityColor(ev.Severity),
			ev.Severity,
			ev.Kind,
			trimLine(ev.Message, 96),
		))
		if ev.Actor != "" {
			b.WriteString("  actor: " + ev.Actor + "\n")
		}
		if detail := detailSummary(ev.Detail); detail != "" {
			b.WriteString("  " + trimLine(detail, 120) + "\n")
		}
	}
	return b.String()
}

func severityColor(sev journal.Severity) string {
	switch sev {
	case journal.SeverityDebug:
		return "gray"
	case journal.SeverityWarning:
		return "yellow"
	case journal.SeverityError:
		return "red"
	case journal.SeverityCritical:
		return "fuchsia"
	default:
		return "white"
	}
}

func detailSummary(detail map[string]string) string {
	if len(detail) == 0 {
		return ""
	}
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, detail[k]))
	}
	return strings.Join(parts, ", ")
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
