package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"nickel_agent/internal/domain"
)

type client struct {
	baseURL string
	http    *http.Client
}

type embeddedOrchestrator struct {
	cmd *exec.Cmd
}

func main() {
	addr := flag.String("addr", "http://localhost:8091", "orchestrator base URL")
	interval := flag.Duration("interval", 3*time.Second, "refresh interval")
	embedded := flag.Bool("embedded", true, "start an orchestrator server for the lifetime of the monitor")
	orchestratorBinary := flag.String("orchestrator-bin", "", "path to orchestrator binary (optional in embedded mode)")
	dbPath := flag.String("db", "data/embedded.db", "sqlite db path for embedded orchestrator")
	dataRoot := flag.String("data", "data", "data root for embedded orchestrator")
	orderQty := flag.Float64("order-qty", 10, "order quantity in tonnes sent with prompts")
	currentStock := flag.Float64("current-stock", 0, "current stock in kg sent with prompts")
	flag.Parse()

	c := &client{
		baseURL: strings.TrimRight(*addr, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	if *embedded {
		proc, err := startEmbeddedOrchestrator(*addr, *orchestratorBinary, *dbPath, *dataRoot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start embedded orchestrator: %v\n", err)
			os.Exit(1)
		}
		defer proc.Stop()
	}

	if err := waitHealth(c, 30*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator health check failed: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	runsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	runsTable.SetTitle("Analyses (Enter inspect, F5 refresh, F10 quit)").SetBorder(true)

	reportView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true)
	reportView.SetTitle("Report").SetBorder(true)

	outputsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	outputsView.SetTitle("Agent Outputs").SetBorder(true)

	decisionsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	decisionsView.SetTitle("Decisions").SetBorder(true)

	promptInput := tview.NewInputField().
		SetLabel("Question -> Orchestrator: ")
	promptInput.SetBorder(true).SetTitle("Enter = run analysis")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf(
		"Connected to %s | embedded=%t | baseline order=%gt stock=%skg | F10 quit, F5 refresh, Ctrl+L prompt, Ctrl+T runs",
		c.baseURL, *embedded, *orderQty, humanize.Comma(int64(*currentStock)),
	))

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(reportView, 0, 3, false).
		AddItem(outputsView, 0, 2, false).
		AddItem(decisionsView, 0, 2, false)

	mainLayout := tview.NewFlex().
		AddItem(runsTable, 0, 1, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(promptInput, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	var selectedRunID string
	var lastRuns []domain.AnalysisRun
	var detailsVersion uint64

	setStatusUI := func(msg string) {
		statusView.SetText(msg)
	}
	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refreshRuns := func() {
		runs, err := c.listRuns()
		if err != nil {
			app.QueueUpdateDraw(func() {
				runsTable.Clear()
				runsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", err)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
			})
			return
		}
		sort.SliceStable(runs, func(i, j int) bool {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		})
		lastRuns = runs
		app.QueueUpdateDraw(func() {
			renderRunsTable(runsTable, runs, selectedRunID)
		})
	}

	refreshDetailsAsync := func(runID string) {
		if strings.TrimSpace(runID) == "" {
			return
		}
		version := atomic.AddUint64(&detailsVersion, 1)

		go func(selected string, v uint64) {
			run, runErr := c.getRun(selected)
			outputs, outErr := c.listOutputs(selected)
			decisions, decErr := c.listDecisions(selected, 200)

			if atomic.LoadUint64(&detailsVersion) != v {
				return
			}
			app.QueueUpdateDraw(func() {
				if selected != selectedRunID {
					return
				}
				if runErr != nil {
					reportView.SetText(fmt.Sprintf("error: %v", runErr))
				} else {
					reportView.SetText(renderReport(run))
				}
				if outErr != nil {
					outputsView.SetText(fmt.Sprintf("error: %v", outErr))
				} else {
					outputsView.SetText(renderOutputs(outputs))
				}
				if decErr != nil {
					decisionsView.SetText(fmt.Sprintf("error: %v", decErr))
				} else {
					decisionsView.SetText(renderDecisions(decisions))
				}
			})
		}(runID, version)
	}

	submitPrompt := func(prompt string) {
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			return
		}
		setStatusUI("Running analysis...")
		promptInput.SetText("")
		go func(question string) {
			state, err := c.createAnalysis(question, domain.Baseline{OrderQty: *orderQty, CurrentStock: *currentStock})
			if err != nil {
				setStatusAsync("Analysis failed: " + err.Error())
				return
			}
			selectedRunID = state.RunID
			refreshRuns()
			refreshDetailsAsync(selectedRunID)
			setStatusAsync(fmt.Sprintf("Analysis %s finished: %s", shortID(state.RunID), state.Conclusion.Level))
		}(prompt)
	}

	promptInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		submitPrompt(promptInput.GetText())
	})

	runsTable.SetSelectedFunc(func(row, _ int) {
		if row <= 0 || row > len(lastRuns) {
			return
		}
		selectedRunID = lastRuns[row-1].ID
		refreshDetailsAsync(selectedRunID)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if app.GetFocus() == promptInput {
			if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyTAB {
				app.SetFocus(runsTable)
				setStatusUI("Focus -> analyses")
				return nil
			}
			return event
		}
		switch event.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlT:
			app.SetFocus(runsTable)
			setStatusUI("Focus -> analyses")
			return nil
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			refreshRuns()
			refreshDetailsAsync(selectedRunID)
			setStatusUI("Manual refresh complete")
			return nil
		case tcell.KeyCtrlL, tcell.KeyTAB:
			app.SetFocus(promptInput)
			setStatusUI("Focus -> prompt")
			return nil
		case tcell.KeyRune:
			app.SetFocus(promptInput)
			return event
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		refreshRuns()
		if len(lastRuns) > 0 {
			selectedRunID = lastRuns[0].ID
			refreshDetailsAsync(selectedRunID)
		}
		for range ticker.C {
			refreshRuns()
			if selectedRunID == "" && len(lastRuns) > 0 {
				selectedRunID = lastRuns[0].ID
			}
			refreshDetailsAsync(selectedRunID)
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(promptInput).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func waitHealth(c *client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := c.http.Get(c.baseURL + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode < 300 {
				return nil
			}
		}
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for /healthz")
}

func startEmbeddedOrchestrator(addr, orchestratorBinary, dbPath, dataRoot string) (*embeddedOrchestrator, error) {
	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	port := parsed.Port()
	if port == "" {
		return nil, fmt.Errorf("addr must include explicit port, got %q", addr)
	}
	args := []string{"serve", "--addr", ":" + port, "--db", dbPath, "--data", dataRoot}

	var cmd *exec.Cmd
	if strings.TrimSpace(orchestratorBinary) != "" {
		cmd = exec.Command(orchestratorBinary, args...)
	} else {
		if self, err := os.Executable(); err == nil {
			for _, name := range []string{"orchestrator", "orchestrator.exe"} {
				sibling := filepath.Join(filepath.Dir(self), name)
				if fileExists(sibling) {
					cmd = exec.Command(sibling, args...)
					break
				}
			}
		}
		if cmd == nil {
			cmd = exec.Command("go", append([]string{"run", "./cmd/orchestrator"}, args...)...)
		}
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start orchestrator process: %w", err)
	}
	return &embeddedOrchestrator{cmd: cmd}, nil
}

func (e *embeddedOrchestrator) Stop() {
	if e == nil || e.cmd == nil || e.cmd.Process == nil {
		return
	}
	_ = e.cmd.Process.Kill()
	_, _ = e.cmd.Process.Wait()
}

func renderRunsTable(table *tview.Table, runs []domain.AnalysisRun, selectedRunID string) {
	table.Clear()
	headers := []string{"Run", "Status", "Conclusion", "Confidence", "Created", "Question"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, r := range runs {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(shortID(r.ID)))
		table.SetCell(row, 1, tview.NewTableCell(string(r.Status)))
		table.SetCell(row, 2, tview.NewTableCell(string(r.ConclusionLevel)).SetTextColor(levelColor(r.ConclusionLevel)))
		table.SetCell(row, 3, tview.NewTableCell(string(r.ConfidenceLevel)))
		table.SetCell(row, 4, tview.NewTableCell(humanize.Time(r.CreatedAt)))
		table.SetCell(row, 5, tview.NewTableCell(trimLine(r.Question, 48)))
		if r.ID == selectedRunID {
			table.Select(row, 0)
		}
	}
}

func levelColor(level domain.ConclusionLevel) tcell.Color {
	switch level {
	case domain.ConclusionCritical:
		return tcell.ColorRed
	case domain.ConclusionWarning:
		return tcell.ColorYellow
	case domain.ConclusionSuccess:
		return tcell.ColorGreen
	default:
		return tcell.ColorWhite
	}
}

var agentOrder = []domain.AgentID{
	domain.AgentInventory, domain.AgentPrice, domain.AgentCustoms,
	domain.AgentLogistics, domain.AgentQuality, domain.AgentFinance,
}

func renderReport(run domain.AnalysisRun) string {
	if len(run.State) == 0 {
		return fmt.Sprintf("Run %s is %s; no report stored.", shortID(run.ID), run.Status)
	}
	var state domain.AnalysisState
	if err := json.Unmarshal(run.State, &state); err != nil {
		return fmt.Sprintf("decode report: %v", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[::b]%s[::-]\n", tview.Escape(state.UserQuestion))
	fmt.Fprintf(&b, "[%s]%s[-]: %s\n\n", levelColor(state.Conclusion.Level).Name(), strings.ToUpper(string(state.Conclusion.Level)), tview.Escape(state.Conclusion.Message))
	for _, id := range agentOrder {
		s, ok := state.AgentSummaries[id]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s %-10s %-8s %s\n", s.Icon, s.Title, s.Status, tview.Escape(s.Summary))
	}
	if len(state.Recommendations) > 0 {
		b.WriteString("\n")
		for _, r := range state.Recommendations {
			b.WriteString(tview.Escape(r) + "\n")
		}
	}
	if len(state.Notices) > 0 {
		b.WriteString("\n")
		for _, n := range state.Notices {
			b.WriteString("• " + tview.Escape(n) + "\n")
		}
	}
	fmt.Fprintf(&b, "\nConfidence: %s (%s)\n", state.Confidence.Level, tview.Escape(state.Confidence.Reason))
	return b.String()
}

func renderOutputs(items []domain.AgentOutputRecord) string {
	if len(items) == 0 {
		return "No agent outputs"
	}
	var b strings.Builder
	for _, o := range items {
		mark := "ok"
		if o.Failed {
			mark = "[red]failed[-]"
		}
		fmt.Fprintf(&b, "#%d %-10s %s\n  %s\n", o.Step, o.AgentID, mark, tview.Escape(trimLine(payloadSummary(o.Output), 160)))
	}
	return b.String()
}

func renderDecisions(items []domain.DecisionLog) string {
	if len(items) == 0 {
		return "No decisions"
	}
	var b strings.Builder
	for _, d := range items {
		fmt.Fprintf(&b, "[%s] %s %s\n  reason: %s\n",
			d.CreatedAt.Format("15:04:05"), d.Actor, d.Action, tview.Escape(trimLine(d.Reason, 100)))
		if detail := payloadSummary(d.Payload); detail != "" {
			b.WriteString("  payload: " + tview.Escape(trimLine(detail, 160)) + "\n")
		}
	}
	return b.String()
}

func payloadSummary(payload []byte) string {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return ""
	}
	var kv map[string]any
	if err := json.Unmarshal(payload, &kv); err != nil {
		return trimmed
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, kv[k]))
	}
	return strings.Join(parts, ", ")
}

func (c *client) createAnalysis(question string, baseline domain.Baseline) (domain.AnalysisState, error) {
	var state domain.AnalysisState
	err := c.postJSON("/analyses", map[string]any{"question": question, "baseline": baseline}, &state)
	return state, err
}

func (c *client) listRuns() ([]domain.AnalysisRun, error) {
	var out []domain.AnalysisRun
	if err := c.getJSON("/analyses", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) getRun(runID string) (domain.AnalysisRun, error) {
	var out domain.AnalysisRun
	err := c.getJSON("/analyses/"+url.PathEscape(runID), &out)
	return out, err
}

func (c *client) listOutputs(runID string) ([]domain.AgentOutputRecord, error) {
	var out []domain.AgentOutputRecord
	if err := c.getJSON("/analyses/"+url.PathEscape(runID)+"/outputs", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listDecisions(runID string, limit int) ([]domain.DecisionLog, error) {
	var out []domain.DecisionLog
	if err := c.getJSON(fmt.Sprintf("/analyses/%s/decisions?limit=%d", url.PathEscape(runID), limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func (c *client) postJSON(path string, in any, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
