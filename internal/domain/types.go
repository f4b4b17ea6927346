package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type AgentID string

const (
	AgentPlan      AgentID = "plan"
	AgentPrice     AgentID = "price"
	AgentCustoms   AgentID = "customs"
	AgentLogistics AgentID = "logistics"
	AgentQuality   AgentID = "quality"
	AgentFinance   AgentID = "finance"
	AgentInventory AgentID = "inventory"
)

type SummaryStatus string

const (
	SummaryStatusSuccess SummaryStatus = "success"
	SummaryStatusError   SummaryStatus = "error"
	SummaryStatusPending SummaryStatus = "pending"
	SummaryStatusSkipped SummaryStatus = "skipped"
)

type ConclusionLevel string

const (
	ConclusionCritical ConclusionLevel = "critical"
	ConclusionWarning  ConclusionLevel = "warning"
	ConclusionInfo     ConclusionLevel = "info"
	ConclusionSuccess  ConclusionLevel = "success"
)

type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// Inventory risk levels and price trends shared between skill agents and the
// report synthesizer.
const (
	RiskWarning = "warning"
	RiskSafe    = "safe"

	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

const ErrorKey = "error"

// Result is the flat key/value payload a skill agent returns. A failed agent
// returns a Result holding an "error" key.
type Result map[string]any

func ErrorResult(format string, args ...any) Result {
	return Result{ErrorKey: fmt.Sprintf(format, args...)}
}

// ErrorMessage returns the error description, or "" when the result is a
// success.
func (r Result) ErrorMessage() string {
	if r == nil {
		return ""
	}
	v, ok := r[ErrorKey]
	if !ok || v == nil {
		return ""
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" || s == "false" {
		return ""
	}
	return s
}

func (r Result) HasError() bool {
	return r.ErrorMessage() != ""
}

func (r Result) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (r Result) Float(key string) (float64, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Clone copies r deeply through nested maps and slices, so an agent holding
// the copy cannot reach another agent's output.
func (r Result) Clone() Result {
	if r == nil {
		return nil
	}
	out := make(Result, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Result:
		return t.Clone()
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case map[string]float64:
		if t == nil {
			return t
		}
		out := make(map[string]float64, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	case map[string]string:
		if t == nil {
			return t
		}
		out := make(map[string]string, len(t))
		for k, e := range t {
			out[k] = e
		}
		return out
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		if t == nil {
			return t
		}
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i], _ = cloneValue(e).(map[string]any)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	case []int:
		return append([]int(nil), t...)
	default:
		return v
	}
}

// Baseline holds the planning inputs captured before an analysis starts.
type Baseline struct {
	OrderQty      float64 `json:"order_qty" toml:"order_qty"`
	CurrentStock  float64 `json:"current_stock" toml:"current_stock"`
	WeeklyUsage   float64 `json:"weekly_usage,omitempty" toml:"weekly_usage"`
	SafetyStock   float64 `json:"safety_stock,omitempty" toml:"safety_stock"`
	LeadTimeDays  int     `json:"lead_time,omitempty" toml:"lead_time"`
	PlanningWeeks int     `json:"planning_weeks,omitempty" toml:"planning_weeks"`
	PONumber      string  `json:"po_number,omitempty" toml:"po_number"`
	Supplier      string  `json:"supplier,omitempty" toml:"supplier"`
	OriginCountry string  `json:"origin_country,omitempty" toml:"origin_country"`
}

// HasReorderInputs reports whether the baseline carries enough to compute a
// reorder point without falling back to the ledger.
func (b Baseline) HasReorderInputs() bool {
	return b.WeeklyUsage > 0 && b.LeadTimeDays > 0
}

type Conclusion struct {
	Level   ConclusionLevel `json:"level"`
	Message string          `json:"message"`
}

type Confidence struct {
	Level         ConfidenceLevel `json:"level"`
	Reason        string          `json:"reason"`
	ExecutedCount int             `json:"executed_count"`
	TotalCount    int             `json:"total_count"`
}

type AgentSummary struct {
	Icon    string        `json:"icon"`
	Title   string        `json:"title"`
	Summary string        `json:"summary"`
	Status  SummaryStatus `json:"status"`
	Details Result        `json:"details,omitempty"`
}

type AnalysisState struct {
	RunID           string                   `json:"run_id"`
	UserQuestion    string                   `json:"user_question"`
	Baseline        Baseline                 `json:"baseline_parameters"`
	ExecutedAgents  []AgentID                `json:"executed_agents"`
	PendingAgents   []AgentID                `json:"pending_agents"`
	AgentOutputs    map[AgentID]Result       `json:"agent_outputs"`
	Conclusion      Conclusion               `json:"conclusion"`
	Recommendations []string                 `json:"recommendations"`
	Confidence      Confidence               `json:"confidence"`
	AgentSummaries  map[AgentID]AgentSummary `json:"agent_summaries"`
	Notices         []string                 `json:"notices,omitempty"`
	StartedAt       time.Time                `json:"started_at"`
	FinishedAt      time.Time                `json:"finished_at"`
}

func NewAnalysisState(runID, question string, baseline Baseline) *AnalysisState {
	return &AnalysisState{
		RunID:           runID,
		UserQuestion:    question,
		Baseline:        baseline,
		ExecutedAgents:  []AgentID{AgentPlan},
		PendingAgents:   []AgentID{},
		AgentOutputs:    map[AgentID]Result{},
		Recommendations: []string{},
		AgentSummaries:  map[AgentID]AgentSummary{},
		StartedAt:       time.Now().UTC(),
	}
}

// Snapshot returns a copy safe to hand to a skill agent: mutating it does not
// touch the live state.
func (s *AnalysisState) Snapshot() AnalysisState {
	cp := *s
	cp.ExecutedAgents = append([]AgentID(nil), s.ExecutedAgents...)
	cp.PendingAgents = append([]AgentID(nil), s.PendingAgents...)
	cp.Recommendations = append([]string(nil), s.Recommendations...)
	cp.Notices = append([]string(nil), s.Notices...)
	cp.AgentOutputs = make(map[AgentID]Result, len(s.AgentOutputs))
	for id, out := range s.AgentOutputs {
		cp.AgentOutputs[id] = out.Clone()
	}
	cp.AgentSummaries = make(map[AgentID]AgentSummary, len(s.AgentSummaries))
	for id, sum := range s.AgentSummaries {
		cp.AgentSummaries[id] = sum
	}
	return cp
}

func (s *AnalysisState) Output(id AgentID) Result {
	if s == nil || s.AgentOutputs == nil {
		return nil
	}
	return s.AgentOutputs[id]
}

func (s *AnalysisState) IsExecuted(id AgentID) bool {
	for _, a := range s.ExecutedAgents {
		if a == id {
			return true
		}
	}
	return false
}

func (s *AnalysisState) IsPending(id AgentID) bool {
	for _, a := range s.PendingAgents {
		if a == id {
			return true
		}
	}
	return false
}

func (s *AnalysisState) RemovePending(id AgentID) {
	out := s.PendingAgents[:0]
	for _, a := range s.PendingAgents {
		if a != id {
			out = append(out, a)
		}
	}
	s.PendingAgents = out
}

// AddPending inserts ids not yet executed or pending and keeps the set sorted.
// It returns the ids actually added.
func (s *AnalysisState) AddPending(ids ...AgentID) []AgentID {
	added := make([]AgentID, 0, len(ids))
	for _, id := range ids {
		if s.IsExecuted(id) || s.IsPending(id) {
			continue
		}
		s.PendingAgents = append(s.PendingAgents, id)
		added = append(added, id)
	}
	SortAgentIDs(s.PendingAgents)
	SortAgentIDs(added)
	return added
}

func SortAgentIDs(ids []AgentID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type AnalysisRun struct {
	ID              string          `json:"id"`
	Question        string          `json:"question"`
	Baseline        Baseline        `json:"baseline"`
	Status          RunStatus       `json:"status"`
	ConclusionLevel ConclusionLevel `json:"conclusion_level,omitempty"`
	ConfidenceLevel ConfidenceLevel `json:"confidence_level,omitempty"`
	State           json.RawMessage `json:"state,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type AgentOutputRecord struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	AgentID   AgentID         `json:"agent_id"`
	Step      int             `json:"step"`
	Failed    bool            `json:"failed"`
	Output    json.RawMessage `json:"output"`
	CreatedAt time.Time       `json:"created_at"`
}

type DecisionLog struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Reason    string          `json:"reason"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type FileOperation string

const (
	FileOperationRead   FileOperation = "read"
	FileOperationWrite  FileOperation = "write"
	FileOperationCreate FileOperation = "create"
)

type FileChangeLog struct {
	ID        int64         `json:"id"`
	Actor     string        `json:"actor"`
	Operation FileOperation `json:"operation"`
	Path      string        `json:"path"`
	Allowed   bool          `json:"allowed"`
	Reason    string        `json:"reason"`
	CreatedAt time.Time     `json:"created_at"`
}

type RunEventKind string

const (
	RunEventPlanned       RunEventKind = "planned"
	RunEventAgentStarted  RunEventKind = "agent_started"
	RunEventAgentFinished RunEventKind = "agent_finished"
	RunEventEnqueued      RunEventKind = "agents_enqueued"
	RunEventCompleted     RunEventKind = "completed"
)

type RunEvent struct {
	RunID   string       `json:"run_id"`
	Kind    RunEventKind `json:"kind"`
	Agents  []AgentID    `json:"agents,omitempty"`
	Message string       `json:"message"`
	At      time.Time    `json:"at"`
}

type PermissionEffect string

const (
	PermissionEffectAllow PermissionEffect = "allow"
	PermissionEffectDeny  PermissionEffect = "deny"
)

// FileRule grants or denies an actor an operation on data-root paths matching
// PathPattern. Actor and Operation accept "*".
type FileRule struct {
	Actor       string           `toml:"actor" json:"actor"`
	Effect      PermissionEffect `toml:"effect" json:"effect"`
	Operation   FileOperation    `toml:"operation" json:"operation"`
	PathPattern string           `toml:"path" json:"path"`
}
