package quality

// Stage is the supplier relationship escalation level.
type Stage int

const (
	StageSafe Stage = iota
	StageCaution
	StageWarning
	StageCritical
)

func StageFor(consecutiveFailures int) Stage {
	switch {
	case consecutiveFailures >= 3:
		return StageCritical
	case consecutiveFailures == 2:
		return StageWarning
	case consecutiveFailures == 1:
		return StageCaution
	default:
		return StageSafe
	}
}

func (s Stage) Status() string {
	switch s {
	case StageCaution:
		return "Caution"
	case StageWarning:
		return "Warning"
	case StageCritical:
		return "Critical"
	default:
		return "Safe"
	}
}

func (s Stage) Action() string {
	switch s {
	case StageCaution:
		return "Send a SCAR (supplier corrective action request)"
	case StageWarning:
		return "Notify an on-site audit and apply the quality penalty"
	case StageCritical:
		return "New Business Hold"
	default:
		return "Continue normal trading"
	}
}

type Risk struct {
	Supplier            string `json:"supplier"`
	Inspections         int    `json:"inspections"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Stage               Stage  `json:"stage"`
	LastLot             string `json:"last_lot,omitempty"`
	LastRemark          string `json:"last_remark,omitempty"`
}
