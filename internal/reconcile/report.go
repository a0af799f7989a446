package reconcile

import "time"

// ZoneFault describes one zone whose desired members are split across
// more than one server group. GroupClients maps each offending group ID
// to the zone members observed inside it.
type ZoneFault struct {
	ZoneIndex    int                 `json:"zone_index"`
	ZoneName     string              `json:"zone_name"`
	GroupClients map[string][]string `json:"group_clients"`
}

// GroupCount returns how many distinct groups host the zone's members.
func (f ZoneFault) GroupCount() int {
	return len(f.GroupClients)
}

// ValidationReport is the outcome of one read-only cohesion check.
type ValidationReport struct {
	CheckedAt  time.Time   `json:"checked_at"`
	ZoneCount  int         `json:"zone_count"`
	Faults     []ZoneFault `json:"faults,omitempty"`
	Unassigned []string    `json:"unassigned,omitempty"`
}

// Healthy reports whether every zone's members share one group.
func (r ValidationReport) Healthy() bool {
	return len(r.Faults) == 0
}

// ZoneRepair records the correction applied to one faulted zone.
type ZoneRepair struct {
	ZoneIndex   int      `json:"zone_index"`
	TargetGroup string   `json:"target_group"`
	Moved       []string `json:"moved"`
	Failed      []string `json:"failed,omitempty"`
	Err         error    `json:"-"`
}

// Repaired reports whether every required move succeeded.
func (r ZoneRepair) Repaired() bool {
	return len(r.Failed) == 0 && r.Err == nil
}

// absorb folds a follow-up repair of the same zone into r. Moved
// accumulates across attempts; Failed and Err reflect the latest one.
func (r *ZoneRepair) absorb(next ZoneRepair) {
	r.TargetGroup = next.TargetGroup
	r.Moved = append(r.Moved, next.Moved...)
	r.Failed = next.Failed
	r.Err = next.Err
}

// Report is the outcome of one full reconcile pass.
type Report struct {
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	ZoneCount  int          `json:"zone_count"`
	Faulted    int          `json:"faulted"`
	Repairs    []ZoneRepair `json:"repairs,omitempty"`
}

// Moves returns the number of distinct clients moved during the pass.
func (r Report) Moves() int {
	total := 0
	for _, repair := range r.Repairs {
		total += len(repair.Moved)
	}
	return total
}

// Converged reports whether the pass left every zone cohesive.
func (r Report) Converged() bool {
	for _, repair := range r.Repairs {
		if !repair.Repaired() {
			return false
		}
	}
	return true
}

// Status is the engine's externally visible health summary, served by
// the system API and pushed to metrics.
type Status struct {
	Running             bool      `json:"running"`
	LastRunAt           time.Time `json:"last_run_at,omitempty"`
	LastRunConverged    bool      `json:"last_run_converged"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalRuns           uint64    `json:"total_runs"`
	TotalMoves          uint64    `json:"total_moves"`
}
