package model

// SeverityCount is one bar of the severity breakdown.
type SeverityCount struct {
	Severity Severity `json:"severity"`
	Count    int      `json:"count"`
}

// StatusCount is one bar of the status breakdown.
type StatusCount struct {
	Status IssueStatus `json:"status"`
	Count  int         `json:"count"`
}

// DashboardData is the summary shown on the dashboard.
type DashboardData struct {
	SeverityBreakdown []SeverityCount `json:"severity_breakdown"`
	StatusBreakdown   []StatusCount   `json:"status_breakdown"`
	TotalOpen         int             `json:"total_open"`
}

// ComputeDashboard summarizes issues over the fixed severity and status
// orders. Values outside those orders are not counted in the breakdowns.
func ComputeDashboard(issues []Issue) DashboardData {
	bySeverity := make(map[Severity]int, len(Severities))
	byStatus := make(map[IssueStatus]int, len(Statuses))
	for _, is := range issues {
		bySeverity[is.Severity]++
		byStatus[is.Status]++
	}

	d := DashboardData{
		SeverityBreakdown: make([]SeverityCount, 0, len(Severities)),
		StatusBreakdown:   make([]StatusCount, 0, len(Statuses)),
		TotalOpen:         byStatus[StatusOpen],
	}
	for _, s := range Severities {
		d.SeverityBreakdown = append(d.SeverityBreakdown, SeverityCount{Severity: s, Count: bySeverity[s]})
	}
	for _, s := range Statuses {
		d.StatusBreakdown = append(d.StatusBreakdown, StatusCount{Status: s, Count: byStatus[s]})
	}
	return d
}
