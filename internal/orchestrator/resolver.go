package orchestrator

import (
	"adherence-guardian/internal/capability"
)

const lowAdherencePercent = 70.0

// resolveDependencies returns the capability the results so far require, or
// "" when nothing is missing. Rules are checked in order.
func resolveDependencies(s TaskState) capability.Name {
	if r, ok := s.Results[capability.Barrier]; ok && !s.invoked(capability.Planning) {
		if report, ok := barrierReport(r); ok && report.RequiresScheduleChange {
			return capability.Planning
		}
	}
	if r, ok := s.Results[capability.Monitoring]; ok && !s.invoked(capability.Barrier) {
		if report, ok := monitoringReport(r); ok && report.TotalDoses > 0 && report.AdherencePercent < lowAdherencePercent {
			return capability.Barrier
		}
	}
	if s.RequiresEscalation && !s.invoked(capability.Liaison) {
		return capability.Liaison
	}
	return ""
}

func barrierReport(r capability.Result) (capability.BarrierReport, bool) {
	switch d := r.Data.(type) {
	case capability.BarrierReport:
		return d, true
	case *capability.BarrierReport:
		if d != nil {
			return *d, true
		}
	}
	return capability.BarrierReport{}, false
}

func monitoringReport(r capability.Result) (capability.MonitoringReport, bool) {
	switch d := r.Data.(type) {
	case capability.MonitoringReport:
		return d, true
	case *capability.MonitoringReport:
		if d != nil {
			return *d, true
		}
	}
	return capability.MonitoringReport{}, false
}
