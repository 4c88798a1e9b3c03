package server

import (
	"fmt"

	"github.com/conneroisu/tramline/internal/build"
	"github.com/conneroisu/tramline/internal/errors"
)

func buildCounts(c build.StatusCounters) string {
	return fmt.Sprintf("%d total, %d succeeded, %d failed, %d superseded",
		c.Total, c.Succeeded, c.Failed, c.Superseded)
}

func headline(status build.Status) string {
	switch status.Phase {
	case build.PhaseSucceeded.String():
		return fmt.Sprintf("Generation %d published", status.Generation)
	case build.PhaseFailed.String():
		return fmt.Sprintf("Generation %d failed", status.Generation)
	case build.PhaseBuilding.String():
		return fmt.Sprintf("Building generation %d", status.Generation)
	default:
		return "Idle"
	}
}

func phaseClass(status build.Status) string {
	switch status.Phase {
	case build.PhaseSucceeded.String():
		return "ok"
	case build.PhaseFailed.String():
		return "failed"
	case build.PhaseBuilding.String():
		return "building"
	default:
		return ""
	}
}

func location(d errors.Diagnostic) string {
	loc := d.Source
	if d.File != "" {
		loc = fmt.Sprintf("%s (%s", d.Source, d.File)
		if d.Line > 0 {
			loc += fmt.Sprintf(":%d", d.Line)
			if d.Column > 0 {
				loc += fmt.Sprintf(":%d", d.Column)
			}
		}
		loc += ")"
	}
	return loc
}
