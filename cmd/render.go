package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/xkilldash9x/formpilot/internal/flow"
)

// outcomeView is the JSON shape of an activation outcome.
type outcomeView struct {
	RunID    string `json:"run_id"`
	Stage    string `json:"stage"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Filled   bool   `json:"filled"`
	Reported string `json:"reported,omitempty"`
	Reason   string `json:"reason"`
}

func newOutcomeView(out flow.Outcome) outcomeView {
	return outcomeView{
		RunID:    out.RunID,
		Stage:    out.Stage.String(),
		Email:    out.Email,
		Name:     out.Name,
		Filled:   out.Filled,
		Reported: string(out.Reported),
		Reason:   out.Reason,
	}
}

// renderOutcome prints a short colored summary of an activation.
func renderOutcome(w io.Writer, out flow.Outcome) {
	state := color.New(color.FgYellow).Sprint("NOT FILLED")
	if out.Filled {
		state = color.New(color.FgGreen).Sprint("FILLED")
	}
	if out.Reason != flow.ReasonCompleted && !out.Filled {
		state = color.New(color.FgRed).Sprint("STOPPED")
	}

	fmt.Fprintf(w, "%s  stage=%s  run=%s\n", state, color.New(color.FgCyan).Sprint(out.Stage), out.RunID)
	if out.Email != "" {
		fmt.Fprintf(w, "  record: %s\n", out.Email)
	}
	if out.Name != "" {
		fmt.Fprintf(w, "  user:   %s\n", out.Name)
	}
	if out.Reported != "" {
		fmt.Fprintf(w, "  status: %s\n", color.New(color.FgBlue).Sprint(out.Reported))
	}
	fmt.Fprintf(w, "  reason: %s\n", out.Reason)
}
