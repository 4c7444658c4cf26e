package completion

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"vidgen/internal/domain"
)

// Failure reasons written to error_message.
const (
	ReasonNoOutputs      = "provider reported success with no outputs"
	ReasonExpired        = "render request expired or not found at provider"
	ReasonProviderFailed = "render failed at provider"
)

const maxReasonRunes = 500

// Action is what a provider report means for a job.
type Action int

const (
	ActionNone Action = iota
	ActionAlreadyProcessed
	ActionComplete
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionAlreadyProcessed:
		return "already_processed"
	case ActionComplete:
		return "complete"
	case ActionFail:
		return "fail"
	default:
		return "none"
	}
}

// Transition is the decision Reconcile makes for one job and one provider report.
type Transition struct {
	Action Action
	// OutputURL is the artifact to deliver when Action is ActionComplete.
	OutputURL string
	// Reason is the error message when Action is ActionFail.
	Reason string
}

// Reconcile maps a provider report onto a transition. It performs no I/O.
func Reconcile(job domain.Job, st domain.RenderStatus) Transition {
	if job.Status.IsTerminal() {
		return Transition{Action: ActionAlreadyProcessed}
	}
	if st.Succeeded() {
		for _, out := range st.Outputs {
			if strings.TrimSpace(out) != "" {
				return Transition{Action: ActionComplete, OutputURL: strings.TrimSpace(out)}
			}
		}
		return Transition{Action: ActionFail, Reason: ReasonNoOutputs}
	}
	switch strings.ToLower(st.Status) {
	case domain.RenderStatusFailed:
		reason := CleanReason(st.Error)
		if reason == "" {
			reason = ReasonProviderFailed
		}
		return Transition{Action: ActionFail, Reason: reason}
	case domain.RenderStatusNotFound:
		return Transition{Action: ActionFail, Reason: ReasonExpired}
	}
	return Transition{Action: ActionNone}
}

// CleanReason normalizes provider error text for storage: NFC form, control
// characters folded to spaces, whitespace collapsed, and capped in length.
func CleanReason(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxReasonRunes {
		runes := []rune(s)
		s = string(runes[:maxReasonRunes-1]) + "…"
	}
	return s
}
