package orchestrator

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
)

const DefaultStopToken = "TERMINATE"

// StopPredicate is checked after every appended turn.
type StopPredicate func(contractx.Transcript) bool

// ResultRule extracts the run's final text from the transcript.
type ResultRule func(contractx.Transcript) string

func StopOnToken(token string) StopPredicate {
	token = strings.TrimSpace(token)
	return func(t contractx.Transcript) bool {
		last, ok := t.Last()
		if !ok || last.Role != contractx.RoleAgent || token == "" {
			return false
		}
		return strings.Contains(last.Content, token)
	}
}

func StopAfterSpeaker(name string) StopPredicate {
	return func(t contractx.Transcript) bool {
		last, ok := t.Last()
		return ok && last.Role == contractx.RoleAgent && last.Speaker == name
	}
}

// StopOnCleanLint holds once speaker's latest turn ran tool and got no diagnostics back.
func StopOnCleanLint(speaker, tool string) StopPredicate {
	return func(t contractx.Transcript) bool {
		last, ok := t.Last()
		if !ok || last.Role != contractx.RoleAgent || last.Speaker != speaker {
			return false
		}
		report, ran := last.ToolOutput(tool)
		return ran && strings.TrimSpace(report) == ""
	}
}

func AnyStop(preds ...StopPredicate) StopPredicate {
	return func(t contractx.Transcript) bool {
		for _, p := range preds {
			if p != nil && p(t) {
				return true
			}
		}
		return false
	}
}

func LastMessage() ResultRule {
	return func(t contractx.Transcript) string {
		last, ok := t.Last()
		if !ok || last.Role != contractx.RoleAgent {
			return ""
		}
		return last.Content
	}
}

func LastFrom(speaker string) ResultRule {
	return func(t contractx.Transcript) string {
		msg, ok := t.LastFrom(speaker)
		if !ok {
			return ""
		}
		return msg.Content
	}
}

// CodeWithReport pairs the coder's latest code with the debugger's latest report.
func CodeWithReport(coder, debugger string) ResultRule {
	return func(t contractx.Transcript) string {
		code, hasCode := t.LastFrom(coder)
		report, hasReport := t.LastFrom(debugger)
		switch {
		case !hasCode && !hasReport:
			return ""
		case !hasReport:
			return code.Content
		case !hasCode:
			return report.Content
		}
		return fmt.Sprintf("%s\n\n--- %s report ---\n%s", code.Content, debugger, report.Content)
	}
}
