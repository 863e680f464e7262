package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/researcher.txt
	researcherRaw string

	//go:embed template/summarizer.txt
	summarizerRaw string

	//go:embed template/coder.txt
	coderRaw string

	//go:embed template/debugger.txt
	debuggerRaw string

	//go:embed template/selector.txt
	selectorRaw string
)

// PromptSet holds the directive text of every agent plus the selector.
type PromptSet struct {
	Researcher string
	Summarizer string
	Coder      string
	Debugger   string
	Selector   string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Researcher: strings.TrimSpace(researcherRaw),
		Summarizer: strings.TrimSpace(summarizerRaw),
		Coder:      strings.TrimSpace(coderRaw),
		Debugger:   strings.TrimSpace(debuggerRaw),
		Selector:   strings.TrimSpace(selectorRaw),
	}
}
