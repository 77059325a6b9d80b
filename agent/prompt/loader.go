package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/router.txt
	routerRaw string

	//go:embed template/identification.txt
	identificationRaw string

	//go:embed template/summary.txt
	summaryRaw string

	//go:embed template/general.txt
	generalRaw string

	//go:embed template/education.txt
	educationRaw string

	//go:embed template/lab.txt
	labRaw string

	//go:embed template/industrial.txt
	industrialRaw string
)

// PromptSet holds loaded prompt content. Handler prompts are FString
// templates over avatar_style, profile_summary, time_context and
// task_context; literal braces are escaped as {{ }}.
type PromptSet struct {
	Router         string
	Identification string
	Summary        string
	General        string
	Education      string
	Lab            string
	Industrial     string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Router:         strings.TrimSpace(routerRaw),
		Identification: strings.TrimSpace(identificationRaw),
		Summary:        strings.TrimSpace(summaryRaw),
		General:        strings.TrimSpace(generalRaw),
		Education:      strings.TrimSpace(educationRaw),
		Lab:            strings.TrimSpace(labRaw),
		Industrial:     strings.TrimSpace(industrialRaw),
	}
}

// Handler returns the system prompt of a handler id, or "" if unknown.
func (p PromptSet) Handler(id string) string {
	switch id {
	case "general":
		return p.General
	case "education":
		return p.Education
	case "lab":
		return p.Lab
	case "industrial":
		return p.Industrial
	default:
		return ""
	}
}
