// Package identification extracts identity and registration fields from
// free-form user messages.
package identification

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/tanpawarit/fredie-agent/agent/agents/llmgraph"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
)

// Extractor asks the model for the fields and fills whatever it missed with
// the regex fallback.
type Extractor struct {
	runner compose.Runnable[map[string]any, contractx.ExtractedProfile]
}

var _ contractx.Extractor = (*Extractor)(nil)

func NewExtractor(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string) (*Extractor, error) {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: identification", contractx.ErrPromptMissing)
	}
	runner, err := llmgraph.CompileStructured[contractx.ExtractedProfile](ctx, chatModel, systemPrompt, "identification.extract_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile identification graph: %v", contractx.ErrModelInvoke, err)
	}
	return &Extractor{runner: runner}, nil
}

// Extract never fails on model errors: the regex fallback result is returned
// alongside the wrapped error so callers can log and continue.
func (e *Extractor) Extract(ctx context.Context, req contractx.ExtractRequest) (contractx.ExtractedProfile, error) {
	fallback := Fallback(req.Texts)

	input, err := json.Marshal(req)
	if err != nil {
		return fallback, fmt.Errorf("%w: marshal extract payload: %v", contractx.ErrValidation, err)
	}
	out, err := e.runner.Invoke(ctx, map[string]any{llmgraph.InputKey: string(input)})
	if err != nil {
		return fallback, fmt.Errorf("%w: identification invoke: %v", contractx.ErrModelInvoke, err)
	}
	return Merge(Normalize(out), fallback), nil
}

var (
	emailPattern    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	namePattern     = regexp.MustCompile(`(?i)(?:me llamo|mi nombre es|soy)\s+([\p{L}]+(?:\s+[\p{L}]+){0,3})`)
	semesterPattern = regexp.MustCompile(`(?i)(\d{1,2})\s*(?:°|º|o)?\s*semestre|semestre\s*(?:n[uú]mero\s*)?(\d{1,2})`)
	careerPattern   = regexp.MustCompile(`(?i)(?:estudio|carrera(?: de| es)?:?)\s+([\p{L}\s]{3,60}?)(?:[,.;\n]|\s+en\s+|\s+y\s+|$)`)
	nameStopWords   = map[string]bool{"y": true, "mi": true, "de": true, "con": true, "correo": true, "email": true, "estudiante": true}
)

// Fallback extracts name, email, semester and career with regular
// expressions. Later texts override earlier ones.
func Fallback(texts []string) contractx.ExtractedProfile {
	var out contractx.ExtractedProfile
	for _, text := range texts {
		if m := emailPattern.FindString(text); m != "" {
			out.Email = strings.ToLower(m)
		}
		if m := namePattern.FindStringSubmatch(text); m != nil {
			if name := cleanName(m[1]); name != "" {
				out.Name = name
			}
		}
		if m := semesterPattern.FindStringSubmatch(text); m != nil {
			raw := m[1]
			if raw == "" {
				raw = m[2]
			}
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				out.Semester = contractx.FlexInt(n)
			}
		}
		if m := careerPattern.FindStringSubmatch(text); m != nil {
			if career := strings.TrimSpace(m[1]); career != "" {
				out.Career = career
			}
		}
	}
	return out
}

func cleanName(raw string) string {
	var kept []string
	for _, w := range strings.Fields(raw) {
		if nameStopWords[strings.ToLower(w)] {
			break
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// Normalize trims every field and lower-cases the email.
func Normalize(p contractx.ExtractedProfile) contractx.ExtractedProfile {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	if !strings.Contains(p.Email, "@") {
		p.Email = ""
	}
	p.Career = strings.TrimSpace(p.Career)
	if p.Semester < 0 {
		p.Semester = 0
	}
	p.Skills = contractx.StringList(contractx.CoerceList([]string(p.Skills)))
	p.Goals = contractx.StringList(contractx.CoerceList([]string(p.Goals)))
	p.Interests = contractx.StringList(contractx.CoerceList([]string(p.Interests)))
	return p
}

// Merge keeps primary values and fills empty fields from secondary.
func Merge(primary, secondary contractx.ExtractedProfile) contractx.ExtractedProfile {
	if primary.Name == "" {
		primary.Name = secondary.Name
	}
	if primary.Email == "" {
		primary.Email = secondary.Email
	}
	if primary.Career == "" {
		primary.Career = secondary.Career
	}
	if primary.Semester == 0 {
		primary.Semester = secondary.Semester
	}
	if len(primary.Skills) == 0 {
		primary.Skills = secondary.Skills
	}
	if len(primary.Goals) == 0 {
		primary.Goals = secondary.Goals
	}
	if len(primary.Interests) == 0 {
		primary.Interests = secondary.Interests
	}
	return primary
}
