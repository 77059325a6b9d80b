package tool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	storex "github.com/tanpawarit/fredie-agent/agent/store"
)

// ReasonDuplicate is returned by registerIdentity for an email already on record.
const ReasonDuplicate = "DUPLICATE"

// ReasonNotFound is the Empty reason for an unknown identity.
const ReasonNotFound = "NOT_FOUND"

func (r *Registry) checkIdentity(ctx context.Context, scope contractx.Scope, args map[string]any) contractx.CapabilityResult {
	key := stringArg(args, "key", "email")
	if key == "" {
		key = scope.IdentityKey
	}
	if key == "" {
		return contractx.Failed("key is required")
	}
	st, err := r.deps.Students.FindStudent(ctx, key)
	if errors.Is(err, storex.ErrNotFound) {
		return contractx.Empty(ReasonNotFound)
	}
	if err != nil {
		return contractx.Failed(errorReason(err))
	}
	return contractx.Found(st.FullName)
}

func (r *Registry) registerIdentity(ctx context.Context, _ contractx.Scope, args map[string]any) contractx.CapabilityResult {
	st := &storex.Student{
		FullName: stringArg(args, "full_name", "name"),
		Email:    strings.ToLower(stringArg(args, "email")),
		Career:   stringArg(args, "career"),
	}
	st.Semester, _ = intArg(args, "semester")
	st.Interests, _ = listArg(args, "interests")
	st.Skills, _ = listArg(args, "skills")
	st.Goals, _ = listArg(args, "goals")

	if missing := MissingRegistrationFields(st); len(missing) > 0 {
		return contractx.Failed("missing: " + strings.Join(missing, ","))
	}

	if _, err := r.deps.Students.FindStudent(ctx, st.Email); err == nil {
		return contractx.Failed(ReasonDuplicate)
	} else if !errors.Is(err, storex.ErrNotFound) {
		return contractx.Failed(errorReason(err))
	}

	st.LastSeen = r.deps.Now().UTC()
	if err := r.deps.Students.UpsertStudent(ctx, st); err != nil {
		return contractx.Failed(errorReason(err))
	}
	r.indexStudent(ctx, st)
	return contractx.Found(st.FullName)
}

// MissingRegistrationFields lists the Spanish names of required fields that
// are still empty. Skills and goals are optional.
func MissingRegistrationFields(st *storex.Student) []string {
	var missing []string
	if strings.TrimSpace(st.FullName) == "" {
		missing = append(missing, "nombre completo")
	}
	if !strings.Contains(st.Email, "@") {
		missing = append(missing, "correo")
	}
	if strings.TrimSpace(st.Career) == "" {
		missing = append(missing, "carrera")
	}
	if st.Semester <= 0 {
		missing = append(missing, "semestre")
	}
	if len(st.Interests) == 0 {
		missing = append(missing, "intereses")
	}
	return missing
}

func (r *Registry) updateIdentityInfo(ctx context.Context, scope contractx.Scope, args map[string]any) contractx.CapabilityResult {
	key := ownerKey(scope, args, "email", "key")
	if key == "" {
		return contractx.Failed("identity not verified")
	}
	st, err := r.deps.Students.FindStudent(ctx, key)
	if err != nil {
		if errors.Is(err, storex.ErrNotFound) {
			return contractx.Empty(ReasonNotFound)
		}
		return contractx.Failed(errorReason(err))
	}

	var columns []string
	if v := stringArg(args, "career"); v != "" {
		st.Career = v
		columns = append(columns, "career")
	}
	if v, ok := intArg(args, "semester"); ok && v > 0 {
		st.Semester = v
		columns = append(columns, "semester")
	}
	if v, ok := listArg(args, "skills"); ok {
		st.Skills = v
		columns = append(columns, "skills")
	}
	if v, ok := listArg(args, "goals"); ok {
		st.Goals = v
		columns = append(columns, "goals")
	}
	if v, ok := listArg(args, "interests"); ok {
		st.Interests = v
		columns = append(columns, "interests")
	}
	if len(columns) == 0 {
		return contractx.Found("sin cambios")
	}
	if err := r.deps.Students.UpdateStudent(ctx, st, columns...); err != nil {
		return contractx.Failed(errorReason(err))
	}
	r.indexStudent(ctx, st)

	res := contractx.Found("actualizado: " + strings.Join(columns, ","))
	res.ProfileChanged = true
	return res
}

func (r *Registry) getProfileSummary(ctx context.Context, scope contractx.Scope, args map[string]any) contractx.CapabilityResult {
	key := identityKey(scope, args, "key", "email")
	if key == "" {
		return contractx.Failed("key is required")
	}
	st, err := r.deps.Students.FindStudent(ctx, key)
	if errors.Is(err, storex.ErrNotFound) {
		return contractx.Empty(ReasonNotFound)
	}
	if err != nil {
		return contractx.Failed(errorReason(err))
	}
	return contractx.Found(ProfileSummary(st))
}

// ProfileSummary renders the one-paragraph profile handed to every prompt.
func ProfileSummary(st *storex.Student) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Perfil de %s. Carrera: %s, Semestre: %s.",
		orDash(st.FullName), orDash(st.Career), semesterText(st.Semester))
	fmt.Fprintf(&b, " Skills: %s.", joinOrDash(st.Skills))
	fmt.Fprintf(&b, " Metas: %s.", joinOrDash(st.Goals))
	fmt.Fprintf(&b, " Intereses: %s.", joinOrDash(st.Interests))
	if desc := LearningStyleText(st.LearningStyle); desc != "" {
		b.WriteString(" " + desc)
	}
	return b.String()
}

// LearningStyleText describes a learning style, or "" when none is set.
func LearningStyleText(ls storex.LearningStyle) string {
	if ls.IsZero() {
		return ""
	}
	var parts []string
	if prefs := ls.Preferences(); len(prefs) > 0 {
		parts = append(parts, "Prefiere aprender "+strings.Join(prefs, ", ")+".")
	}
	if notes := strings.TrimSpace(ls.Notes); notes != "" {
		parts = append(parts, "Notas: "+notes)
	}
	return strings.Join(parts, " ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func semesterText(n int) string {
	if n <= 0 {
		return "-"
	}
	return strconv.Itoa(n)
}

/* --------------------------------- Profile -------------------------------- */

func (r *Registry) updateGoals(ctx context.Context, scope contractx.Scope, args map[string]any) contractx.CapabilityResult {
	key := ownerKey(scope, args, "key", "email")
	goal := stringArg(args, "goal")
	if key == "" || goal == "" {
		return contractx.Failed("key and goal are required")
	}
	st, err := r.deps.Students.FindStudent(ctx, key)
	if err != nil {
		if errors.Is(err, storex.ErrNotFound) {
			return contractx.Empty(ReasonNotFound)
		}
		return contractx.Failed(errorReason(err))
	}
	for _, g := range st.Goals {
		if strings.EqualFold(strings.TrimSpace(g), goal) {
			return contractx.Found("la meta ya estaba registrada")
		}
	}
	st.Goals = append(st.Goals, goal)
	if err := r.deps.Students.UpdateStudent(ctx, st, "goals"); err != nil {
		return contractx.Failed(errorReason(err))
	}
	r.indexStudent(ctx, st)

	res := contractx.Found("meta agregada: " + goal)
	res.ProfileChanged = true
	return res
}

func (r *Registry) updateLearningStyle(ctx context.Context, scope contractx.Scope, args map[string]any) contractx.CapabilityResult {
	key := ownerKey(scope, args, "key", "email")
	text := stringArg(args, "style", "text")
	if key == "" || text == "" {
		return contractx.Failed("key and style are required")
	}
	st, err := r.deps.Students.FindStudent(ctx, key)
	if err != nil {
		if errors.Is(err, storex.ErrNotFound) {
			return contractx.Empty(ReasonNotFound)
		}
		return contractx.Failed(errorReason(err))
	}
	st.LearningStyle = ParseLearningStyle(text)
	if err := r.deps.Students.UpdateStudent(ctx, st, "learning_style"); err != nil {
		return contractx.Failed(errorReason(err))
	}
	r.indexStudent(ctx, st)

	res := contractx.Found("estilo de aprendizaje actualizado. " + LearningStyleText(st.LearningStyle))
	res.ProfileChanged = true
	return res
}

// ParseLearningStyle maps free text to learning-style flags by keyword and
// keeps the text as notes.
func ParseLearningStyle(text string) storex.LearningStyle {
	lower := strings.ToLower(text)
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
	return storex.LearningStyle{
		PrefersExamples:   has("ejemplo"),
		PrefersVisual:     has("visual", "diagrama", "imagen"),
		PrefersStepByStep: has("paso"),
		PrefersTheory:     has("teor"),
		PrefersPractice:   has("práct", "practic"),
		Notes:             strings.TrimSpace(text),
	}
}

// indexStudent refreshes the profile passage used by retrieveContext. It is
// best effort: the profile row is already saved.
func (r *Registry) indexStudent(ctx context.Context, st *storex.Student) {
	if r.deps.Retriever == nil {
		return
	}
	key := strings.ToLower(strings.TrimSpace(st.Email))
	doc := &storex.Document{
		Collection: storex.CollectionStudentInfo,
		Ref:        key,
		Owner:      key,
		Content:    ProfileSummary(st),
		Metadata:   map[string]any{"full_name": st.FullName, "email": key},
		UpdatedAt:  r.deps.Now().UTC(),
	}
	if err := r.deps.Retriever.Index(ctx, doc); err != nil {
		log.Warn().Err(err).Str("email", key).Msg("index student profile failed")
	}
}
