package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	contractx "github.com/tanpawarit/fredie-agent/agent/contract"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
)

var (
	weekdaysES = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	monthsES   = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}
)

// TimeIn builds the time context for an IANA zone. An empty zone means UTC.
func TimeIn(tz string, now time.Time) (statex.TimeContext, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return statex.TimeContext{}, fmt.Errorf("unknown time zone %q: %w", tz, err)
	}
	local := now.In(loc)
	return statex.TimeContext{
		Timezone: tz,
		NowLocal: local.Format(time.RFC3339),
		NowUTC:   now.UTC().Format(time.RFC3339),
		NowHuman: HumanTime(local),
	}, nil
}

// HumanTime formats t in Spanish, e.g. "jueves 15 de octubre de 2026, 14:05".
func HumanTime(t time.Time) string {
	return fmt.Sprintf("%s %d de %s de %d, %02d:%02d",
		weekdaysES[t.Weekday()], t.Day(), monthsES[t.Month()-1], t.Year(), t.Hour(), t.Minute())
}

func (r *Registry) nowInZone(_ context.Context, scope contractx.Scope, args map[string]any) contractx.CapabilityResult {
	tz := stringArg(args, "tz", "timezone")
	if tz == "" {
		tz = scope.Timezone
	}
	if tz == "" {
		tz = r.deps.DefaultTimezone
	}
	tc, err := TimeIn(tz, r.deps.Now())
	if err != nil {
		return contractx.Failed(err.Error())
	}
	raw, err := json.Marshal(tc)
	if err != nil {
		return contractx.Failed(err.Error())
	}
	return contractx.Found(string(raw))
}
