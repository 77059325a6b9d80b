package contract

// User-visible replies. Single sentences, no internal detail.
const (
	ReplyAskNameEmail     = "Para ayudarte mejor, ¿puedes darme tu nombre y correo?"
	ReplyAskNameEmailOnly = "Me faltan algunos datos: por favor compárteme tu nombre completo y tu correo."
	ReplyAskProfile       = "No encontré tu registro. Para crearlo compárteme tu carrera, semestre, intereses y, si quieres, tus habilidades y metas."
	ReplyIdentifyRetry    = "Tuve un problema verificando tus datos, ¿puedes intentarlo de nuevo en un momento?"
	ReplyApology          = "Lo siento, tuve un problema para responder. ¿Puedes intentarlo de nuevo?"
	ReplyTooManySteps     = "Lo siento, no pude completar tu solicitud. ¿Puedes reformularla?"
	ReplyNoRecords        = "No hay información registrada sobre ese tema."
	ReplyEmpty            = "¿Podrías darme un poco más de detalle?"
	DefaultProfileSummary = "Perfil aún no registrado."
	UntitledSession       = "Sesión sin título"
)

// ReplyAskMissing names the registration fields still missing.
func ReplyAskMissing(fields []string) string {
	if len(fields) == 0 {
		return ReplyAskProfile
	}
	out := "Para completar tu registro me falta: "
	for i, f := range fields {
		if i > 0 {
			if i == len(fields)-1 {
				out += " y "
			} else {
				out += ", "
			}
		}
		out += f
	}
	return out + "."
}
