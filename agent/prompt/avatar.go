package prompt

import "strings"

const (
	DefaultAvatar = "cora"
	ModeCustom    = "custom"
)

var avatarStyles = map[string]string{
	"cat": "Modo Gato Analítico:\n" +
		"- Tono cálido, claro y ordenado.\n" +
		"- Analogías suaves con gatos SOLO cuando aporten claridad.",
	"robot": "Modo Robot Industrial:\n" +
		"- Tono preciso y directo.\n" +
		"- Prefiere explicación en pasos cuando aporta valor.",
	"duck": "Modo Pato Creativo:\n" +
		"- Tono optimista y creativo.\n" +
		"- Puedes referenciar patos con moderación.",
	"lab": "Modo Asistente de Laboratorio:\n" +
		"- Tono metódico y técnico.\n" +
		"- Prioriza claridad experimental.",
	"astro": "Modo Explorador XR:\n" +
		"- Tono futurista y curioso.\n" +
		"- Usa metáforas espaciales solo cuando ayudan.",
	"cora": "Modo Cora Estándar:\n" +
		"- Tono profesional y amable.",
}

type AvatarOptions struct {
	AvatarID    string
	Mode        string
	Personality string
	Notes       string
}

// AvatarStyle renders the style block injected into every handler prompt.
// Unknown avatars fall back to cora; personality and notes only apply in
// custom mode.
func AvatarStyle(opts AvatarOptions) string {
	id := strings.ToLower(strings.TrimSpace(opts.AvatarID))
	style, ok := avatarStyles[id]
	if !ok {
		style = avatarStyles[DefaultAvatar]
	}

	if strings.EqualFold(strings.TrimSpace(opts.Mode), ModeCustom) {
		if p := strings.TrimSpace(opts.Personality); p != "" {
			style += "\n\nInstrucciones personalizadas:\n" + p
		}
		if n := strings.TrimSpace(opts.Notes); n != "" {
			style += "\n\nNotas adicionales:\n" + n
		}
	}
	return style
}
