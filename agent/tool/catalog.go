package tool

import (
	"github.com/cloudwego/eino/schema"
	statex "github.com/tanpawarit/fredie-agent/agent/state"
)

// Capability names as exposed to the models.
const (
	CapCheckIdentity        = "checkIdentity"
	CapRegisterIdentity     = "registerIdentity"
	CapUpdateIdentityInfo   = "updateIdentityInfo"
	CapGetProfileSummary    = "getProfileSummary"
	CapUpdateGoals          = "updateGoals"
	CapUpdateLearningStyle  = "updateLearningStyle"
	CapRetrieveContext      = "retrieveContext"
	CapRetrieveRobotSupport = "retrieveRobotSupport"
	CapWebSearch            = "webSearch"
	CapNowInZone            = "nowInZone"
	CapListTasks            = "listTasks"
	CapListSteps            = "listSteps"
	CapCompleteStep         = "completeStep"
	CapSummarizeAllChats    = "summarizeAllChats"
	CapEvaluateExpression   = "evaluateExpression"

	// CapRouteTo is a control capability; handlers turn it into a route
	// directive and it never reaches Execute.
	CapRouteTo = "route_to"
	RouteBack  = "BACK"
)

// CallerIdentification is the scope caller used by the identification gate.
const CallerIdentification = statex.SpeakerIdentification

// RetrievalCapabilities return Empty when nothing is on record.
var RetrievalCapabilities = map[string]bool{
	CapRetrieveContext:      true,
	CapRetrieveRobotSupport: true,
}

var callerCapabilities = map[string][]string{
	string(statex.HandlerGeneral): {
		CapGetProfileSummary, CapUpdateIdentityInfo, CapUpdateGoals, CapUpdateLearningStyle,
		CapWebSearch, CapRetrieveContext, CapNowInZone, CapSummarizeAllChats, CapRouteTo,
	},
	string(statex.HandlerEducation): {
		CapGetProfileSummary, CapUpdateIdentityInfo, CapUpdateLearningStyle, CapWebSearch, CapRetrieveContext,
		CapListTasks, CapListSteps, CapCompleteStep, CapEvaluateExpression, CapNowInZone, CapRouteTo,
	},
	string(statex.HandlerLab): {
		CapRetrieveContext, CapRetrieveRobotSupport, CapWebSearch,
		CapEvaluateExpression, CapNowInZone, CapRouteTo,
	},
	string(statex.HandlerIndustrial): {
		CapRetrieveContext, CapRetrieveRobotSupport, CapWebSearch,
		CapEvaluateExpression, CapNowInZone, CapRouteTo,
	},
	CallerIdentification: {
		CapCheckIdentity, CapRegisterIdentity, CapUpdateIdentityInfo, CapGetProfileSummary,
	},
}

func stringParam(desc string, required bool) *schema.ParameterInfo {
	return &schema.ParameterInfo{Type: schema.String, Desc: desc, Required: required}
}

func listParam(desc string, required bool) *schema.ParameterInfo {
	return &schema.ParameterInfo{
		Type:     schema.Array,
		Desc:     desc,
		Required: required,
		ElemInfo: &schema.ParameterInfo{Type: schema.String},
	}
}

func params(p map[string]*schema.ParameterInfo) *schema.ParamsOneOf {
	return schema.NewParamsOneOfByParams(p)
}

var toolInfos = map[string]*schema.ToolInfo{
	CapCheckIdentity: {
		Name:        CapCheckIdentity,
		Desc:        "Verifica si un estudiante existe por correo. Devuelve su nombre o EMPTY::NOT_FOUND.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{"key": stringParam("Correo del estudiante", true)}),
	},
	CapRegisterIdentity: {
		Name: CapRegisterIdentity,
		Desc: "Registra un estudiante nuevo.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{
			"full_name": stringParam("Nombre completo", true),
			"email":     stringParam("Correo", true),
			"career":    stringParam("Carrera", true),
			"semester":  {Type: schema.Integer, Desc: "Semestre", Required: true},
			"interests": listParam("Intereses", true),
			"skills":    listParam("Habilidades", false),
			"goals":     listParam("Metas", false),
		}),
	},
	CapUpdateIdentityInfo: {
		Name: CapUpdateIdentityInfo,
		Desc: "Actualiza carrera, semestre o listas de un estudiante existente. Solo cambia los campos enviados.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{
			"email":     stringParam("Correo; por defecto el usuario actual", false),
			"career":    stringParam("Carrera", false),
			"semester":  {Type: schema.Integer, Desc: "Semestre"},
			"interests": listParam("Intereses", false),
			"skills":    listParam("Habilidades", false),
			"goals":     listParam("Metas", false),
		}),
	},
	CapGetProfileSummary: {
		Name:        CapGetProfileSummary,
		Desc:        "Resumen del perfil: carrera, habilidades, metas, intereses y estilo de aprendizaje.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{"key": stringParam("Correo o nombre; por defecto el usuario actual", false)}),
	},
	CapUpdateGoals: {
		Name:        CapUpdateGoals,
		Desc:        "Agrega una meta al perfil del usuario actual.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{"goal": stringParam("Meta nueva", true)}),
	},
	CapUpdateLearningStyle: {
		Name:        CapUpdateLearningStyle,
		Desc:        "Actualiza el estilo de aprendizaje del usuario actual a partir de texto libre.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{"style": stringParam("Cómo prefiere aprender", true)}),
	},
	CapRetrieveContext: {
		Name: CapRetrieveContext,
		Desc: "Busca contexto del perfil y del historial de chats del usuario. Devuelve pasajes o EMPTY.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{
			"query":       stringParam("Consulta", true),
			"session_ref": stringParam("Sesión de referencia; por defecto la actual", false),
		}),
	},
	CapRetrieveRobotSupport: {
		Name:        CapRetrieveRobotSupport,
		Desc:        "Busca problemas y soluciones registrados de robots y equipos. Devuelve casos o EMPTY.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{"query": stringParam("Problema a buscar", true)}),
	},
	CapWebSearch: {
		Name: CapWebSearch,
		Desc: "Investiga en la web y devuelve contexto con fuentes.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{
			"query":       stringParam("Pregunta o tema", true),
			"depth":       {Type: schema.String, Desc: "Profundidad", Enum: []string{"basic", "advanced"}},
			"max_results": {Type: schema.Integer, Desc: "Resultados, de 1 a 10"},
			"time_filter": {Type: schema.String, Desc: "Ventana temporal", Enum: []string{"day", "week", "month", "year"}},
		}),
	},
	CapNowInZone: {
		Name:        CapNowInZone,
		Desc:        "Fecha y hora actual en una zona horaria IANA.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{"tz": stringParam("Zona horaria, por ejemplo America/Monterrey", false)}),
	},
	CapListTasks: {
		Name:        CapListTasks,
		Desc:        "Lista las tareas del proyecto de práctica.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{"project_id": stringParam("Proyecto; por defecto el de la sesión", false)}),
	},
	CapListSteps: {
		Name:        CapListSteps,
		Desc:        "Lista los pasos de una tarea con su estado.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{"task_id": stringParam("Tarea; por defecto la actual", false)}),
	},
	CapCompleteStep: {
		Name:        CapCompleteStep,
		Desc:        "Marca un paso como completado y devuelve el siguiente.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{"step_id": stringParam("Id del paso", true)}),
	},
	CapSummarizeAllChats: {
		Name:        CapSummarizeAllChats,
		Desc:        "Programa el resumen de todas las sesiones de chat.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{}),
	},
	CapEvaluateExpression: {
		Name:        CapEvaluateExpression,
		Desc:        "Evalúa una expresión matemática: + - * / % ^, paréntesis, sqrt, sin, cos, tan, log, ln, abs, pi, e.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{"expression": stringParam("Expresión", true)}),
	},
	CapRouteTo: {
		Name: CapRouteTo,
		Desc: "Cede la conversación a otro agente sin responder al usuario. BACK regresa al agente anterior.",
		ParamsOneOf: params(map[string]*schema.ParameterInfo{
			"target": {
				Type:     schema.String,
				Desc:     "Agente destino",
				Required: true,
				Enum:     []string{"GENERAL", "EDUCATION", "LAB", "INDUSTRIAL", RouteBack},
			},
		}),
	},
}

// Allowed reports whether caller may invoke capability name.
func Allowed(caller, name string) bool {
	for _, n := range callerCapabilities[caller] {
		if n == name {
			return true
		}
	}
	return false
}
