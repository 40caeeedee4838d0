package gpgauth

import (
	"net/http"
	"strings"
)

// ProtocolVersion es la única versión de X-GPGAuth-Version aceptada.
const ProtocolVersion = "1.3.0"

// Nombres de headers del protocolo (namespace x-gpgauth-, case-insensitive).
const (
	HeaderPrefix         = "x-gpgauth-"
	HeaderVersion        = HeaderPrefix + "version"
	HeaderAuthenticated  = HeaderPrefix + "authenticated"
	HeaderProgress       = HeaderPrefix + "progress"
	HeaderUserAuthToken  = HeaderPrefix + "user-auth-token"
	HeaderVerifyResponse = HeaderPrefix + "verify-response"
	HeaderRefer          = HeaderPrefix + "refer"
	HeaderError          = HeaderPrefix + "error"
	HeaderDebug          = HeaderPrefix + "debug"
)

// Stage identifica el punto del protocolo cuyos headers se validan.
type Stage string

const (
	StageVerify   Stage = "verify"
	StageStage1   Stage = "stage1"
	StageComplete Stage = "complete"
)

// requirement: value vacío = basta con que el header esté presente.
type requirement struct {
	name  string
	value string
}

var stageRequirements = map[Stage][]requirement{
	StageVerify: {
		{HeaderVersion, ProtocolVersion},
		{HeaderAuthenticated, "false"},
		{HeaderProgress, "stage0"},
		{HeaderVerifyResponse, ""},
	},
	StageStage1: {
		{HeaderVersion, ProtocolVersion},
		{HeaderAuthenticated, "false"},
		{HeaderProgress, "stage1"},
		{HeaderUserAuthToken, ""},
	},
	StageComplete: {
		{HeaderVersion, ProtocolVersion},
		{HeaderAuthenticated, "true"},
		{HeaderProgress, "complete"},
		{HeaderRefer, ""},
	},
}

// RequiredHeaders devuelve los nombres requeridos para stage (nil si la
// etapa no existe).
func RequiredHeaders(stage Stage) []string {
	reqs := stageRequirements[stage]
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.name)
	}
	return out
}

// HeaderSet es la vista validada de los headers x-gpgauth-* de una respuesta.
type HeaderSet struct {
	Stage  Stage
	values map[string]string
}

// Get devuelve el valor de name (case-insensitive).
func (h HeaderSet) Get(name string) string {
	return h.values[strings.ToLower(name)]
}

// ReadHeaders valida h contra los requisitos de stage. Un X-GPGAuth-Error
// presente gana sobre cualquier otro chequeo y se reporta como error del
// servidor con el mensaje de X-GPGAuth-Debug.
func ReadHeaders(h http.Header, stage Stage) (HeaderSet, error) {
	values := map[string]string{}
	for name, vv := range h {
		lname := strings.ToLower(name)
		if strings.HasPrefix(lname, HeaderPrefix) && len(vv) > 0 {
			values[lname] = strings.TrimSpace(vv[0])
		}
	}

	if _, ok := values[HeaderError]; ok {
		msg := values[HeaderDebug]
		if msg == "" {
			msg = "the server reported an authentication protocol error"
		}
		return HeaderSet{}, newError(KindServerReported, msg, nil)
	}

	reqs, ok := stageRequirements[stage]
	if !ok {
		return HeaderSet{}, newError(KindProtocolHeaderMissing, "unknown protocol stage "+string(stage), nil)
	}
	for _, r := range reqs {
		v, present := values[r.name]
		if !present {
			return HeaderSet{}, newError(KindProtocolHeaderMissing, "missing header "+r.name+" for stage "+string(stage), nil)
		}
		if r.value != "" && !strings.EqualFold(v, r.value) {
			return HeaderSet{}, newError(KindProtocolHeaderMissing,
				"header "+r.name+" has value "+quote(v)+", expected "+quote(r.value)+" for stage "+string(stage), nil)
		}
	}
	return HeaderSet{Stage: stage, values: values}, nil
}

func quote(s string) string { return `"` + s + `"` }
