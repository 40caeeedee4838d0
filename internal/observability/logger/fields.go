package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - PROTOCOLO
// =================================================================================

// Stage crea un campo para la etapa del handshake (verify, stage1, complete).
func Stage(v string) zap.Field {
	return zap.String("stage", v)
}

// Fingerprint crea un campo para el fingerprint de una clave OpenPGP.
func Fingerprint(v string) zap.Field {
	return zap.String("fingerprint", v)
}

// Domain crea un campo para el dominio del servidor.
func Domain(v string) zap.Field {
	return zap.String("domain", v)
}

// Kind crea un campo para el tipo de error del protocolo.
func Kind(v string) zap.Field {
	return zap.String("error_kind", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// URL crea un campo para la URL de un request saliente.
func URL(v string) zap.Field {
	return zap.String("url", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para la duración de un round-trip.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}
