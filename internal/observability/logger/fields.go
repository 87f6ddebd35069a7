package logger

import (
	"time"

	"go.uber.org/zap"
)

// Campos estándar del dominio. Nunca loguear material criptográfico:
// estos helpers solo aceptan identificadores, decisiones y métricas.

// Provider crea un campo para el provider de credenciales.
func Provider(v string) zap.Field {
	return zap.String("provider", v)
}

// Actor crea un campo para el actor que origina el request.
func Actor(v string) zap.Field {
	return zap.String("actor", v)
}

// Subject crea un campo para el subject del token.
func Subject(v string) zap.Field {
	return zap.String("subject", v)
}

// TokenID crea un campo para el ID del token (jti, nunca el token firmado).
func TokenID(v string) zap.Field {
	return zap.String("token_id", v)
}

// Epoch crea un campo para la época de rotación de clave.
func Epoch(v uint64) zap.Field {
	return zap.Uint64("epoch", v)
}

// Decision crea un campo para la decisión de admisión zero-trust.
func Decision(v string) zap.Field {
	return zap.String("decision", v)
}

// Outcome crea un campo para el resultado de una operación.
func Outcome(v string) zap.Field {
	return zap.String("outcome", v)
}

// Resonance crea un campo para el score de resonancia vigente.
func Resonance(v float64) zap.Field {
	return zap.Float64("resonance", v)
}

// Band crea un campo para la banda de resonancia clasificada.
func Band(v string) zap.Field {
	return zap.String("band", v)
}

// TTL crea un campo para el TTL otorgado.
func TTL(v time.Duration) zap.Field {
	return zap.Duration("ttl", v)
}

// Severity crea un campo para la severidad de un hallazgo del scanner.
func Severity(v string) zap.Field {
	return zap.String("severity", v)
}

// Pattern crea un campo para el patrón de secreto detectado.
func Pattern(v string) zap.Field {
	return zap.String("pattern", v)
}

// Target crea un campo para el target de deploy.
func Target(v string) zap.Field {
	return zap.String("target", v)
}

// Revision crea un campo para la revisión de deploy.
func Revision(v string) zap.Field {
	return zap.String("revision", v)
}

// RequestID crea un campo para el ID del request HTTP.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para la duración de la operación.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}
