// Package audit registra los eventos de seguridad de la cuenta (login,
// logout, pin de clave del servidor) en el logger "audit".
package audit

import (
	"context"
	"sort"
	"time"

	"github.com/dropDatabas3/gpgauth/internal/observability/logger"
	"go.uber.org/zap"
)

// Eventos registrados.
const (
	EventLogin         = "login"
	EventLogout        = "logout"
	EventServerKeyPin  = "server_key_pin"
	EventVerifyFailure = "verify_failure"
)

// Log escribe un evento estructurado. Los campos se emiten en orden de clave.
func Log(ctx context.Context, event string, fields map[string]any) {
	zf := make([]zap.Field, 0, len(fields)+2)
	zf = append(zf,
		zap.String("event", event),
		zap.String("ts", time.Now().UTC().Format(time.RFC3339Nano)),
	)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}
	logger.From(ctx).Named("audit").Info("audit", zf...)
}
