// Package logger provee un logger Zap singleton con scoping por contexto
// para el cliente gpgauth.
//
// # Usage
//
// Inicialización (una vez en main.go):
//
//	logger.Init(logger.Config{Env: cfg.Log.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
// En componentes del handshake:
//
//	log := logger.From(ctx).With(logger.Component("gpgauth.verify"))
//	log.Debug("verify response received", logger.Status(resp.StatusCode))
//
// El core nunca loguea un error en lugar de devolverlo: los logs son
// de nivel debug y acompañan al error propagado.
package logger
