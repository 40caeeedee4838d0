package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dropDatabas3/gpgauth/internal/audit"
	"github.com/dropDatabas3/gpgauth/internal/authstatus"
	"github.com/dropDatabas3/gpgauth/internal/gpgauth"
	"github.com/dropDatabas3/gpgauth/internal/observability/logger"
	"github.com/dropDatabas3/gpgauth/internal/security/pgp"
	"github.com/dropDatabas3/gpgauth/internal/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func verifyCmd(a *app) *cobra.Command {
	var keyFile, fingerprint string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verificar que el servidor controla su clave OpenPGP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireServer(); err != nil {
				return err
			}
			ctx := cmd.Context()
			opts := gpgauth.VerifyOptions{UserFingerprint: fingerprint}
			if keyFile != "" {
				b, err := os.ReadFile(keyFile)
				if err != nil {
					return err
				}
				opts.ServerArmoredKey = string(b)
			}
			v := gpgauth.NewVerifier(a.sess, a.tr)
			if err := v.Verify(ctx, opts); err != nil {
				return a.verifyFailed(ctx, v, err)
			}
			return a.out.result(map[string]any{"verified": true, "domain": a.sess.Domain()}, "server identity verified")
		},
	}
	cmd.Flags().StringVar(&keyFile, "server-key", "", "Clave pública del servidor (armored) en lugar de la pinneada")
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "Fingerprint del usuario en lugar del keyring")
	return cmd
}

// verifyFailed diagnostica el error de Verify y lo deja en el audit log.
func (a *app) verifyFailed(ctx context.Context, v *gpgauth.Verifier, err error) error {
	diag := v.Diagnose(ctx, err)
	audit.Log(ctx, audit.EventVerifyFailure, map[string]any{
		"domain": a.sess.Domain(),
		"kind":   string(gpgauth.KindOf(diag)),
	})
	return diag
}

func loginCmd(a *app) *cobra.Command {
	var skipVerify bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login GPGAuth en dos etapas con la clave del keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireServer(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if !skipVerify {
				v := gpgauth.NewVerifier(a.sess, a.tr)
				if err := v.Verify(ctx, gpgauth.VerifyOptions{}); err != nil {
					return a.verifyFailed(ctx, v, err)
				}
			}
			key, err := a.userKey(ctx)
			if err != nil {
				return err
			}
			refer, err := gpgauth.NewHandshake(a.tr).Login(ctx, key)
			if err != nil {
				return err
			}
			st, err := a.status.ProbeRemoteStatus(ctx)
			if err != nil {
				return err
			}
			audit.Log(ctx, audit.EventLogin, map[string]any{
				"domain":      a.sess.Domain(),
				"fingerprint": key.Fingerprint(),
				"mfa":         st.IsMfaRequired,
			})
			return a.out.result(map[string]any{
				"refer":           refer,
				"isAuthenticated": st.IsAuthenticated,
				"isMfaRequired":   st.IsMfaRequired,
			}, statusText(st)+" (refer "+refer+")")
		},
	}
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "No verificar la identidad del servidor antes del login")
	return cmd
}

func statusText(st authstatus.Status) string {
	switch {
	case st.IsAuthenticated && st.IsMfaRequired:
		return "authenticated, MFA required"
	case st.IsAuthenticated:
		return "authenticated"
	}
	return "not authenticated"
}

func statusCmd(a *app) *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Estado de autenticación (servidor o cache)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireServer(); err != nil {
				return err
			}
			st, err := a.status.CheckAuthStatus(cmd.Context(), authstatus.Options{RequestAPI: !cached})
			if err != nil {
				return err
			}
			return a.out.result(st, statusText(st))
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "Usar el estado cacheado si existe")
	return cmd
}

func serverKeyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server-key",
		Short: "Clave pinneada del servidor",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			return a.requireServer()
		},
	}

	changed := &cobra.Command{
		Use:   "changed",
		Short: "¿La clave publicada difiere de la pinneada?",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := gpgauth.NewVerifier(a.sess, a.tr).ServerKeyChanged(cmd.Context())
			if err != nil {
				return err
			}
			return a.out.result(map[string]any{"changed": c}, fmt.Sprintf("changed=%t", c))
		},
	}

	expired := &cobra.Command{
		Use:   "expired",
		Short: "¿La clave pinneada expiró?",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := gpgauth.NewVerifier(a.sess, a.tr).IsServerKeyExpired(cmd.Context())
			if err != nil {
				return err
			}
			return a.out.result(map[string]any{"expired": e}, fmt.Sprintf("expired=%t", e))
		},
	}

	var expect string
	pin := &cobra.Command{
		Use:   "pin",
		Short: "Descargar la clave del servidor y pinnearla",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sk, err := gpgauth.NewVerifier(a.sess, a.tr).FetchServerKey(ctx)
			if err != nil {
				return err
			}
			if expect != "" && !equalFingerprint(expect, sk.Fingerprint) {
				return fmt.Errorf("el servidor anuncia %s, se esperaba %s", sk.Fingerprint, expect)
			}
			if err := a.sess.PinServerKey(ctx, sk.Key); err != nil {
				return err
			}
			audit.Log(ctx, audit.EventServerKeyPin, map[string]any{
				"domain":      a.sess.Domain(),
				"fingerprint": sk.Fingerprint,
			})
			return a.out.result(keyView(sk.Key), "pinned "+sk.Fingerprint)
		},
	}
	pin.Flags().StringVar(&expect, "expect", "", "Fingerprint esperado (falla si no coincide)")

	show := &cobra.Command{
		Use:   "show",
		Short: "Mostrar la clave pinneada",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := a.sess.PinnedServerKey(cmd.Context())
			if err != nil {
				return err
			}
			return a.out.result(keyView(k), k.Fingerprint())
		},
	}

	cmd.AddCommand(changed, expired, pin, show)
	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Cerrar la sesión en el servidor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireServer(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.tr.Logout(ctx); err != nil {
				return err
			}
			st := authstatus.Status{}
			if err := a.status.Store(ctx, st); err != nil {
				return err
			}
			audit.Log(ctx, audit.EventLogout, map[string]any{"domain": a.sess.Domain()})
			return a.out.result(st, "logged out")
		},
	}
}

func watchCmd(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Consultar el estado periódicamente hasta Ctrl-C",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireServer(); err != nil {
				return err
			}
			if interval == 0 {
				interval = a.cfg.PollInterval()
			}
			err := a.status.Watch(cmd.Context(), interval, func(st authstatus.Status, err error) {
				if err != nil {
					logger.From(cmd.Context()).Warn("status probe failed", logger.Kind(string(gpgauth.KindOf(err))), logger.Err(err))
					return
				}
				_ = a.out.result(st, time.Now().Format(time.RFC3339)+" "+statusText(st))
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Intervalo entre probes (default status.poll_interval)")
	return cmd
}

func keysCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Clave del usuario en el keyring local",
	}

	importCmd := &cobra.Command{
		Use:   "import <private-key.asc>",
		Short: "Importar la clave privada del usuario (passphrase desde keys.passphrase_env)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var pass []byte
			if v := os.Getenv(a.cfg.Keys.PassphraseEnv); v != "" {
				pass = []byte(v)
			}
			priv, err := a.kr.ImportUserKey(cmd.Context(), string(b), pass)
			if err != nil {
				return err
			}
			return a.out.result(keyView(priv.Public()), "imported "+priv.Fingerprint())
		},
	}

	var name, email string
	var bits int
	var lifetime time.Duration
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generar un par nuevo (sin passphrase) y guardarlo en el keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || email == "" {
				return fmt.Errorf("--name y --email son requeridos")
			}
			priv, err := pgp.Generate(name, email, bits, lifetime)
			if err != nil {
				return err
			}
			armored, err := priv.Armor()
			if err != nil {
				return err
			}
			if _, err := a.kr.ImportUserKey(cmd.Context(), armored, nil); err != nil {
				return err
			}
			logger.From(cmd.Context()).Info("user key generated",
				zap.String("email", util.MaskEmail(email)),
				logger.Fingerprint(priv.Fingerprint()),
			)
			return a.out.result(keyView(priv.Public()), "generated "+priv.Fingerprint())
		},
	}
	generate.Flags().StringVar(&name, "name", "", "Nombre del user id")
	generate.Flags().StringVar(&email, "email", "", "Email del user id")
	generate.Flags().IntVar(&bits, "bits", 3072, "Tamaño de la clave RSA")
	generate.Flags().DurationVar(&lifetime, "lifetime", 0, "Vida de la clave (0 = no expira)")

	show := &cobra.Command{
		Use:   "show",
		Short: "Mostrar la clave pública del usuario",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := a.kr.UserPublicKey(cmd.Context())
			if err != nil {
				return err
			}
			return a.out.result(keyView(pub), pub.Fingerprint())
		},
	}

	cmd.AddCommand(importCmd, generate, show)
	return cmd
}
