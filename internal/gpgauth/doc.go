// Package gpgauth implementa el lado cliente del protocolo GPGAuth v1.3.0:
// autenticación mutua usuario/servidor con pares de claves OpenPGP en lugar
// de passwords.
//
// # Componentes
//
//   - AuthToken: el nonce envuelto en gpgauthv1.3.0|36|<uuid>|gpgauthv1.3.0.
//   - ReadHeaders: lectura/validación de los headers X-GPGAuth-* por etapa.
//   - Verifier: prueba que el servidor controla la clave privada de la
//     clave pública que anuncia, y detecta cambios/expiración de la clave
//     pinneada.
//   - Handshake: login en dos etapas (stage1 → stage2).
//   - Prober: probe remoto de sesión (is-authenticated) con la variante MFA.
//
// Todos los errores del protocolo son *Error con un Kind cerrado; ningún
// componente decide por el texto del mensaje.
//
// # Usage
//
//	sess, _ := gpgauth.NewSession("https://pass.example.com", kr)
//	tr, _ := gpgauth.NewTransport(sess.ServerURL)
//	if err := gpgauth.NewVerifier(sess, tr).Verify(ctx, gpgauth.VerifyOptions{}); err != nil {
//	    return err
//	}
//	refer, err := gpgauth.NewHandshake(tr).Login(ctx, privateKey)
package gpgauth
