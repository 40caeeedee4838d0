package util

import (
	"net/url"
	"regexp"
	"strings"
)

// MaskEmail deja la primera letra del usuario y del dominio:
// "ada@example.com" → "a…@e….com". Se usa al loguear user ids de claves.
func MaskEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	i := strings.IndexByte(s, '@')
	if i <= 0 {
		return MaskToken(s)
	}
	user, dom := s[:i], s[i+1:]
	if len(user) > 1 {
		user = user[:1] + "…"
	}
	dparts := strings.Split(dom, ".")
	if len(dparts) > 0 && len(dparts[0]) > 1 {
		dparts[0] = dparts[0][:1] + "…"
	}
	return user + "@" + strings.Join(dparts, ".")
}

// MaskToken deja visibles el primer y el último caracter.
func MaskToken(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 3:
		return "***"
	}
	return s[:1] + "…" + s[len(s)-1:]
}

var kvPassword = regexp.MustCompile(`(?i)(password\s*=\s*)(\S+)`)

// MaskDSN oculta el password de un DSN en formato URL
// (postgres://u:p@host/db) o key=value (host=x password=p).
func MaskDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "***")
			return strings.Replace(u.String(), "%2A%2A%2A", "***", 1)
		}
		return dsn
	}
	return kvPassword.ReplaceAllString(dsn, "${1}***")
}
