package gpgauth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		kind    Kind
		message string
	}{
		{"header message", 400, `{"header":{"status":"error","message":"The key is invalid."}}`, KindServerReported, "The key is invalid."},
		{"top level message", 500, `{"message":"boom"}`, KindServerReported, "boom"},
		{"html body", 502, `<html>bad gateway</html>`, KindTransport, "unexpected response status 502 Bad Gateway"},
		{"empty body", 404, ``, KindTransport, "unexpected response status 404 Not Found"},
		{"json without message", 500, `{"header":{"status":"error"}}`, KindTransport, "unexpected response status 500 Internal Server Error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := classify(tc.status, []byte(tc.body))
			require.Equal(t, tc.kind, e.Kind)
			require.Equal(t, tc.message, e.Message)
			require.Equal(t, tc.status, e.HTTPStatus)
		})
	}
}

func TestError_IsAndKindOf(t *testing.T) {
	base := &Error{Kind: KindMfaRequired, Message: "other text", HTTPStatus: http.StatusForbidden}
	wrapped := fmt.Errorf("probe: %w", base)

	require.True(t, errors.Is(wrapped, ErrMfaRequired))
	require.Equal(t, KindMfaRequired, KindOf(wrapped))
	require.False(t, IsKind(wrapped, KindTransport))
	require.Equal(t, Kind(""), KindOf(errors.New("plain")))

	cause := errors.New("eof")
	e := newError(KindCryptoFailure, "decrypt", cause)
	require.ErrorIs(t, e, cause)
	require.Contains(t, e.Error(), "crypto_failure")
}

func TestDecodeHeaderToken(t *testing.T) {
	armored := "-----BEGIN PGP MESSAGE-----\n\nwcBMA+ab/cd=\n=XyZ1\n-----END PGP MESSAGE-----"
	require.Equal(t, armored, DecodeHeaderToken(EncodeHeaderToken(armored)))

	// '%' sueltos no rompen el decode
	require.Equal(t, "100% sure", DecodeHeaderToken("100%25 sure"))
	require.Equal(t, "100% sure", DecodeHeaderToken("100% sure"))
	require.Equal(t, "a%", DecodeHeaderToken("a%"))
	// '+' es espacio y las barras se descartan
	require.Equal(t, "BEGIN PGP.MESSAGE", DecodeHeaderToken(`BEGIN+PGP\.MESSAGE`))
}
