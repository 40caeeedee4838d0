package util

import "testing"

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"Ada@Example.com": "a…@e….com",
		"a@b.io":          "a@b.io",
		"":                "",
		"abc":             "***",
		"fingerprint":     "f…t",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskDSN(t *testing.T) {
	cases := map[string]string{
		"postgres://gpg:s3cret@db:5432/gpgauth?sslmode=disable": "postgres://gpg:***@db:5432/gpgauth?sslmode=disable",
		"postgres://gpg@db/gpgauth":                              "postgres://gpg@db/gpgauth",
		"host=db user=gpg password=s3cret dbname=gpgauth":        "host=db user=gpg password=*** dbname=gpgauth",
	}
	for in, want := range cases {
		if got := MaskDSN(in); got != want {
			t.Fatalf("MaskDSN(%q) = %q, want %q", in, got, want)
		}
	}
}
