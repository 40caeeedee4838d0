package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dropDatabas3/gpgauth/internal/security/pgp"
	"github.com/prometheus/client_golang/prometheus"
)

type printer struct {
	w      io.Writer
	format string // "json" | "text"
}

// result imprime v como JSON indentado o text tal cual.
func (p *printer) result(v any, text string) error {
	if p.format == "json" {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(p.w, string(b))
		return err
	}
	_, err := fmt.Fprintln(p.w, text)
	return err
}

func keyView(k *pgp.PublicKey) map[string]any {
	info := k.Info()
	v := map[string]any{
		"fingerprint": info.Fingerprint,
		"keyId":       info.KeyID,
		"userIds":     info.UserIDs,
		"created":     info.Created.UTC().Format(time.RFC3339),
		"revoked":     info.Revoked,
	}
	if info.Expires != nil {
		v["expires"] = info.Expires.UTC().Format(time.RFC3339)
	}
	return v
}

func equalFingerprint(a, b string) bool {
	clean := func(s string) string { return strings.ToUpper(strings.ReplaceAll(s, " ", "")) }
	return clean(a) == clean(b)
}

// metrics imprime los contadores y conteos de histogramas con valor.
func (p *printer) metrics(reg *prometheus.Registry) error {
	if reg == nil {
		return nil
	}
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	samples := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			name := mf.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case m.GetCounter() != nil:
				samples[name] = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				samples[name+"_count"] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	if p.format == "json" {
		return p.result(map[string]any{"metrics": samples}, "")
	}
	names := make([]string, 0, len(samples))
	for n := range samples {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if _, err := fmt.Fprintf(p.w, "%s %g\n", n, samples[n]); err != nil {
			return err
		}
	}
	return nil
}
