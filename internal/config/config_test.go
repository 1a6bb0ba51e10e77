package config_test

import (
	"strings"
	"testing"

	"rootra/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if cfg.Service.Name != "rootra" {
		t.Fatalf("service name = %s", cfg.Service.Name)
	}
	if cfg.Batches.IDPrefix != "HB" {
		t.Fatalf("id prefix = %s", cfg.Batches.IDPrefix)
	}
	if cfg.Certificates.ExpiringWindowDays != 3 {
		t.Fatalf("expiring window = %d", cfg.Certificates.ExpiringWindowDays)
	}
	if !cfg.HerbKnown("turmeric") || !cfg.HerbKnown("Haldi") {
		t.Fatal("herb catalog lookup failed")
	}
	if cfg.HerbKnown("Saffron") {
		t.Fatal("unknown herb reported as known")
	}
}

func TestDefaultYAMLRoundTrip(t *testing.T) {
	cfg, err := config.Parse([]byte(config.DefaultYAML()))
	if err != nil {
		t.Fatal(err)
	}
	out, err := cfg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	reparsed, err := config.Parse(out)
	if err != nil {
		t.Fatalf("reparse marshalled config: %v", err)
	}
	if reparsed.Batches.IDPrefix != cfg.Batches.IDPrefix {
		t.Fatalf("id prefix changed across round trip: %s", reparsed.Batches.IDPrefix)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	doc := config.DefaultYAML() + "mystery:\n  knob: 1\n"
	if _, err := config.Parse([]byte(doc)); err == nil {
		t.Fatal("unknown top-level field accepted")
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{
			"missing service name",
			"service:\n  name: \"\"\nbatches:\n  id_prefix: HB\n",
			"service.name",
		},
		{
			"missing id prefix",
			"service:\n  name: rootra\nbatches:\n  id_prefix: \"\"\n",
			"id_prefix",
		},
		{
			"duplicate herb",
			"service:\n  name: rootra\nbatches:\n  id_prefix: HB\n  herbs:\n    - name: Tulsi\n    - name: tulsi\n",
			"duplicate",
		},
		{
			"bad webhook url",
			"service:\n  name: rootra\nbatches:\n  id_prefix: HB\nnotifications:\n  webhooks:\n    - url: ftp://example.com/hook\n",
			"http(s)",
		},
		{
			"negative expiring window",
			"service:\n  name: rootra\nbatches:\n  id_prefix: HB\ncertificates:\n  expiring_window_days: -1\n",
			"expiring_window_days",
		},
	}
	for _, tc := range cases {
		_, err := config.Parse([]byte(tc.doc))
		if err == nil {
			t.Fatalf("%s: parse succeeded", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestExpiringWindowDefaultsWhenZero(t *testing.T) {
	doc := "service:\n  name: rootra\nbatches:\n  id_prefix: HB\n"
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Certificates.ExpiringWindowDays != 3 {
		t.Fatalf("expiring window = %d, want 3", cfg.Certificates.ExpiringWindowDays)
	}
}
