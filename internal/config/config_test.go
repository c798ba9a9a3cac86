package config

import (
	"reflect"
	"testing"
)

func TestLoad_CORSOrigins(t *testing.T) {
	t.Setenv("SERVER_CORS_ORIGINS", "https://app.example.com, https://admin.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	want := []string{"https://app.example.com", "https://admin.example.com"}
	if !reflect.DeepEqual(cfg.Server.CORSAllowedOrigins, want) {
		t.Fatalf("expected origins %v, got: %v", want, cfg.Server.CORSAllowedOrigins)
	}
}

func TestLoad_CORSOriginsUnsetStaysEmpty(t *testing.T) {
	t.Setenv("SERVER_CORS_ORIGINS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(cfg.Server.CORSAllowedOrigins) != 0 {
		t.Fatalf("expected no origins, got: %v", cfg.Server.CORSAllowedOrigins)
	}
}

func TestSplitList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a,b", []string{"a", "b"}},
		{" a , b ,", []string{"a", "b"}},
		{",,", nil},
	}
	for _, c := range cases {
		if got := splitList(c.in); !reflect.DeepEqual(got, c.want) {
			t.Fatalf("splitList(%q): expected %v, got %v", c.in, c.want, got)
		}
	}
}
