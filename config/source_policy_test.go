package config

import "testing"

func TestSourcePolicyNormalize(t *testing.T) {
	cfg := SourcePolicyConfig{
		Allow:     []string{"Example.com", "https://news.example.com/path"},
		Block:     []string{"www.Spam.com", "bad.com", ""},
		SkipFetch: []string{"Paywall.com", "PAYWALL.COM"},
	}

	norm := cfg.Normalize()
	if len(norm.Allow) != 2 || norm.Allow[0] != "example.com" || norm.Allow[1] != "news.example.com" {
		t.Fatalf("unexpected allow list: %#v", norm.Allow)
	}
	if len(norm.Block) != 2 || norm.Block[0] != "bad.com" || norm.Block[1] != "spam.com" {
		t.Fatalf("unexpected block list: %#v", norm.Block)
	}
	if len(norm.SkipFetch) != 1 || norm.SkipFetch[0] != "paywall.com" {
		t.Fatalf("unexpected skip_fetch list: %#v", norm.SkipFetch)
	}
}

func TestSourcePolicyValidate(t *testing.T) {
	valid := SourcePolicyConfig{Allow: []string{"example.com"}, Block: []string{"blocked.com"}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	conflict := SourcePolicyConfig{Allow: []string{"example.com"}, Block: []string{"www.example.com"}}
	if err := conflict.Validate(); err == nil {
		t.Fatalf("expected conflict validation error")
	}
}

func TestSourcePolicyPermits(t *testing.T) {
	open := SourcePolicyConfig{Block: []string{"spam.com"}}.Normalize()
	cases := map[string]bool{
		"https://www.spam.com/a":     false,
		"https://cdn.spam.com/a":     false,
		"https://notspam.com/a":      true,
		"https://example.org/report": true,
	}
	for u, want := range cases {
		if got := open.Permits(u); got != want {
			t.Errorf("Permits(%q) = %v, want %v", u, got, want)
		}
	}

	restricted := SourcePolicyConfig{Allow: []string{"nrel.gov"}}.Normalize()
	if !restricted.Permits("https://docs.nrel.gov/x") {
		t.Errorf("expected subdomain of allowed host to pass")
	}
	if restricted.Permits("https://example.org") || restricted.Permits("not a url") {
		t.Errorf("expected hosts outside the allow list to be rejected")
	}
}

func TestSourcePolicyFetchable(t *testing.T) {
	p := SourcePolicyConfig{SkipFetch: []string{"ft.com"}}.Normalize()
	if p.Fetchable("https://www.ft.com/content/1") {
		t.Errorf("expected ft.com to be skipped")
	}
	if !p.Fetchable("https://example.org") {
		t.Errorf("expected example.org to be fetchable")
	}
}
