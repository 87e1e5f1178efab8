package gcp

import "testing"

func TestContentTypeForKey(t *testing.T) {
	cases := map[string]string{
		"week01/day1/06_document_for_sparky.json": "application/json",
		"week01/day1/02_summary.md":               "text/markdown; charset=utf-8",
		"week01/day1/01_class_name.txt":           "text/plain; charset=utf-8",
		"exports/LatinA_Week01.zip":               "application/zip",
		"blob":                                    "application/octet-stream",
	}
	for key, want := range cases {
		if got := contentTypeForKey(key); got != want {
			t.Fatalf("contentTypeForKey(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestClientOptions(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS_JSON", "")
	if opts := ClientOptions(""); len(opts) != 0 {
		t.Fatalf("expected no options, got %d", len(opts))
	}
	if opts := ClientOptions(`{"type":"service_account"}`); len(opts) != 1 {
		t.Fatalf("expected inline credentials option")
	}
	if opts := ClientOptions("/etc/creds.json"); len(opts) != 1 {
		t.Fatalf("expected file credentials option")
	}
}
