//go:build !integration

package i18n

import (
	"testing"
	"testing/fstest"
)

func TestTranslator(t *testing.T) {
	translator, err := newTranslatorFromBytes([]byte("greeting: Bonjour\nwelcome_user: Bonjour %s"))
	if err != nil {
		t.Fatalf("newTranslatorFromBytes failed: %v", err)
	}

	t.Run("should translate a simple key", func(t *testing.T) {
		if got, want := translator.T("greeting"), "Bonjour"; got != want {
			t.Errorf("wanted '%s', got '%s'", want, got)
		}
	})

	t.Run("should return key if not found", func(t *testing.T) {
		if got, want := translator.T("nonexistent_key"), "nonexistent_key"; got != want {
			t.Errorf("wanted '%s', got '%s'", want, got)
		}
	})

	t.Run("should format arguments correctly", func(t *testing.T) {
		if got, want := translator.T("welcome_user", "Awa"), "Bonjour Awa"; got != want {
			t.Errorf("wanted '%s', got '%s'", want, got)
		}
	})
}

func TestBundle_For(t *testing.T) {
	fsys := fstest.MapFS{
		"locales/en.yaml": {Data: []byte("error.not_found: Payment not found.")},
		"locales/fr.yaml": {Data: []byte("error.not_found: Paiement introuvable.")},
	}
	b, err := NewBundle(fsys, "en", "fr")
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}

	tests := []struct {
		header string
		want   string
	}{
		{"fr-CI,fr;q=0.9,en;q=0.8", "Paiement introuvable."},
		{"de-DE,en;q=0.5", "Payment not found."},
		{"", "Payment not found."},
		{"FR", "Paiement introuvable."},
	}
	for _, tt := range tests {
		if got := b.For(tt.header).T("error.not_found"); got != tt.want {
			t.Errorf("For(%q): wanted %q, got %q", tt.header, tt.want, got)
		}
	}

	if _, err := NewBundle(fsys, "fr"); err == nil {
		t.Errorf("expected error when the default language is missing")
	}
}

func TestEmbeddedLocalesHaveTheSameKeys(t *testing.T) {
	b, err := NewDefaultBundle()
	if err != nil {
		t.Fatalf("NewDefaultBundle: %v", err)
	}
	en, fr := b.byLang["en"], b.byLang["fr"]
	for k := range en.translations {
		if !fr.Has(k) {
			t.Errorf("fr is missing %q", k)
		}
	}
	for k := range fr.translations {
		if !en.Has(k) {
			t.Errorf("en is missing %q", k)
		}
	}
}
