package i18nhttp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/text/language"
)

func TestResolveTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		url         string
		cookie      string
		accept      string
		want        language.Tag
		wantPersist bool
	}{
		{name: "query param", url: "/?lang=pt-BR", want: language.BrazilianPortuguese, wantPersist: true},
		{name: "query base language", url: "/?lang=pt", want: language.BrazilianPortuguese, wantPersist: true},
		{name: "cookie", url: "/", cookie: "pt-BR", want: language.BrazilianPortuguese},
		{name: "accept language", url: "/", accept: "pt-PT,pt;q=0.9,en;q=0.5", want: language.BrazilianPortuguese},
		{name: "query wins over cookie", url: "/?lang=en-US", cookie: "pt-BR", want: language.AmericanEnglish, wantPersist: true},
		{name: "unsupported query falls through", url: "/?lang=ja", cookie: "pt-BR", want: language.BrazilianPortuguese},
		{name: "default", url: "/", want: language.AmericanEnglish},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "http://example.com"+tt.url, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: LangCookieName, Value: tt.cookie})
			}
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			tag, persist := ResolveTag(req)
			if tag != tt.want {
				t.Fatalf("tag = %v, want %v", tag, tt.want)
			}
			if persist != tt.wantPersist {
				t.Fatalf("persist = %v, want %v", persist, tt.wantPersist)
			}
		})
	}
}

func TestResolveTagNilRequest(t *testing.T) {
	t.Parallel()

	tag, persist := ResolveTag(nil)
	if tag != Default() || persist {
		t.Fatalf("ResolveTag(nil) = %v, %v", tag, persist)
	}
}

func TestSetLanguageCookie(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	SetLanguageCookie(w, language.BrazilianPortuguese)
	header := w.Header().Get("Set-Cookie")
	if !strings.Contains(header, LangCookieName+"=pt-BR") {
		t.Fatalf("Set-Cookie = %q", header)
	}
}

func TestBuildLanguageOptions(t *testing.T) {
	t.Parallel()

	options := BuildLanguageOptions(language.BrazilianPortuguese, "/executions", "filter=x&page_token=abc", Printer(language.AmericanEnglish))
	if len(options) != 2 {
		t.Fatalf("len(options) = %d, want 2", len(options))
	}
	if options[0].Active || !options[1].Active {
		t.Fatalf("active flags = %v, %v", options[0].Active, options[1].Active)
	}
	if options[1].Label != "Português (Brasil)" {
		t.Fatalf("label = %q", options[1].Label)
	}
	if options[0].URL != "/executions?filter=x&lang=en-US" {
		t.Fatalf("url = %q", options[0].URL)
	}
}

func TestLanguageURL(t *testing.T) {
	t.Parallel()

	got := LanguageURL("", "page=2", "en-US")
	if got != "/?lang=en-US&page=2" {
		t.Fatalf("LanguageURL = %q", got)
	}
}

func TestNormalizeTag(t *testing.T) {
	t.Parallel()

	if got := NormalizeTag("klingon"); got != Default() {
		t.Fatalf("NormalizeTag = %v, want default", got)
	}
	if got := NormalizeTag("pt-BR"); got != language.BrazilianPortuguese {
		t.Fatalf("NormalizeTag = %v", got)
	}
}
