// Package htmx chooses between full-page and fragment rendering for HTMX
// requests.
package htmx

import (
	"context"
	"html"
	"io"
	"net/http"
	"strings"

	"github.com/a-h/templ"
)

// RequestHeaderKey is the HTMX request header used to detect partial updates.
const RequestHeaderKey = "HX-Request"

// IsHTMXRequest reports whether the request was initiated by HTMX.
func IsHTMXRequest(r *http.Request) bool {
	if r == nil {
		return false
	}
	return strings.EqualFold(r.Header.Get(RequestHeaderKey), "true")
}

// TitleTag formats an escaped `<title>` element.
func TitleTag(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}
	return "<title>" + html.EscapeString(title) + "</title>"
}

// RenderPage renders fragment for HTMX requests and full otherwise. When one
// of them is nil the other is used for both paths. HTMX responses are
// prefixed with a <title> for title, when set.
func RenderPage(w http.ResponseWriter, r *http.Request, status int, fragment templ.Component, full templ.Component, title string) {
	if status <= 0 {
		status = http.StatusOK
	}
	target := full
	if IsHTMXRequest(r) {
		target = withTitle(fragment, title)
		if fragment == nil {
			target = full
		}
	}
	if target == nil {
		target = fragment
	}
	if target == nil {
		w.WriteHeader(status)
		return
	}
	templ.Handler(target, templ.WithStatus(status)).ServeHTTP(w, r)
}

func withTitle(fragment templ.Component, title string) templ.Component {
	if fragment == nil {
		return nil
	}
	tag := TitleTag(title)
	if tag == "" {
		return fragment
	}
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, tag); err != nil {
			return err
		}
		return fragment.Render(ctx, w)
	})
}
