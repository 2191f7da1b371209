package server

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/louisbranch/benchhistory/internal/services/history/row"
	"github.com/louisbranch/benchhistory/internal/services/shared/i18nhttp"
)

const rowsBodyID = "execution-rows"

type pageLabels struct {
	Filter string
	Empty  string
	Next   string
}

type pageView struct {
	Lang          string
	Title         string
	AppName       string
	Filter        string
	PageToken     string
	PageSize      int
	NextPageToken string
	LiveURL       string
	Error         string
	Rows          []row.Row
	Languages     []i18nhttp.LanguageOption
	Labels        pageLabels
}

// nextPageURL links to the page after this one with the same filter and size.
func (v pageView) nextPageURL() string {
	query := url.Values{}
	query.Set("page_token", v.NextPageToken)
	if v.Filter != "" {
		query.Set("filter", v.Filter)
	}
	if v.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(v.PageSize))
	}
	query.Set(i18nhttp.LangParam, v.Lang)
	return "/executions?" + query.Encode()
}

// rowsFragment renders the <tbody> contents: the rows, then either the next
// page link or the empty/error message.
func rowsFragment(v pageView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		if v.Error != "" {
			writeMessageRow(&b, "previous-execution__error", v.Error)
			_, err := io.WriteString(w, b.String())
			return err
		}
		if err := row.Rows(v.Rows).Render(ctx, w); err != nil {
			return err
		}
		switch {
		case v.NextPageToken != "":
			next := templ.EscapeString(v.nextPageURL())
			b.WriteString(`<tr class="previous-execution__more"><td colspan="`)
			b.WriteString(strconv.Itoa(row.ColumnSpan))
			b.WriteString(`"><a href="`)
			b.WriteString(next)
			b.WriteString(`" hx-get="`)
			b.WriteString(next)
			b.WriteString(`" hx-target="closest tr" hx-swap="outerHTML">`)
			b.WriteString(templ.EscapeString(v.Labels.Next))
			b.WriteString(`</a></td></tr>`)
		case len(v.Rows) == 0 && v.PageToken == "":
			writeMessageRow(&b, "previous-execution__empty", v.Labels.Empty)
		}
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func writeMessageRow(b *strings.Builder, class string, text string) {
	b.WriteString(`<tr class="`)
	b.WriteString(class)
	b.WriteString(`"><td colspan="`)
	b.WriteString(strconv.Itoa(row.ColumnSpan))
	b.WriteString(`">`)
	b.WriteString(templ.EscapeString(text))
	b.WriteString(`</td></tr>`)
}

const liveFeedScript = `<script>
(function () {
  var body = document.getElementById("` + rowsBodyID + `");
  if (!body || !body.dataset.live || !window.WebSocket) return;
  var scheme = location.protocol === "https:" ? "wss://" : "ws://";
  var socket = new WebSocket(scheme + location.host + body.dataset.live);
  socket.onmessage = function (event) {
    var frame = JSON.parse(event.data);
    if (frame.type !== "execution.recorded" || !frame.payload) return;
    if (document.getElementById("execution-" + frame.payload.uuid)) return;
    var empty = body.querySelector(".previous-execution__empty");
    if (empty) empty.remove();
    body.insertAdjacentHTML("afterbegin", frame.payload.html);
  };
})();
</script>`

// historyPage renders the full history document around rowsFragment.
func historyPage(v pageView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<!DOCTYPE html><html lang="`)
		b.WriteString(templ.EscapeString(v.Lang))
		b.WriteString(`"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1">`)
		b.WriteString(`<title>`)
		b.WriteString(templ.EscapeString(v.Title + " · " + v.AppName))
		b.WriteString(`</title><script src="https://unpkg.com/htmx.org@2.0.4"></script></head><body><main class="history">`)
		b.WriteString(`<h1>`)
		b.WriteString(templ.EscapeString(v.Title))
		b.WriteString(`</h1><nav class="history__languages">`)
		for _, option := range v.Languages {
			b.WriteString(`<a href="`)
			b.WriteString(templ.EscapeString(option.URL))
			b.WriteString(`"`)
			if option.Active {
				b.WriteString(` aria-current="true"`)
			}
			b.WriteString(`>`)
			b.WriteString(templ.EscapeString(option.Label))
			b.WriteString(`</a>`)
		}
		b.WriteString(`</nav>`)
		b.WriteString(`<form class="history__filter" action="/executions" method="get" hx-get="/executions" hx-target="#` + rowsBodyID + `" hx-swap="innerHTML">`)
		b.WriteString(`<input type="hidden" name="lang" value="`)
		b.WriteString(templ.EscapeString(v.Lang))
		b.WriteString(`"><input type="search" name="filter" value="`)
		b.WriteString(templ.EscapeString(v.Filter))
		b.WriteString(`" placeholder="type_of = &#34;cron&#34;"><button type="submit">`)
		b.WriteString(templ.EscapeString(v.Labels.Filter))
		b.WriteString(`</button></form>`)
		b.WriteString(`<table class="previous-executions"><tbody id="` + rowsBodyID + `"`)
		if v.LiveURL != "" {
			b.WriteString(` data-live="`)
			b.WriteString(templ.EscapeString(v.LiveURL))
			b.WriteString(`"`)
		}
		b.WriteString(`>`)
		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
		if err := rowsFragment(v).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</tbody></table>`+liveFeedScript+`</main></body></html>`)
		return err
	})
}
