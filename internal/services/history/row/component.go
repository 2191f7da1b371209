package row

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/a-h/templ"
)

// ColumnSpan is how many table columns one history row covers.
const ColumnSpan = 5

// Component renders the row as a <tr> element.
func (r Row) Component() templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, r.HTML())
		return err
	})
}

// HTML returns the row markup. The commit link opens in a new browsing context.
func (r Row) HTML() string {
	var b strings.Builder
	b.WriteString(`<tr class="previous-execution"`)
	if r.ID != "" {
		b.WriteString(` id="execution-`)
		b.WriteString(templ.EscapeString(r.ID))
		b.WriteString(`"`)
	}
	b.WriteString(`><td colspan="`)
	b.WriteString(strconv.Itoa(ColumnSpan))
	b.WriteString(`"><span class="previous-execution__container">`)
	for _, field := range r.Fields() {
		writeField(&b, field)
	}
	b.WriteString(`</span></td></tr>`)
	return b.String()
}

func writeField(b *strings.Builder, field Field) {
	b.WriteString(`<span class="previous-execution__field" data-field="`)
	b.WriteString(templ.EscapeString(field.Key))
	b.WriteString(`">`)
	b.WriteString(templ.EscapeString(field.Label))
	b.WriteString(` <span class="previous-execution__arrow" aria-hidden="true">→</span> `)
	if field.Href != "" {
		b.WriteString(`<a target="_blank" rel="noopener noreferrer" href="`)
		b.WriteString(templ.EscapeString(string(templ.URL(field.Href))))
		b.WriteString(`">`)
		b.WriteString(templ.EscapeString(field.Value))
		b.WriteString(`</a>`)
	} else {
		b.WriteString(templ.EscapeString(field.Value))
	}
	b.WriteString(`</span>`)
}

// Rows renders rows back to back, for tbody fragments.
func Rows(rows []Row) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		for _, r := range rows {
			if err := r.Component().Render(ctx, w); err != nil {
				return err
			}
		}
		return nil
	})
}
