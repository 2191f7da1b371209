package row

import "strings"

// Row is the display model for one execution. All values are final text.
type Row struct {
	// ID is the full execution UUID, used for element ids and lookups.
	ID         string
	UUID       string
	SHA        string
	CommitURL  string
	StartedAt  string
	FinishedAt string
	Type       string
	PullNB     string
	GoVersion  string
	Labels     Labels
}

// Labels holds the localized field captions.
type Labels struct {
	UUID      string
	SHA       string
	Started   string
	Finished  string
	Type      string
	PR        string
	GoVersion string
}

// Field is one caption/value pair in display order. Href is set for linked values.
type Field struct {
	Key   string
	Label string
	Value string
	Href  string
}

// Fields returns the row's seven fields in display order.
func (r Row) Fields() []Field {
	return []Field{
		{Key: "uuid", Label: r.Labels.UUID, Value: r.UUID},
		{Key: "sha", Label: r.Labels.SHA, Value: r.SHA, Href: r.CommitURL},
		{Key: "started", Label: r.Labels.Started, Value: r.StartedAt},
		{Key: "finished", Label: r.Labels.Finished, Value: r.FinishedAt},
		{Key: "type", Label: r.Labels.Type, Value: r.Type},
		{Key: "pr", Label: r.Labels.PR, Value: r.PullNB},
		{Key: "go_version", Label: r.Labels.GoVersion, Value: r.GoVersion},
	}
}

// Text renders the row as "Label → value" lines for terminal output.
func (r Row) Text() string {
	var b strings.Builder
	for _, field := range r.Fields() {
		b.WriteString(field.Label)
		b.WriteString(" → ")
		b.WriteString(field.Value)
		if field.Href != "" {
			b.WriteString(" (")
			b.WriteString(field.Href)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}
