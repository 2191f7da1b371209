// Package row turns one execution record into the formatted row shown in the
// execution history table.
//
// Building a row is pure: the same record and options always produce the
// same Row, and nothing reads the clock.
package row

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/louisbranch/benchhistory/internal/services/history/execution"
	"golang.org/x/text/message"
)

const (
	// DateLayout renders timestamps as MM/DD/YYYY HH:mm.
	DateLayout = "01/02/2006 15:04"
	// DefaultCommitBaseURL is the repository whose commits executions refer to.
	DefaultCommitBaseURL = "https://github.com/vitessio/vitess"

	uuidDisplayLength = 8
	shaDisplayLength  = 6
)

// Label keys resolved through the i18n catalog.
const (
	LabelUUID        = "history.row.uuid"
	LabelSHA         = "history.row.sha"
	LabelStarted     = "history.row.started"
	LabelFinished    = "history.row.finished"
	LabelType        = "history.row.type"
	LabelPR          = "history.row.pr"
	LabelGoVersion   = "history.row.go_version"
	LabelInvalidDate = "history.row.invalid_date"
)

var fallbackLabels = map[string]string{
	LabelUUID:        "UUID",
	LabelSHA:         "SHA",
	LabelStarted:     "Started",
	LabelFinished:    "Finished",
	LabelType:        "Type",
	LabelPR:          "PR",
	LabelGoVersion:   "Go version",
	LabelInvalidDate: "Invalid date",
}

// Localizer provides translated strings for row labels.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

// Options configures a Renderer.
type Options struct {
	// CommitBaseURL is the repository URL; links are CommitBaseURL/commit/<git_ref>.
	CommitBaseURL string
	// Location is the display timezone. Nil means UTC.
	Location *time.Location
	// Localizer resolves label keys. Nil falls back to English labels.
	Localizer Localizer
}

// Renderer builds rows. The zero value is not usable; call NewRenderer.
type Renderer struct {
	commitBaseURL string
	location      *time.Location
	localizer     Localizer
}

// NewRenderer validates opts and returns a Renderer.
func NewRenderer(opts Options) (Renderer, error) {
	base := strings.TrimSpace(opts.CommitBaseURL)
	if base == "" {
		base = DefaultCommitBaseURL
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return Renderer{}, fmt.Errorf("parse commit base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Renderer{}, fmt.Errorf("commit base url must be http or https: %q", base)
	}
	if parsed.Host == "" {
		return Renderer{}, fmt.Errorf("commit base url must include a host: %q", base)
	}
	location := opts.Location
	if location == nil {
		location = time.UTC
	}
	return Renderer{
		commitBaseURL: strings.TrimRight(base, "/"),
		location:      location,
		localizer:     opts.Localizer,
	}, nil
}

// MustNewRenderer is NewRenderer for static configuration known to be valid.
func MustNewRenderer(opts Options) Renderer {
	renderer, err := NewRenderer(opts)
	if err != nil {
		panic(err)
	}
	return renderer
}

// WithLocalizer returns a copy of r that resolves labels through loc.
func (r Renderer) WithLocalizer(loc Localizer) Renderer {
	r.localizer = loc
	return r
}

// Location returns the display timezone.
func (r Renderer) Location() *time.Location {
	if r.location == nil {
		return time.UTC
	}
	return r.location
}

// CommitURL returns the commit page link for gitRef.
func (r Renderer) CommitURL(gitRef string) string {
	return r.commitBaseURL + "/commit/" + url.PathEscape(gitRef)
}

// Build formats record into a Row. Missing fields render as empty text and
// timestamps that do not parse render as the invalid-date label.
func (r Renderer) Build(record execution.Record) Row {
	return Row{
		ID:         record.UUID,
		UUID:       truncate(record.UUID, uuidDisplayLength),
		SHA:        truncate(record.GitRef, shaDisplayLength),
		CommitURL:  r.CommitURL(record.GitRef),
		StartedAt:  r.FormatTimestamp(record.StartedAt),
		FinishedAt: r.FormatTimestamp(record.FinishedAt),
		Type:       record.TypeOf,
		PullNB:     record.PullNB.String(),
		GoVersion:  record.GolangVersion,
		Labels: Labels{
			UUID:      r.label(LabelUUID),
			SHA:       r.label(LabelSHA),
			Started:   r.label(LabelStarted),
			Finished:  r.label(LabelFinished),
			Type:      r.label(LabelType),
			PR:        r.label(LabelPR),
			GoVersion: r.label(LabelGoVersion),
		},
	}
}

// FormatTimestamp renders value with DateLayout in the display location.
func (r Renderer) FormatTimestamp(value string) string {
	parsed, ok := execution.ParseTimestamp(value, r.Location())
	if !ok {
		return r.label(LabelInvalidDate)
	}
	return parsed.In(r.Location()).Format(DateLayout)
}

func (r Renderer) label(key string) string {
	if r.localizer != nil {
		if value := r.localizer.Sprintf(key); value != "" && value != key {
			return value
		}
	}
	return fallbackLabels[key]
}

// truncate keeps the first n runes of value, or all of it when shorter.
func truncate(value string, n int) string {
	count := 0
	for idx := range value {
		if count == n {
			return value[:idx]
		}
		count++
	}
	return value
}
