// Package export writes a guild's most recent violations as CSV.
package export

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tullo/moddash/internal/apperr"
	"github.com/tullo/moddash/internal/models"
)

// DefaultLimit caps how many of the most recent violations are exported.
const DefaultLimit = 1000

// TermSeparator joins blocked terms inside the Blocked Words column.
const TermSeparator = "; "

// ErrNothingToExport is returned instead of writing a file without rows.
var ErrNothingToExport = fmt.Errorf("nothing to export: %w", apperr.ErrNothingToDo)

// Header is the fixed column order.
var Header = []string{"Timestamp", "Username", "User ID", "Channel", "Blocked Words", "Action Taken"}

// LogSource reads pages of violation history.
type LogSource interface {
	GetLogs(ctx context.Context, guildID string, page, limit int) (*models.FeedPage, error)
}

// Job exports one guild's recent history.
type Job struct {
	source LogSource
	limit  int
	log    *slog.Logger
}

// NewJob creates a Job. limit <= 0 means DefaultLimit.
func NewJob(source LogSource, limit int, log *slog.Logger) *Job {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Job{source: source, limit: limit, log: log.With("component", "export")}
}

// Run fetches the newest violations, independent of any page being viewed,
// and writes them to w. Nothing is written when the fetch fails or returns
// no rows. It returns the number of rows written.
func (j *Job) Run(ctx context.Context, guildID string, w io.Writer) (int, error) {
	page, err := j.source.GetLogs(ctx, guildID, 1, j.limit)
	if err != nil {
		return 0, err
	}
	if len(page.Items) == 0 {
		return 0, ErrNothingToExport
	}

	items := page.Items
	if len(items) > j.limit {
		items = items[:j.limit]
	}
	if err := Write(w, items); err != nil {
		return 0, err
	}
	j.log.Info("exported violations", "guild_id", guildID, "rows", len(items))
	return len(items), nil
}

// Filename is the download name for an export made at now.
func Filename(now time.Time) string {
	return "violation-logs-" + now.UTC().Format("2006-01-02") + ".csv"
}

// Write renders the header and one quoted row per event, separated by "\n".
func Write(w io.Writer, events []models.ViolationEvent) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(strings.Join(Header, ","))
	for _, v := range events {
		bw.WriteByte('\n')
		for i, field := range Row(v) {
			if i > 0 {
				bw.WriteByte(',')
			}
			bw.WriteString(quote(field))
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// Row returns the unquoted column values for v.
func Row(v models.ViolationEvent) []string {
	return []string{
		v.DisplayTime(),
		v.ActorName,
		v.ActorID,
		v.ChannelName,
		strings.Join(v.BlockedTerms, TermSeparator),
		v.ActionTaken,
	}
}

// quote wraps s in double quotes and doubles any quote inside it, which
// keeps separators and line breaks in the field intact for any RFC 4180
// reader.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
