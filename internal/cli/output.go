package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"

	"github.com/rzpsarthak13/offlinesync/pkg/offlinesync"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation ran and failed
	ExitCommandError = 2 // bad config, unreachable storage and similar
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not an
// ExitError map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// printer writes command results as JSON or aligned text.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(opts *RootOptions, w io.Writer) *printer {
	return &printer{format: opts.Format, w: w}
}

func (p *printer) json(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(p.w, string(data))
	return err
}

func (p *printer) entries(entries []*offlinesync.QueueEntry) error {
	if p.format == "json" {
		if entries == nil {
			entries = []*offlinesync.QueueEntry{}
		}
		return p.json(entries)
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(p.w, "No entries.")
		return err
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tCOLLECTION\tTARGET\tSTATUS\tRETRIES\tENQUEUED\tLAST ERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.Kind, e.Collection, e.TargetID, e.Status, e.RetryCount,
			e.EnqueuedAt.Format(time.RFC3339), e.LastError)
	}
	return tw.Flush()
}

func (p *printer) count(verb string, n int) error {
	if p.format == "json" {
		return p.json(map[string]int{"count": n})
	}
	_, err := fmt.Fprintf(p.w, "%s %d\n", verb, n)
	return err
}

func (p *printer) stats(s *offlinesync.Stats) error {
	if p.format == "json" {
		return p.json(s)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "online\t%t\n", s.Online)
	fmt.Fprintf(tw, "pending\t%d\n", s.Pending)
	fmt.Fprintf(tw, "failed\t%d\n", s.Failed)
	names := make([]string, 0, len(s.Collections))
	for c := range s.Collections {
		names = append(names, c)
	}
	sort.Strings(names)
	for _, c := range names {
		fmt.Fprintf(tw, "records[%s]\t%d\n", c, s.Collections[c])
	}
	if s.LastDrain != nil {
		fmt.Fprintf(tw, "last drain\t%s (%d succeeded, %d failed)\n",
			s.LastDrain.FinishedAt.Format(time.RFC3339), s.LastDrain.Succeeded, s.LastDrain.Failed)
	}
	return tw.Flush()
}

func (p *printer) report(r offlinesync.DrainReport) error {
	if p.format == "json" {
		return p.json(r)
	}
	if _, err := fmt.Fprintf(p.w, "succeeded %d, retrying %d, failed %d, deferred %d, remaining %d\n",
		r.Succeeded, r.Retrying, r.Failed, r.Deferred, r.Remaining); err != nil {
		return err
	}
	for _, e := range r.Errors {
		if _, err := fmt.Fprintf(p.w, "  entry %d %s %s/%s: %s\n", e.EntryID, e.Kind, e.Collection, e.TargetID, e.Error); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) records(records []*offlinesync.Record) error {
	if p.format == "json" {
		if records == nil {
			records = []*offlinesync.Record{}
		}
		return p.json(records)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tUPDATED\tFIELDS")
	for _, r := range records {
		state := "synced"
		switch {
		case r.IsProvisional:
			state = "provisional"
		case r.IsTombstoned:
			state = "deleted"
		}
		fields, err := json.Marshal(r.Fields)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, state, r.UpdatedAt.Format(time.RFC3339), fields)
	}
	return tw.Flush()
}
