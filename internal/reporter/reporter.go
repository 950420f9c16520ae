// Package reporter runs the weekly cycle: read the update log, email the
// report, and clear only what was reported once delivery succeeds.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mordilloSan/go-logger/logger"

	"github.com/gwest/autoupdate-report/internal/mail"
	"github.com/gwest/autoupdate-report/internal/report"
	"github.com/gwest/autoupdate-report/internal/updatelog"
)

// Log is the part of the update log the reporter needs.
type Log interface {
	Exists() bool
	ReadAll() ([]updatelog.Event, error)
	Discard(reported []updatelog.Event) error
}

// Outcome describes what a cycle did.
type Outcome string

const (
	OutcomeNothingToSend Outcome = "nothing_to_send"
	OutcomeSent          Outcome = "sent"
	OutcomeFailed        Outcome = "failed"
)

// Result summarises one cycle.
type Result struct {
	ID      string
	Outcome Outcome
	Events  int
}

// Reporter owns the weekly report lifecycle.
type Reporter struct {
	log        Log
	renderer   *report.Renderer
	sender     mail.Sender
	recipients []string
	from       string
	mu         sync.Mutex
}

// New creates a reporter that mails recipients through sender.
func New(log Log, renderer *report.Renderer, sender mail.Sender, recipients []string, from string) *Reporter {
	return &Reporter{
		log:        log,
		renderer:   renderer,
		sender:     sender,
		recipients: recipients,
		from:       from,
	}
}

// RunWeeklyCycle sends the report for everything in the log. On success
// the reported records are discarded; on failure the log is left as it
// was so the next cycle includes them again. Cycles never overlap.
func (r *Reporter) RunWeeklyCycle(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := Result{ID: uuid.NewString(), Outcome: OutcomeNothingToSend}

	if !r.log.Exists() {
		logger.Debugf("weekly report %s: no update log", res.ID)
		return res, nil
	}

	events, err := r.log.ReadAll()
	if err != nil {
		if errors.Is(err, updatelog.ErrCorrupt) {
			logger.Errorf("weekly report %s: %v", res.ID, err)
		}
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("reading update log: %w", err)
	}
	if len(events) == 0 {
		logger.Debugf("weekly report %s: update log is empty", res.ID)
		return res, nil
	}
	res.Events = len(events)

	rep, err := r.renderer.Render(events)
	if err != nil {
		res.Outcome = OutcomeFailed
		return res, err
	}

	msg := mail.Message{
		From:    r.from,
		To:      r.recipients,
		Subject: rep.Subject,
		Body:    rep.Body,
		Headers: rep.Headers,
	}
	if err := r.sender.Send(ctx, msg); err != nil {
		logger.Warnf("weekly report %s: delivery failed, keeping %d records for next cycle: %v", res.ID, len(events), err)
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("sending weekly report: %w", err)
	}

	if err := r.log.Discard(events); err != nil {
		// The mail went out; the records will be reported again next week.
		logger.Errorf("weekly report %s: sent but could not clear update log: %v", res.ID, err)
		res.Outcome = OutcomeSent
		return res, fmt.Errorf("clearing update log: %w", err)
	}

	logger.InfoKV("weekly report sent", "id", res.ID, "records", len(events), "recipients", len(r.recipients))
	res.Outcome = OutcomeSent
	return res, nil
}
