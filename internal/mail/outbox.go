package mail

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// OutboxSender writes each message as an .eml file into a directory
// instead of sending it. Useful for dry runs and for hosts that hand mail
// off to another process.
type OutboxSender struct {
	dir  string
	from string
	now  func() time.Time
}

// NewOutboxSender creates an outbox sender rooted at dir.
func NewOutboxSender(dir, from string) *OutboxSender {
	return &OutboxSender{dir: dir, from: from, now: time.Now}
}

// Send implements Sender.
func (o *OutboxSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.From == "" {
		msg.From = o.from
	}

	now := o.now()
	data, err := Compose(msg, now)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(o.dir, 0755); err != nil {
		return fmt.Errorf("creating outbox: %w", err)
	}

	tmp, err := os.CreateTemp(o.dir, ".message-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	name := strconv.FormatInt(now.Unix(), 10) + "-" + uuid.NewString() + ".eml"
	if err := os.Rename(tmpPath, filepath.Join(o.dir, name)); err != nil {
		return fmt.Errorf("renaming message: %w", err)
	}
	return nil
}
