package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
)

// FileJournal appends serialized events to a file. It is a best-effort
// record of events that could not be published, for manual replay.
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileJournal constructs a FileJournal targeting the given path.
func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

// Append writes one entry to the journal.
func (j *FileJournal) Append(data []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	n, err := j.f.Write(append(data, '\n'))
	if err != nil {
		return err
	}
	if n != len(data)+1 {
		return fmt.Errorf("partial write: wrote %d of %d bytes", n, len(data)+1)
	}
	return j.f.Sync()
}

// Close releases the underlying file handle.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// Journal records events that failed to publish.
type Journal interface {
	Append(data []byte) error
}

// BestEffortPublisher wraps a Publisher and swallows publish failures:
// the failure is logged and journaled, never retried and never surfaced.
type BestEffortPublisher struct {
	next      Publisher
	journal   Journal
	onPublish func(journaled bool)
	logf      func(format string, args ...any)
}

// NewBestEffortPublisher constructs a swallowing publisher. The journal may
// be nil, in which case failures are only logged. onPublish, if non-nil, is
// invoked once per event; journaled marks events that fell through to the
// journal instead of the stream.
func NewBestEffortPublisher(next Publisher, journal Journal, onPublish func(journaled bool), logf func(format string, args ...any)) *BestEffortPublisher {
	if logf == nil {
		logf = log.Printf
	}
	return &BestEffortPublisher{next: next, journal: journal, onPublish: onPublish, logf: logf}
}

// Publish forwards the event and absorbs any failure.
func (p *BestEffortPublisher) Publish(ctx context.Context, ev PaymentEvent) error {
	err := p.next.Publish(ctx, ev)
	if p.onPublish != nil {
		p.onPublish(err != nil)
	}
	if err == nil {
		return nil
	}

	p.logf("publish payment event for order %s failed: %v", ev.OrderID, err)
	if p.journal != nil {
		data, marshalErr := json.Marshal(ev)
		if marshalErr != nil {
			p.logf("journal payment event for order %s: %v", ev.OrderID, marshalErr)
			return nil
		}
		if journalErr := p.journal.Append(data); journalErr != nil {
			p.logf("journal payment event for order %s: %v", ev.OrderID, journalErr)
		}
	}
	return nil
}
