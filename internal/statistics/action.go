package statistics

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

type ActionRecordList struct {
	recordAddChan chan *ActionRecord
	records       map[string]*ActionRecord
	mu            sync.RWMutex

	dumpFile   string
	dumpWriter *bufio.Writer
}

// ActionRecord counts the actions applied per host, action and code.
type ActionRecord struct {
	Host     string
	Action   string
	Code     int
	Count    int
	LastSeen time.Time
}

func (r *ActionRecord) key() string {
	return fmt.Sprintf("%s|%s|%d", r.Host, r.Action, r.Code)
}

func NewActionRecordList(dumpFile string) *ActionRecordList {
	return &ActionRecordList{
		recordAddChan: make(chan *ActionRecord, 100),
		records:       make(map[string]*ActionRecord, 300),
		mu:            sync.RWMutex{},
		dumpFile:      dumpFile,
		dumpWriter:    bufio.NewWriter(nil),
	}
}

// Run drains queued records and dumps them every interval until ctx is
// done, then dumps once more. The returned channel is closed after the
// final dump.
func (l *ActionRecordList) Run(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case record := <-l.recordAddChan:
				l.Add(record)
			case <-ticker.C:
				l.Dump()
			case <-ctx.Done():
				l.drain()
				l.Dump()
				return
			}
		}
	}()
	return done
}

// Enqueue hands a record to the Run loop. It never blocks; records are
// dropped when the queue is full.
func (l *ActionRecordList) Enqueue(record *ActionRecord) {
	select {
	case l.recordAddChan <- record:
	default:
		slog.Debug("action record queue full, dropping record", slog.String("host", record.Host))
	}
}

func (l *ActionRecordList) drain() {
	for {
		select {
		case record := <-l.recordAddChan:
			l.Add(record)
		default:
			return
		}
	}
}

func (l *ActionRecordList) Add(record *ActionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := record.LastSeen
	if seen.IsZero() {
		seen = time.Now()
	}
	if r, exists := l.records[record.key()]; exists {
		r.Count++
		r.LastSeen = seen
	} else {
		l.records[record.key()] = &ActionRecord{
			Host:     record.Host,
			Action:   record.Action,
			Code:     record.Code,
			Count:    1,
			LastSeen: seen,
		}
	}
}

// Snapshot returns copies of the records, highest count first.
func (l *ActionRecordList) Snapshot() []ActionRecord {
	l.mu.RLock()
	out := make([]ActionRecord, 0, len(l.records))
	for _, record := range l.records {
		out = append(out, *record)
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].key() < out[j].key()
	})
	return out
}

func (l *ActionRecordList) Dump() {
	if l.dumpFile == "" {
		return
	}
	f, err := os.Create(l.dumpFile)
	if err != nil {
		slog.Error("os.Create", slog.Any("error", err))
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("os.File.Close", slog.Any("error", err))
		}
	}()

	l.dumpWriter.Reset(f)
	defer func() {
		if err := l.dumpWriter.Flush(); err != nil {
			slog.Error("bufio.Writer.Flush", slog.Any("error", err))
		}
	}()

	for _, record := range l.Snapshot() {
		_, err := fmt.Fprintf(l.dumpWriter, "%s %s %d %d %s\n",
			record.Host, record.Action, record.Code, record.Count, record.LastSeen.Format(time.RFC3339))
		if err != nil {
			slog.Error("Dump fmt.Fprintf", slog.Any("error", err))
		}
	}
}
