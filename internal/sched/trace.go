package sched

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

// CSVTrace writes every event as one CSV row.
type CSVTrace struct {
	file   *os.File
	writer *csv.Writer
	err    error
}

// NewCSVTrace creates the trace file at path and writes the header.
func NewCSVTrace(path string) (*CSVTrace, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)

	// write header
	if err := w.Write([]string{"timestamp", "round", "event", "task_id", "priority", "syscall", "result"}); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()
	return &CSVTrace{file: f, writer: w}, nil
}

// Record implements EventSink. The first write error is kept and reported
// by Close.
func (c *CSVTrace) Record(ev Event) {
	if c.err != nil {
		return
	}
	rec := []string{
		ev.Time.Format(time.RFC3339Nano),
		strconv.FormatUint(ev.Round, 10),
		ev.Kind.String(),
		strconv.FormatUint(uint64(ev.TaskID), 10),
		strconv.FormatUint(uint64(ev.Priority), 10),
		strconv.FormatUint(ev.Syscall, 10),
		strconv.Itoa(int(ev.Result)),
	}
	if err := c.writer.Write(rec); err != nil {
		c.err = err
		return
	}
	c.writer.Flush()
	c.err = c.writer.Error()
}

// Close flushes and closes the file.
func (c *CSVTrace) Close() error {
	c.writer.Flush()
	if c.err == nil {
		c.err = c.writer.Error()
	}
	if err := c.file.Close(); err != nil && c.err == nil {
		c.err = err
	}
	return c.err
}
