package tile

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// progressBar redraws a one-line tile counter for a zoom level in place.
// Increment may be called from any worker goroutine.
type progressBar struct {
	out      io.Writer
	label    string
	total    int64
	done     atomic.Int64
	width    int
	start    time.Time
	stop     chan struct{}
	finished sync.WaitGroup
	mu       sync.Mutex
}

func newProgressBar(label string, total int64) *progressBar {
	return startProgressBar(os.Stderr, label, total, 100*time.Millisecond)
}

func startProgressBar(out io.Writer, label string, total int64, every time.Duration) *progressBar {
	pb := &progressBar{
		out:   out,
		label: label,
		total: total,
		width: 30,
		start: time.Now(),
		stop:  make(chan struct{}),
	}
	pb.finished.Add(1)
	go pb.loop(every)
	return pb
}

// Increment counts one processed tile.
func (pb *progressBar) Increment() {
	pb.done.Add(1)
}

// Finish stops the refresh loop and leaves the final state on its own line.
func (pb *progressBar) Finish() {
	close(pb.stop)
	pb.finished.Wait()
	pb.draw()
	fmt.Fprintln(pb.out)
}

func (pb *progressBar) loop(every time.Duration) {
	defer pb.finished.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-pb.stop:
			return
		case <-ticker.C:
			pb.draw()
		}
	}
}

func (pb *progressBar) draw() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	fmt.Fprintf(pb.out, "\r%s\033[K", pb.line(pb.done.Load(), time.Since(pb.start)))
}

// line formats the bar for done of total tiles after elapsed.
func (pb *progressBar) line(done int64, elapsed time.Duration) string {
	var frac float64
	if pb.total > 0 {
		frac = min(float64(done)/float64(pb.total), 1)
	}
	filled := int(float64(pb.width) * frac)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", pb.width-filled)

	var rate float64
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(done) / secs
	}
	eta := "--"
	if rate > 0 && done < pb.total {
		eta = formatDuration(time.Duration(float64(pb.total-done) / rate * float64(time.Second)))
	}
	return fmt.Sprintf("%s [%s] %3.0f%%  %d/%d tiles  %.0f/s  %s  eta %s",
		pb.label, bar, frac*100, done, pb.total, rate, formatDuration(elapsed), eta)
}

// formatDuration formats a duration concisely (e.g. "1m23s", "45s", "0s").
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) - m*60
	return fmt.Sprintf("%dm%02ds", m, s)
}
