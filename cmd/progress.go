package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jacklau/ghstars/internal/ingest"
	"github.com/jacklau/ghstars/internal/pubsub"
)

// progressBar is a simple terminal progress bar.
type progressBar struct {
	total       int
	current     int
	width       int
	description string
	writer      io.Writer
}

// newProgressBar creates a new progress bar.
func newProgressBar(total int, description string, writer io.Writer) *progressBar {
	return &progressBar{
		total:       total,
		width:       30,
		description: description,
		writer:      writer,
	}
}

// Add increments the progress bar by n.
func (p *progressBar) Add(n int) {
	p.Set(p.current + n)
}

// Set moves the progress bar to n, clamped to the total.
func (p *progressBar) Set(n int) {
	p.current = max(0, min(n, p.total))
	p.render()
}

// Finish completes the progress bar and prints a newline.
func (p *progressBar) Finish() {
	p.current = p.total
	p.render()
	fmt.Fprintln(p.writer)
}

// render draws the progress bar to the writer using carriage return.
func (p *progressBar) render() {
	if p.total <= 0 {
		return
	}

	pct := float64(p.current) / float64(p.total)
	filled := min(int(pct*float64(p.width)), p.width)

	bar := strings.Repeat("=", filled) + strings.Repeat(" ", p.width-filled)
	fmt.Fprintf(p.writer, "\r%s [%s] %d/%d", p.description, bar, p.current, p.total)
}

// watchIngest draws an embedding progress bar from the broker's events until
// ctx is cancelled or the ingestion completes or fails. The returned channel
// is closed once drawing has stopped.
func watchIngest(ctx context.Context, broker *pubsub.Broker[ingest.Progress], w io.Writer) <-chan struct{} {
	events := broker.Subscribe(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		var bar *progressBar
		for ev := range events {
			switch ev.Type {
			case pubsub.Started:
				bar = newProgressBar(ev.Payload.Total, "Embedding", w)
				bar.Set(0)
			case pubsub.Progress:
				if bar != nil && ev.Payload.Stage == ingest.StageEmbedding {
					bar.Set(ev.Payload.Done)
				}
			case pubsub.Completed:
				if bar != nil && bar.total > 0 {
					bar.Finish()
				}
				return
			case pubsub.Failed:
				if bar != nil && bar.total > 0 {
					fmt.Fprintln(w)
				}
				return
			}
		}
	}()

	return done
}

// pageReporter returns a fetch page hook that reports progress to w.
func pageReporter(w io.Writer) func(page, fetched int) {
	return func(page, fetched int) {
		fmt.Fprintf(w, "\rFetched page %d (%d repositories)", page, fetched)
	}
}
