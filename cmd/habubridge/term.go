package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// colorCode is an ANSI escape sequence
type colorCode string

const (
	colorReset  colorCode = "\033[0m"
	colorRed    colorCode = "\033[31m"
	colorGreen  colorCode = "\033[32m"
	colorYellow colorCode = "\033[33m"
	colorCyan   colorCode = "\033[36m"
	colorGray   colorCode = "\033[90m"
	colorBold   colorCode = "\033[1m"
)

func colorize(text string, color colorCode, enabled bool) string {
	if !enabled {
		return text
	}
	return string(color) + text + string(colorReset)
}

// isTerminal reports whether f is a character device
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// spinner animates a single status line until stopped
type spinner struct {
	writer  io.Writer
	message string
	frames  []string

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func newSpinner(writer io.Writer, message string) *spinner {
	return &spinner{
		writer:  writer,
		message: message,
		frames:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *spinner) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		for i := 0; ; i++ {
			select {
			case <-ticker.C:
				s.mu.Lock()
				fmt.Fprintf(s.writer, "\r%s %s", s.frames[i%len(s.frames)], s.message)
				s.mu.Unlock()
			case <-s.stop:
				fmt.Fprint(s.writer, "\r\033[K")
				return
			}
		}
	}()
}

// Stop clears the line and returns once the animation goroutine has exited
func (s *spinner) Stop() {
	close(s.stop)
	<-s.done
}
