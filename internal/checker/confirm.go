package checker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/liberodark/check-updates/internal/patching"
)

// PromptConfirmer lists the updates on Out and reads a y/n answer from In.
type PromptConfirmer struct {
	In  io.Reader
	Out io.Writer
}

// Confirm returns true only for an answer of "y" (case-insensitive). A
// closed input counts as a refusal.
func (p PromptConfirmer) Confirm(ctx context.Context, updates []patching.Update) (bool, error) {
	fmt.Fprintln(p.Out, "The following packages will be updated:")
	for _, u := range updates {
		fmt.Fprintln(p.Out, FormatUpdate(u))
	}
	fmt.Fprint(p.Out, "\nProceed with installation? [y/n] ")

	answer := make(chan string, 1)
	errc := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		if err != nil && err != io.EOF {
			errc <- err
			return
		}
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return false, nil
	case err := <-errc:
		return false, err
	case line := <-answer:
		return strings.ToLower(strings.TrimSpace(line)) == "y", nil
	}
}
