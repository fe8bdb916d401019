package rosebuild

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ConfirmationPolicy decides whether the run pauses for the operator.
// It is chosen once at startup; stages never look at the unattended flag.
type ConfirmationPolicy interface {
	// Confirm asks a yes/no question. Empty input means yes.
	Confirm(format string, a ...any) bool
	// Choose reads a free-form answer; def is returned for empty input.
	Choose(prompt, def string) (string, error)
	// Interactive reports whether answers come from a person.
	Interactive() bool
}

// NewConfirmationPolicy returns the auto-accepting policy for unattended runs
// and the prompting policy otherwise.
func NewConfirmationPolicy(unattended bool, in io.Reader) ConfirmationPolicy {
	if unattended {
		return autoAccept{}
	}
	return &promptPolicy{reader: bufio.NewReader(in)}
}

// newPipedPolicy reads free-form answers such as the stage selection from a
// stdin that is not a terminal. Nobody is there to answer yes/no questions,
// so those are accepted.
func newPipedPolicy(in io.Reader) ConfirmationPolicy {
	return pipedPolicy{&promptPolicy{reader: bufio.NewReader(in)}}
}

type pipedPolicy struct{ *promptPolicy }

func (pipedPolicy) Confirm(format string, a ...any) bool { return autoAccept{}.Confirm(format, a...) }
func (pipedPolicy) Interactive() bool                    { return false }

type autoAccept struct{}

func (autoAccept) Confirm(format string, a ...any) bool {
	debugf("auto-accept: %s\n", fmt.Sprintf(format, a...))
	return true
}

func (autoAccept) Choose(prompt, def string) (string, error) { return def, nil }
func (autoAccept) Interactive() bool                         { return false }

// promptPolicy reads answers from a line-oriented reader.
type promptPolicy struct {
	mu     sync.Mutex
	reader *bufio.Reader
}

func (p *promptPolicy) Interactive() bool { return true }

func (p *promptPolicy) Confirm(format string, a ...any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	mainPrompt := fmt.Sprintf(format, a...)
	fullPrompt := fmt.Sprintf("%s [Y/n]: ", mainPrompt)

	for {
		colArrow.Print("-> ")
		cPrintf(colNote, "%s", fullPrompt)
		response, err := p.reader.ReadString('\n')
		response = strings.ToLower(strings.TrimSpace(response))
		if err != nil && response == "" {
			return false // On error (like Ctrl+D), default to "no"
		}

		if response == "y" || response == "yes" || response == "" {
			return true
		}
		if response == "n" || response == "no" {
			return false
		}
		cPrintln(colWarn, "Invalid input.")
		if err != nil {
			return false
		}
	}
}

func (p *promptPolicy) Choose(prompt, def string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	colArrow.Print("-> ")
	cPrintf(colNote, "%s [%s]: ", prompt, def)
	response, err := p.reader.ReadString('\n')
	response = strings.TrimSpace(response)
	if err != nil && response == "" {
		if err == io.EOF {
			return def, nil
		}
		return "", err
	}
	if response == "" {
		return def, nil
	}
	return response, nil
}
