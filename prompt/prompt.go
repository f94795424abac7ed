// Package prompt asks the user to settle ambiguous schema changes.
package prompt

import (
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
)

var (
	// ErrInterrupted is returned when the user hits Ctrl+C at a prompt.
	ErrInterrupted = errors.New("prompt interrupted")
	// ErrNoAnswer is returned by Scripted when its answers run out.
	ErrNoAnswer = errors.New("no scripted answer left")
)

// Prompter is the interactive side of the difference engine.
type Prompter interface {
	Confirm(message string) (bool, error)
	// Select returns the index of the chosen option.
	Select(message string, options []string) (int, error)
}

// Survey prompts on the terminal.
type Survey struct {
	opts []survey.AskOpt
}

func NewSurvey(opts ...survey.AskOpt) *Survey {
	return &Survey{opts: opts}
}

func (s *Survey) Confirm(message string) (bool, error) {
	var answer bool
	q := &survey.Confirm{Message: message}
	if err := survey.AskOne(q, &answer, s.opts...); err != nil {
		return false, translate(err)
	}
	return answer, nil
}

func (s *Survey) Select(message string, options []string) (int, error) {
	var answer int
	q := &survey.Select{Message: message, Options: options}
	if err := survey.AskOne(q, &answer, s.opts...); err != nil {
		return 0, translate(err)
	}
	return answer, nil
}

func translate(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return ErrInterrupted
	}
	return err
}

// Static answers every question the same way, for non interactive runs.
// Confirm returns Answer and Select picks the last option.
type Static struct {
	Answer bool
}

func (s Static) Confirm(string) (bool, error) { return s.Answer, nil }

func (s Static) Select(_ string, options []string) (int, error) {
	if len(options) == 0 {
		return 0, fmt.Errorf("select without options")
	}
	return len(options) - 1, nil
}

// Asked is one recorded question.
type Asked struct {
	Message string
	Options []string
}

// Scripted replays queued answers and records every question asked.
// Confirms and selects are queued separately.
type Scripted struct {
	Confirms []bool
	Selects  []int
	Asked    []Asked
}

func (s *Scripted) Confirm(message string) (bool, error) {
	s.Asked = append(s.Asked, Asked{Message: message})
	if len(s.Confirms) == 0 {
		return false, fmt.Errorf("%w: %s", ErrNoAnswer, message)
	}
	answer := s.Confirms[0]
	s.Confirms = s.Confirms[1:]
	return answer, nil
}

func (s *Scripted) Select(message string, options []string) (int, error) {
	s.Asked = append(s.Asked, Asked{Message: message, Options: append([]string(nil), options...)})
	if len(s.Selects) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoAnswer, message)
	}
	answer := s.Selects[0]
	s.Selects = s.Selects[1:]
	if answer < 0 || answer >= len(options) {
		return 0, fmt.Errorf("scripted answer %d out of range for %q", answer, message)
	}
	return answer, nil
}
