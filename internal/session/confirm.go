package session

import (
	"log/slog"

	"github.com/acolita/shellpilot/internal/eventbus"
)

func (s *Session) isWaitingConfirm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitingConfirm
}

// onConfirmationPrompt answers a yes/no prompt after a settle delay, then
// waits again before input may be re-enabled. Prompts seen while an answer
// is pending are ignored.
func (s *Session) onConfirmationPrompt(chunk string) {
	reply := s.reg.classifier.ConfirmationResponse(chunk)

	s.mu.Lock()
	s.waitingConfirm = true
	s.inputEnabled = false
	s.mu.Unlock()

	go s.answerConfirmation(reply)
}

func (s *Session) answerConfirmation(reply string) {
	st := s.reg.Settings()
	s.reg.clock.Sleep(st.ConfirmationSettle)

	if s.Status() != StatusRunning {
		s.mu.Lock()
		s.waitingConfirm = false
		s.mu.Unlock()
		return
	}

	line := reply + "\r\n"
	if s.reg.recorder != nil {
		s.reg.recorder.RecordInput(s.ID, line, false)
	}
	err := s.write(line)

	s.mu.Lock()
	s.waitingConfirm = false
	command := s.lastCommand
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("write confirmation", slog.String("error", err.Error()))
		return
	}
	s.reg.metrics.ConfirmationAnswered()
	s.log.Debug("confirmation answered", slog.String("reply", reply))
	s.publish(eventbus.Event{Type: eventbus.EventConfirmationAnswered, Command: command, Output: reply})

	s.reg.clock.Sleep(st.ConfirmationReenable)
	s.becomeIdle()
}
