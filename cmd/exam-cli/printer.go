package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/delivery"
	"github.com/stemsi/exstem-proctor/internal/engine"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// printer renders session events as lines of text. It runs on the session loop.
type printer struct {
	w       io.Writer
	current string
}

func (p *printer) OnQuestion(v engine.View) {
	p.current = v.Code
	fmt.Fprintf(p.w, "\n[%s] %s\n", v.Code, v.Prompt)
	if v.Phase == model.PhaseSkippedReview {
		fmt.Fprintln(p.w, "(skipped question)")
	}
	if v.Draft != "" {
		fmt.Fprintf(p.w, "draft: %s\n", v.Draft)
	}
	fmt.Fprintf(p.w, "time left: %ds", v.Remaining)
	if v.CanSkip {
		fmt.Fprint(p.w, "  (/skip to come back later)")
	}
	fmt.Fprintln(p.w)
}

func (p *printer) OnTick(remaining int) {
	if remaining <= 5 || remaining%10 == 0 {
		fmt.Fprintf(p.w, "  %ds left\n", remaining)
	}
}

func (p *printer) OnProgress(pr model.Progress) {
	fmt.Fprintf(p.w, "answered %d of %d\n", pr.Answered, pr.Total)
}

func (p *printer) OnNotice(n model.Notice) {
	if n.State == model.EscalationTerminated {
		fmt.Fprintf(p.w, "\n!!! %s\n", n.Message)
		return
	}
	if n.Remaining == 0 || n.Remaining%5 == 0 {
		fmt.Fprintf(p.w, "\n!!! %s (%ds, /continue or /exit)\n", n.Message, n.Remaining)
	}
}

func (p *printer) OnNoticeCleared() {
	fmt.Fprintln(p.w, "back to the exam")
}

func (p *printer) OnGuard() {}

func (p *printer) OnDeliveryStatus(s delivery.Status) {
	fmt.Fprintf(p.w, "submission: %s\n", s)
}

func (p *printer) OnFinished(s model.Summary) {
	fmt.Fprintln(p.w, strings.Repeat("-", 40))
	switch {
	case s.Aborted:
		fmt.Fprintln(p.w, "Exam exited. Your answers so far were sent.")
	case s.Violated:
		fmt.Fprintf(p.w, "Exam ended: %s. Score %s\n", s.Reason, s.ScoreText())
	default:
		fmt.Fprintf(p.w, "Exam complete. Score %s\n", s.ScoreText())
	}
}
