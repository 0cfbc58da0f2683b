package engine

import (
	"github.com/stemsi/exstem-proctor/internal/delivery"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// View is the question currently presented.
type View struct {
	Code      string      `json:"code"`
	Prompt    string      `json:"question"`
	Position  int         `json:"position"`
	Remaining int         `json:"remaining"`
	Phase     model.Phase `json:"phase"`
	SkipCount int         `json:"skip_count"`
	CanSkip   bool        `json:"can_skip"`
	Draft     string      `json:"draft,omitempty"`
}

// Listener is the rendering side of a session. Every call happens on the
// session loop and must not block.
type Listener interface {
	OnQuestion(v View)
	OnTick(remaining int)
	OnProgress(p model.Progress)
	OnNotice(n model.Notice)
	OnNoticeCleared()
	// OnGuard asks the platform to re-assert its navigation guard.
	OnGuard()
	OnDeliveryStatus(s delivery.Status)
	OnFinished(s model.Summary)
}

// NopListener ignores every event. Embed it to implement part of Listener.
type NopListener struct{}

func (NopListener) OnQuestion(View)                  {}
func (NopListener) OnTick(int)                       {}
func (NopListener) OnProgress(model.Progress)        {}
func (NopListener) OnNotice(model.Notice)            {}
func (NopListener) OnNoticeCleared()                 {}
func (NopListener) OnGuard()                         {}
func (NopListener) OnDeliveryStatus(delivery.Status) {}
func (NopListener) OnFinished(model.Summary)         {}
