package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/navya123jacob/WhatsappChatbot-Backend/internal/models"
)

// MenuOption is a post-verification menu choice.
type MenuOption int

const (
	OptionNone MenuOption = iota
	OptionOrderStatus
	OptionProductInfo
	OptionWeather
	OptionFAQ
	OptionSubscribe
)

// menuKeywords lists the keywords per option, in matching priority order.
var menuKeywords = []struct {
	option   MenuOption
	number   string
	keywords []string
}{
	{OptionOrderStatus, "1", []string{"order", "status"}},
	{OptionProductInfo, "2", []string{"product", "products", "info"}},
	{OptionWeather, "3", []string{"weather"}},
	{OptionFAQ, "4", []string{"faq", "faqs"}},
	{OptionSubscribe, "5", []string{"subscribe"}},
}

// ParseMenuSelection matches text against option numbers first, then keywords.
func ParseMenuSelection(text string) MenuOption {
	t := normalize(text)
	for _, m := range menuKeywords {
		if t == m.number {
			return m.option
		}
	}
	tokens := strings.FieldsFunc(t, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, m := range menuKeywords {
		for _, kw := range m.keywords {
			for _, tok := range tokens {
				if tok == kw {
					return m.option
				}
			}
		}
	}
	return OptionNone
}

// setStep moves the record to step, clearing any FAQ snapshot not owned by it.
func (t *turn) setStep(step models.ConversationStep, snapshot []int64) {
	if t.rec.Step != step || !equalIDs(t.rec.FaqSnapshot, snapshot) {
		t.rec.Step = step
		t.rec.FaqSnapshot = snapshot
		t.dirty = true
	}
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// menu runs the post-verification sub-machine.
func (e *Engine) menu(ctx context.Context, t *turn, text string) error {
	if normalize(text) == CommandGoBack {
		t.setStep(models.StepAwaitingMenuSelection, nil)
		t.outcome = OutcomeMenuRendered
		t.say(renderMenu(t.rec.Subscribed))
		return nil
	}

	switch t.rec.Step {
	case models.StepAwaitingMenuSelection:
		return e.menuSelection(ctx, t, text)
	case models.StepFaqSelection:
		return e.faqSelection(ctx, t, text)
	default:
		t.setStep(models.StepAwaitingMenuSelection, nil)
		t.outcome = OutcomeMenuRendered
		t.say(renderMenu(t.rec.Subscribed))
		return nil
	}
}

func (e *Engine) menuSelection(ctx context.Context, t *turn, text string) error {
	switch ParseMenuSelection(text) {
	case OptionOrderStatus:
		t.setStep(models.StepMenu, nil)
		t.outcome = OutcomeMenuSelected
		t.say(MsgOrderStatus)
	case OptionProductInfo:
		t.setStep(models.StepMenu, nil)
		t.outcome = OutcomeMenuSelected
		t.say(MsgProductInfo)
	case OptionWeather:
		t.setStep(models.StepMenu, nil)
		t.outcome = OutcomeMenuSelected
		t.say(MsgWeather)
	case OptionFAQ:
		entries, err := e.listFAQs(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			t.setStep(models.StepMenu, nil)
			t.outcome = OutcomeFAQListed
			t.say(MsgNoFAQs)
			return nil
		}
		ids := make([]int64, len(entries))
		for i, entry := range entries {
			ids[i] = entry.ID
		}
		t.setStep(models.StepFaqSelection, ids)
		t.outcome = OutcomeFAQListed
		t.say(renderFAQList(entries))
	case OptionSubscribe:
		t.setStep(models.StepMenu, nil)
		if t.rec.Subscribed {
			t.outcome = OutcomeAlreadySubscribed
			t.say(MsgAlreadySubscribed)
			return nil
		}
		t.rec.Subscribed = true
		t.dirty = true
		t.outcome = OutcomeSubscribed
		t.say(MsgSubscribed)
	default:
		t.outcome = OutcomeMenuInvalid
		t.say(MsgInvalidOption + "\n" + renderMenu(t.rec.Subscribed))
	}
	return nil
}

func (e *Engine) faqSelection(ctx context.Context, t *turn, text string) error {
	snapshot := t.rec.FaqSnapshot
	t.setStep(models.StepMenu, nil)

	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > len(snapshot) {
		t.outcome = OutcomeFAQInvalid
		t.say(MsgInvalidSelection)
		return nil
	}

	entries, err := e.listFAQs(ctx)
	if err != nil {
		return err
	}
	want := snapshot[n-1]
	for _, entry := range entries {
		if entry.ID == want {
			t.outcome = OutcomeFAQAnswered
			t.say(renderFAQAnswer(entry))
			return nil
		}
	}
	t.outcome = OutcomeFAQInvalid
	t.say(MsgInvalidSelection)
	return nil
}

func (e *Engine) listFAQs(ctx context.Context) ([]models.FAQEntry, error) {
	if e.faqs == nil {
		return nil, nil
	}
	entries, err := e.faqs.ListFAQs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list FAQs: %w", err)
	}
	return entries, nil
}
