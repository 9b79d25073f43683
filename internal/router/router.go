// Package router classifies inbound message text into coarse intents and
// dispatches each message to exactly one handler.
package router

import (
	"context"
	"strings"
	"unicode"

	"github.com/jmehdipour/whatsapp-gateway/internal/model"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type Intent int

const (
	IntentUnhandled Intent = iota
	IntentOptIn
	IntentOptOut
	IntentHelp
)

func (i Intent) String() string {
	switch i {
	case IntentOptIn:
		return "opt_in"
	case IntentOptOut:
		return "opt_out"
	case IntentHelp:
		return "help"
	default:
		return "unhandled"
	}
}

// Handler reacts to one classified inbound message.
type Handler interface {
	Handle(ctx context.Context, msg model.InboundMessage, conv model.Conversation) error
}

type HandlerFunc func(ctx context.Context, msg model.InboundMessage, conv model.Conversation) error

func (f HandlerFunc) Handle(ctx context.Context, msg model.InboundMessage, conv model.Conversation) error {
	return f(ctx, msg, conv)
}

type Keywords struct {
	OptIn  []string
	OptOut []string
	Help   []string
}

func DefaultKeywords() Keywords {
	return Keywords{
		OptIn:  []string{"start", "subscribe", "yes", "oui"},
		OptOut: []string{"stop", "unsubscribe", "no", "non", "arret"},
		Help:   []string{"help", "aide", "menu"},
	}
}

// Handlers is the set of injected collaborators. A nil handler is a no-op.
type Handlers struct {
	OptIn     Handler
	OptOut    Handler
	Help      Handler
	Unhandled Handler
}

type Router struct {
	optIn    map[string]struct{}
	optOut   map[string]struct{}
	help     map[string]struct{}
	handlers Handlers
}

// New builds a router. Keywords are normalized like message text. A word
// present in both the opt-in and opt-out sets is treated as opt-out.
func New(kw Keywords, h Handlers) *Router {
	r := &Router{
		optIn:    toSet(kw.OptIn),
		optOut:   toSet(kw.OptOut),
		help:     toSet(kw.Help),
		handlers: h,
	}
	for w := range r.optOut {
		delete(r.optIn, w)
	}
	return r
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if n := Normalize(w); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Normalize case-folds text, strips diacritics and trims surrounding
// whitespace, punctuation and symbols, so "  Arrêt! " becomes "arret".
func Normalize(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, text)
	if err != nil {
		s = text
	}
	s = cases.Fold().String(s)

	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
}

func (r *Router) Classify(text string) Intent {
	w := Normalize(text)
	if w == "" {
		return IntentUnhandled
	}
	if _, ok := r.optIn[w]; ok {
		return IntentOptIn
	}
	if _, ok := r.optOut[w]; ok {
		return IntentOptOut
	}
	if _, ok := r.help[w]; ok {
		return IntentHelp
	}
	return IntentUnhandled
}

// Dispatch classifies the message body and invokes exactly one handler.
func (r *Router) Dispatch(ctx context.Context, msg model.InboundMessage, conv model.Conversation) (Intent, error) {
	intent := r.Classify(msg.Body())

	var h Handler
	switch intent {
	case IntentOptIn:
		h = r.handlers.OptIn
	case IntentOptOut:
		h = r.handlers.OptOut
	case IntentHelp:
		h = r.handlers.Help
	default:
		h = r.handlers.Unhandled
	}
	if h == nil {
		return intent, nil
	}
	return intent, h.Handle(ctx, msg, conv)
}
