// Package terminal recognizes page states that need handling outside the
// normal step loop: CAPTCHA challenges, payment iframes and the success
// indicators that end a run.
package terminal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/launchcheck/funnel-harness/internal/browser"
)

// Kind classifies a terminal or abnormal state.
type Kind int

const (
	None Kind = iota
	Captcha
	Payment
	Success
)

func (k Kind) String() string {
	switch k {
	case Captcha:
		return "captcha"
	case Payment:
		return "payment"
	case Success:
		return "success"
	default:
		return "none"
	}
}

// State is one detector verdict. Frame carries the payment-iframe match when
// Kind is Payment.
type State struct {
	Kind   Kind
	Frame  string
	Reason string
}

const (
	defaultCaptchaWait = 3 * time.Minute
	defaultPollEvery   = 5 * time.Second
)

var captchaURLMarkers = []string{"/t/validate", "captcha", "challenge"}

var captchaFrameMarkers = []string{"recaptcha", "hcaptcha", "turnstile"}

var paymentFrameMarkers = []string{"stripe", "braintree", "payment", "checkout.com", "recurly"}

// Detector runs the fixed check order captcha > payment > success once per
// poll cycle.
type Detector struct {
	successURLs      []string
	successSelectors []string
	captchaWait      time.Duration
	pollEvery        time.Duration
	logger           zerolog.Logger
}

// NewDetector builds a detector for one scenario. Empty indicator lists fall
// back to the stock funnel markers.
func NewDetector(successURLs, successSelectors []string, logger zerolog.Logger) *Detector {
	if len(successURLs) == 0 {
		successURLs = []string{"/dashboard", "/confirmation", "/thank-you", "/order-complete"}
	}
	if len(successSelectors) == 0 {
		successSelectors = []string{
			`[data-testid="dashboard"]`,
			`[class*="chat-widget"], iframe[title*="chat"]`,
		}
	}
	return &Detector{
		successURLs:      successURLs,
		successSelectors: successSelectors,
		captchaWait:      defaultCaptchaWait,
		pollEvery:        defaultPollEvery,
		logger:           logger,
	}
}

// Check inspects the current page. CAPTCHA beats payment beats success, so a
// blocked page is never mistaken for progress.
func (d *Detector) Check(ctx context.Context, b browser.Controller) State {
	if reason, ok := d.captchaPresent(b); ok {
		return State{Kind: Captcha, Reason: reason}
	}
	if frame, ok := PaymentFrame(b.Frames()); ok {
		return State{Kind: Payment, Frame: frame}
	}
	url := b.URL()
	for _, marker := range d.successURLs {
		if strings.Contains(url, marker) {
			return State{Kind: Success, Reason: "success url " + marker}
		}
	}
	for _, sel := range d.successSelectors {
		if b.IsVisible(ctx, sel) {
			return State{Kind: Success, Reason: "success element " + sel}
		}
	}
	return State{}
}

func (d *Detector) captchaPresent(b browser.Controller) (string, bool) {
	url := strings.ToLower(b.URL())
	for _, marker := range captchaURLMarkers {
		if strings.Contains(url, marker) {
			return "captcha url marker " + marker, true
		}
	}
	for _, f := range b.Frames() {
		haystack := strings.ToLower(f.URL + " " + f.Name)
		for _, marker := range captchaFrameMarkers {
			if strings.Contains(haystack, marker) {
				return "captcha frame " + marker, true
			}
		}
	}
	return "", false
}

// AwaitCaptcha blocks until the challenge disappears (someone solved it out
// of band) or the wait ceiling elapses. The elapsed ceiling is a step
// failure, not a fatal error; the consecutive-failure threshold upstream
// decides when to give up.
func (d *Detector) AwaitCaptcha(ctx context.Context, b browser.Controller) error {
	deadline := time.Now().Add(d.captchaWait)
	d.logger.Warn().Dur("ceiling", d.captchaWait).Msg("captcha detected, waiting for manual resolution")
	for {
		if _, present := d.captchaPresent(b); !present {
			d.logger.Info().Msg("captcha resolved")
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("captcha unresolved after %s", d.captchaWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.pollEvery):
		}
	}
}

// PaymentFrame returns the marker matching a live payment iframe, if any.
// Fills of card fields must be scoped to that frame's document.
func PaymentFrame(frames []browser.FrameInfo) (string, bool) {
	for _, f := range frames {
		haystack := strings.ToLower(f.URL + " " + f.Name)
		for _, marker := range paymentFrameMarkers {
			if strings.Contains(haystack, marker) {
				return marker, true
			}
		}
	}
	return "", false
}
