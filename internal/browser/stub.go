package browser

import (
	"context"
	"time"
)

// StubCall records one interaction against the Stub.
type StubCall struct {
	Method   string
	Selector string
	Value    string
}

// Stub is a scriptable in-memory Controller for tests. Zero value is usable:
// every lookup misses and every action succeeds. Script failures via FailOn,
// keyed either "Method" or "Method:selector".
type Stub struct {
	PageURL   string
	PageTitle string
	BodyText  string

	Counts    map[string]int
	Attrs     map[string]map[string]string
	Inputs    map[string]string
	Texts     map[string]string
	Visible   map[string]bool
	FrameList []FrameInfo
	Shot      []byte

	FailOn map[string]error
	Calls  []StubCall

	// OnNavigate, when set, lets a test mutate the stub page per navigation.
	OnNavigate func(url string)

	// EvalResult is returned verbatim from Eval.
	EvalResult any
}

var _ Controller = (*Stub)(nil)

func (s *Stub) record(method, selector, value string) {
	s.Calls = append(s.Calls, StubCall{Method: method, Selector: selector, Value: value})
}

func (s *Stub) fail(method, selector string) error {
	if s.FailOn == nil {
		return nil
	}
	if err, ok := s.FailOn[method+":"+selector]; ok {
		return err
	}
	if err, ok := s.FailOn[method]; ok {
		return err
	}
	return nil
}

// CallsTo returns the selectors of all recorded calls for one method.
func (s *Stub) CallsTo(method string) []StubCall {
	var out []StubCall
	for _, c := range s.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (s *Stub) Close(ctx context.Context) error { return nil }

func (s *Stub) Navigate(ctx context.Context, url string) error {
	s.record("Navigate", url, "")
	if err := s.fail("Navigate", url); err != nil {
		return err
	}
	s.PageURL = url
	if s.OnNavigate != nil {
		s.OnNavigate(url)
	}
	return nil
}

func (s *Stub) URL() string   { return s.PageURL }
func (s *Stub) Title() string { return s.PageTitle }

func (s *Stub) VisibleText(ctx context.Context) (string, error) {
	return s.BodyText, s.fail("VisibleText", "")
}

func (s *Stub) Count(ctx context.Context, selector string) (int, error) {
	if err := s.fail("Count", selector); err != nil {
		return 0, err
	}
	return s.Counts[selector], nil
}

func (s *Stub) TextContent(ctx context.Context, selector string) (string, error) {
	if err := s.fail("TextContent", selector); err != nil {
		return "", err
	}
	return s.Texts[selector], nil
}

func (s *Stub) AttrValue(ctx context.Context, selector, attr string) (string, error) {
	if err := s.fail("AttrValue", selector); err != nil {
		return "", err
	}
	return s.Attrs[selector][attr], nil
}

func (s *Stub) InputValue(ctx context.Context, selector string) (string, error) {
	if err := s.fail("InputValue", selector); err != nil {
		return "", err
	}
	return s.Inputs[selector], nil
}

func (s *Stub) IsVisible(ctx context.Context, selector string) bool {
	if v, ok := s.Visible[selector]; ok {
		return v
	}
	return s.Counts[selector] > 0
}

func (s *Stub) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	s.record("WaitFor", selector, "")
	return s.fail("WaitFor", selector)
}

func (s *Stub) Click(ctx context.Context, selector string) error {
	s.record("Click", selector, "")
	return s.fail("Click", selector)
}

func (s *Stub) ClickText(ctx context.Context, text string, exact bool) error {
	s.record("ClickText", text, "")
	return s.fail("ClickText", text)
}

func (s *Stub) ClickRole(ctx context.Context, role, name string) error {
	s.record("ClickRole", role, name)
	return s.fail("ClickRole", role)
}

func (s *Stub) Fill(ctx context.Context, selector, value string) error {
	s.record("Fill", selector, value)
	if err := s.fail("Fill", selector); err != nil {
		return err
	}
	if s.Inputs == nil {
		s.Inputs = map[string]string{}
	}
	s.Inputs[selector] = value
	return nil
}

func (s *Stub) Clear(ctx context.Context, selector string) error {
	s.record("Clear", selector, "")
	return s.fail("Clear", selector)
}

func (s *Stub) Type(ctx context.Context, selector, text string, perKeyDelay time.Duration) error {
	s.record("Type", selector, text)
	return s.fail("Type", selector)
}

func (s *Stub) Press(ctx context.Context, selector, key string) error {
	s.record("Press", selector, key)
	return s.fail("Press", selector)
}

func (s *Stub) Focus(ctx context.Context, selector string) error {
	s.record("Focus", selector, "")
	return s.fail("Focus", selector)
}

func (s *Stub) SelectByLabel(ctx context.Context, selector, label string) error {
	s.record("SelectByLabel", selector, label)
	return s.fail("SelectByLabel", selector)
}

func (s *Stub) SelectByValue(ctx context.Context, selector, value string) error {
	s.record("SelectByValue", selector, value)
	return s.fail("SelectByValue", selector)
}

func (s *Stub) Frames() []FrameInfo { return s.FrameList }

func (s *Stub) FrameFill(ctx context.Context, frameMatch, selector, value string) error {
	s.record("FrameFill", frameMatch+"|"+selector, value)
	return s.fail("FrameFill", selector)
}

func (s *Stub) FrameClick(ctx context.Context, frameMatch, selector string) error {
	s.record("FrameClick", frameMatch+"|"+selector, "")
	return s.fail("FrameClick", selector)
}

func (s *Stub) Screenshot(ctx context.Context) ([]byte, error) {
	if err := s.fail("Screenshot", ""); err != nil {
		return nil, err
	}
	return s.Shot, nil
}

func (s *Stub) Eval(ctx context.Context, script string, arg any) (any, error) {
	if err := s.fail("Eval", ""); err != nil {
		return nil, err
	}
	return s.EvalResult, nil
}
