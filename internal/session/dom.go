package session

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"

	"github.com/SirClappington/slotwatch/internal/automation"
	"github.com/SirClappington/slotwatch/internal/matcher"
)

// matches returns the visible elements matching t in document order.
func (h *HTTP) matches(t automation.Target) []*goquery.Selection {
	if h.doc == nil || t.Selector == "" {
		return nil
	}
	want := strings.ToLower(strings.TrimSpace(t.Text))
	var out []*goquery.Selection
	h.doc.Find(t.Selector).Each(func(_ int, s *goquery.Selection) {
		if !visible(s) {
			return
		}
		if want != "" && !strings.Contains(strings.ToLower(textOf(s)), want) {
			return
		}
		out = append(out, s)
	})
	return out
}

func (h *HTTP) first(t automation.Target) *goquery.Selection {
	m := h.matches(t)
	if len(m) == 0 {
		return nil
	}
	return m[0]
}

// visible is false when the element or an ancestor is hidden by attribute
// or inline style.
func visible(s *goquery.Selection) bool {
	if goquery.NodeName(s) == "input" && strings.EqualFold(s.AttrOr("type", ""), "hidden") {
		return false
	}
	for n := s; n.Length() > 0; n = n.Parent() {
		if _, ok := n.Attr("hidden"); ok {
			return false
		}
		if strings.EqualFold(n.AttrOr("aria-hidden", ""), "true") {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(n.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

const hiddenContent = `script, style, noscript, template, [hidden], [aria-hidden=true],
	[style*="display:none"], [style*="display: none"], [style*="visibility:hidden"]`

// textOf is the readable text of an element: the value of button-like inputs,
// otherwise its text without scripts, styles or hidden descendants.
func textOf(s *goquery.Selection) string {
	if goquery.NodeName(s) == "input" {
		return cleanText(s.AttrOr("value", ""))
	}
	c := s.Clone()
	c.Find(hiddenContent).Remove()
	return cleanText(c.Text())
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isSubmitter(s *goquery.Selection) bool {
	typ := strings.ToLower(s.AttrOr("type", ""))
	switch goquery.NodeName(s) {
	case "button":
		return typ == "" || typ == "submit"
	case "input":
		return typ == "submit" || typ == "image"
	}
	return false
}

// hasSubmitter reports whether form shows a control that submits it.
func hasSubmitter(form *goquery.Selection) bool {
	found := false
	form.Find("button, input").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = isSubmitter(s) && visible(s)
		return !found
	})
	return found
}

func isCheckable(s *goquery.Selection) bool {
	typ := strings.ToLower(s.AttrOr("type", ""))
	return goquery.NodeName(s) == "input" && (typ == "checkbox" || typ == "radio")
}

// pickOption finds the option whose label names the location, falling back
// to a value match.
func pickOption(sel *goquery.Selection, label string) *goquery.Selection {
	var hit *goquery.Selection
	sel.Find("option").EachWithBreak(func(_ int, o *goquery.Selection) bool {
		if matcher.LocationMatches(textOf(o), label) || strings.EqualFold(o.AttrOr("value", ""), label) {
			hit = o
			return false
		}
		return true
	})
	return hit
}

// formValues encodes the successful controls of form. Only the submitter,
// if any, contributes a button value.
func formValues(form, submitter *goquery.Selection) url.Values {
	v := url.Values{}
	form.Find("input, select, textarea, button").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}
		if _, off := s.Attr("disabled"); off {
			return
		}
		switch goquery.NodeName(s) {
		case "textarea":
			v.Add(name, s.Text())
		case "select":
			opt := s.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = s.Find("option").First()
			}
			if opt.Length() > 0 {
				v.Add(name, opt.AttrOr("value", textOf(opt)))
			}
		case "button":
			if submitter != nil && s.IsSelection(submitter) {
				v.Add(name, s.AttrOr("value", ""))
			}
		case "input":
			switch strings.ToLower(s.AttrOr("type", "text")) {
			case "checkbox", "radio":
				if _, on := s.Attr("checked"); on {
					v.Add(name, s.AttrOr("value", "on"))
				}
			case "submit", "image":
				if submitter != nil && s.IsSelection(submitter) {
					v.Add(name, s.AttrOr("value", ""))
				}
			case "button", "reset", "file":
			default:
				v.Add(name, s.AttrOr("value", ""))
			}
		}
	})
	return v
}

func (h *HTTP) submit(ctx context.Context, form, submitter *goquery.Selection) error {
	action := form.AttrOr("action", "")
	method := strings.ToUpper(form.AttrOr("method", http.MethodGet))
	if submitter != nil {
		action = submitter.AttrOr("formaction", action)
		method = strings.ToUpper(submitter.AttrOr("formmethod", method))
	}
	target, err := h.resolve(action)
	if err != nil {
		return errors.Wrapf(err, "session: form action %q", action)
	}
	values := formValues(form, submitter)

	var req *http.Request
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		target.RawQuery = values.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	}
	if err != nil {
		return errors.Wrap(err, "session: build form request")
	}
	return h.load(ctx, req)
}
