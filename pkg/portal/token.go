package portal

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const tokenParam = "p_auth"

var (
	// p_auth=XYZ inside a URL string built by a script
	scriptParamRegex = regexp.MustCompile(`p_auth=([a-zA-Z0-9]+)[&\s'"]`)
	// Liferay.authToken = 'XYZ';
	scriptAssignRegex = regexp.MustCompile(`authToken\s*[=:]\s*['"]([a-zA-Z0-9]+)['"]`)
	// the consumption portlet wrapper, e.g. id="p_p_id_MisConsumos_"
	portletIDRegex = regexp.MustCompile(`(?i)p_p_id_MisConsumos`)
)

// TokenStrategy finds a token in a document using one placement the portal
// has been seen to use.
type TokenStrategy struct {
	Name string
	Find func(doc *goquery.Document) (string, bool)
}

// TokenResolver tries each strategy in order and returns the first token
// found.
type TokenResolver struct {
	Strategies []TokenStrategy
}

// NewTokenResolver returns a resolver with the default strategy order:
// script, form action, form hidden input, link, any hidden input.
func NewTokenResolver() *TokenResolver {
	return &TokenResolver{
		Strategies: []TokenStrategy{
			{Name: "script", Find: tokenFromScripts},
			{Name: "form_action", Find: tokenFromFormActions},
			{Name: "form_hidden", Find: tokenFromFormHiddenInputs},
			{Name: "link", Find: tokenFromLinks},
			{Name: "hidden", Find: tokenFromHiddenInputs},
		},
	}
}

// Resolve returns the token and the name of the strategy that found it. ok is
// false if no strategy matched, which is not an error by itself.
func (r *TokenResolver) Resolve(doc *goquery.Document) (token, strategy string, ok bool) {
	for _, s := range r.Strategies {
		if t, found := s.Find(doc); found {
			return t, s.Name, true
		}
	}
	return "", "", false
}

// tokenFromURL returns the p_auth query parameter of a possibly relative URL.
func tokenFromURL(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	t := u.Query().Get(tokenParam)
	return t, t != ""
}

// portletScope narrows form and link lookups to the consumption portlet when
// the page has one.
func portletScope(doc *goquery.Document) *goquery.Selection {
	scope := doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		id, _ := s.Attr("id")
		return portletIDRegex.MatchString(id)
	}).First()
	if scope.Length() == 0 {
		return doc.Selection
	}
	return scope
}

func hiddenTokenInput(s *goquery.Selection) (string, bool) {
	var token string
	s.Find(`input[type="hidden"][name="p_auth"]`).EachWithBreak(func(_ int, in *goquery.Selection) bool {
		token, _ = in.Attr("value")
		return token == ""
	})
	return token, token != ""
}

func tokenFromScripts(doc *goquery.Document) (string, bool) {
	var token string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		body := s.Text()
		if m := scriptParamRegex.FindStringSubmatch(body); m != nil {
			token = m[1]
		} else if m := scriptAssignRegex.FindStringSubmatch(body); m != nil {
			token = m[1]
		}
		return token == ""
	})
	return token, token != ""
}

func tokenFromFormActions(doc *goquery.Document) (string, bool) {
	var token string
	portletScope(doc).Find("form").EachWithBreak(func(_ int, f *goquery.Selection) bool {
		action, _ := f.Attr("action")
		token, _ = tokenFromURL(action)
		return token == ""
	})
	return token, token != ""
}

func tokenFromFormHiddenInputs(doc *goquery.Document) (string, bool) {
	var token string
	portletScope(doc).Find("form").EachWithBreak(func(_ int, f *goquery.Selection) bool {
		token, _ = hiddenTokenInput(f)
		return token == ""
	})
	return token, token != ""
}

func tokenFromLinks(doc *goquery.Document) (string, bool) {
	var token string
	portletScope(doc).Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		token, _ = tokenFromURL(href)
		return token == ""
	})
	return token, token != ""
}

func tokenFromHiddenInputs(doc *goquery.Document) (string, bool) {
	return hiddenTokenInput(doc.Selection)
}
