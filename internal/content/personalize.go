// Package content turns a campaign body into the per-recipient message:
// name personalization, click tracking, the unsubscribe footer, the open
// pixel, and the List-Unsubscribe headers.
package content

import (
	"crypto/md5"
	"fmt"
	"html"
	"log"
	"regexp"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/campaign-mailer/internal/domain"
	"github.com/ignite/campaign-mailer/internal/tracking"
)

// FallbackName replaces the name placeholder when a recipient has no name.
const FallbackName = "Valued Customer"

var (
	hrefPattern = regexp.MustCompile(`href="(https?://[^"]+)"`)
	namePattern = regexp.MustCompile(`\{\{\s*(name|first_name)\s*\}\}`)
)

// Input is everything needed to build one recipient's message.
type Input struct {
	Campaign  *domain.Campaign
	Recipient *domain.Recipient
	Token     string
	BaseURL   string

	// Sender defaults used when the campaign does not set its own.
	FromEmail string
	FromName  string
}

// Personalizer renders campaign bodies with Liquid. Parsed templates are
// cached per campaign and content.
type Personalizer struct {
	engine *liquid.Engine
	signer *tracking.Signer
	cache  sync.Map // map[string]*liquid.Template
}

// NewPersonalizer creates a personalizer that signs tracking links with signer.
func NewPersonalizer(signer *tracking.Signer) *Personalizer {
	return &Personalizer{engine: liquid.NewEngine(), signer: signer}
}

// Message builds the outgoing message for in.
func (p *Personalizer) Message(in Input) *domain.EmailMessage {
	c, r := in.Campaign, in.Recipient
	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = FallbackName
	}
	unsubURL := tracking.UnsubscribeURL(in.BaseURL, in.Token, c.ID)

	bindings := map[string]any{
		"name":            html.EscapeString(name),
		"first_name":      html.EscapeString(strings.Fields(name)[0]),
		"email":           html.EscapeString(r.Email),
		"unsubscribe_url": unsubURL,
	}
	body := p.render(c.ID+":body", c.HTMLContent, bindings)
	body = p.trackLinks(body, in.BaseURL, r.ID, c.ID)
	body = appendFooter(body, unsubURL)
	body = injectPixel(body, p.signer.OpenURL(in.BaseURL, r.ID, c.ID))

	subjectBindings := map[string]any{"name": name, "first_name": strings.Fields(name)[0]}
	fromEmail, fromName := c.FromEmail, c.FromName
	if fromEmail == "" {
		fromEmail = in.FromEmail
	}
	if fromName == "" {
		fromName = in.FromName
	}

	return &domain.EmailMessage{
		To:        r.Email,
		ToName:    strings.TrimSpace(r.Name),
		FromName:  fromName,
		FromEmail: fromEmail,
		Subject:   p.render(c.ID+":subject", c.Subject, subjectBindings),
		HTML:      body,
		Headers: map[string]string{
			"List-Unsubscribe":      "<" + unsubURL + ">",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		},
		CampaignID:  c.ID,
		RecipientID: r.ID,
	}
}

// render executes src as a Liquid template. A template that fails to parse
// or render gets plain placeholder substitution instead, so a stray brace
// in a body never blocks a send.
func (p *Personalizer) render(key, src string, bindings map[string]any) string {
	if !strings.Contains(src, "{{") && !strings.Contains(src, "{%") {
		return src
	}
	key = fmt.Sprintf("%s:%x", key, md5.Sum([]byte(src)))

	var tpl *liquid.Template
	if cached, ok := p.cache.Load(key); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := p.engine.ParseString(src)
		if err != nil {
			log.Printf("[content.Personalizer] parse error, using plain substitution: %v", err)
			return substitute(src, bindings)
		}
		p.cache.Store(key, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(bindings)
	if err != nil {
		log.Printf("[content.Personalizer] render error, using plain substitution: %v", err)
		return substitute(src, bindings)
	}
	return out
}

func substitute(src string, bindings map[string]any) string {
	return namePattern.ReplaceAllStringFunc(src, func(m string) string {
		key := namePattern.FindStringSubmatch(m)[1]
		if v, ok := bindings[key].(string); ok {
			return v
		}
		return m
	})
}

func (p *Personalizer) trackLinks(body, base, rid, cid string) string {
	return hrefPattern.ReplaceAllStringFunc(body, func(m string) string {
		link := html.UnescapeString(hrefPattern.FindStringSubmatch(m)[1])
		if strings.Contains(link, "/unsubscribe") || strings.Contains(link, "/api/track/") {
			return m
		}
		return `href="` + html.EscapeString(p.signer.ClickURL(base, rid, cid, link)) + `"`
	})
}

func appendFooter(body, unsubURL string) string {
	footer := fmt.Sprintf(`<p style="font-size:12px;color:#888;text-align:center;margin-top:24px;">`+
		`You are receiving this email because you subscribed to our updates. `+
		`<a href="%s">Unsubscribe</a></p>`, html.EscapeString(unsubURL))
	return insertBeforeBodyEnd(body, footer)
}

func injectPixel(body, pixelURL string) string {
	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" alt="" style="display:none" />`, html.EscapeString(pixelURL))
	return insertBeforeBodyEnd(body, pixel)
}

func insertBeforeBodyEnd(body, fragment string) string {
	idx := strings.LastIndex(strings.ToLower(body), "</body>")
	if idx < 0 {
		return body + fragment
	}
	return body[:idx] + fragment + body[idx:]
}
