// Package tracking instruments outgoing messages for open, click and
// unsubscribe measurement, and serves the endpoints those instruments point
// at. Instrumentation is fail-open: a malformed body is sent untracked
// rather than not sent at all.
package tracking

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/doar-mail/doar/internal/email"
	"github.com/doar-mail/doar/internal/pkg/logger"
)

// Injector rewrites message bodies to carry tracking instrumentation. It is
// a pure transformation over content plus message identity; it holds no
// external state.
type Injector struct {
	trackingDomain string
	appURL         string
}

// NewInjector creates an injector producing URLs on the given tracking
// domain, with unsubscribe pages served from appURL.
func NewInjector(trackingDomain, appURL string) *Injector {
	return &Injector{
		trackingDomain: trackingDomain,
		appURL:         strings.TrimRight(appURL, "/"),
	}
}

// Instrument applies open, click and unsubscribe instrumentation, in that
// order, honoring the message's tracking flags.
func (in *Injector) Instrument(e *email.Email) {
	if e.HTMLBody != "" {
		if e.TrackOpens {
			e.HTMLBody = in.AddOpenTracking(e.HTMLBody, e.ID)
		}
		if e.TrackClicks {
			e.HTMLBody = in.AddClickTracking(e.HTMLBody, e.ID)
		}
		e.HTMLBody = in.AddUnsubscribeLink(e.HTMLBody, e.ID)
	}
	if e.TextBody != "" {
		e.TextBody = in.AddUnsubscribeText(e.TextBody, e.ID)
	}
}

// AddOpenTracking inserts a zero-visible-size pixel referencing
// https://{trackingDomain}/t/o/{emailID} immediately before the closing body
// tag, or at the end of the content when no body tag exists. Applying it
// twice yields two pixels; open tracking is not duplicate-guarded.
func (in *Injector) AddOpenTracking(htmlContent, emailID string) string {
	if htmlContent == "" {
		return htmlContent
	}

	pixel := fmt.Sprintf(
		`<img src="%s" alt="" width="1" height="1" border="0" style="height:1px !important;width:1px !important;border-width:0 !important;margin:0 !important;padding:0 !important;" />`,
		html.EscapeString(in.trackingURL("o", emailID, "")))

	return insertBeforeBodyClose(htmlContent, pixel)
}

// AddClickTracking parses the HTML structurally and replaces every anchor
// href with a tracking redirect of the form
// https://{trackingDomain}/t/c/{emailID}?url={original}. Anchors already on
// the tracking domain and mailto:/tel:/sms:/javascript:/fragment links pass
// through unmodified. The original destination is preserved in a
// data-original-url attribute. On any parse or serialize failure the
// original content is returned unchanged.
//
// Anchor rewriting deliberately uses a real HTML parser: attribute order,
// quoting and nested markup make regex rewriting unsafe here. Merge-tag
// personalization stays regex-based in the mailing package.
func (in *Injector) AddClickTracking(htmlContent, emailID string) string {
	if htmlContent == "" {
		return htmlContent
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		logger.Error("failed to parse html for click tracking", "email_id", emailID, "error", err)
		return htmlContent
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		original, ok := sel.Attr("href")
		if !ok || !rewritable(original, in.trackingDomain) {
			return
		}
		sel.SetAttr("href", in.trackingURL("c", emailID, original))
		sel.SetAttr("data-original-url", original)
	})

	tracked, err := doc.Html()
	if err != nil || tracked == "" {
		logger.Error("failed to serialize html for click tracking", "email_id", emailID, "error", err)
		return htmlContent
	}
	return tracked
}

// rewritable reports whether an href should be replaced by a click-tracking
// redirect. Non-HTTP schemes and same-page fragments keep their semantics;
// links already pointing at the tracking domain are left alone.
func rewritable(href, trackingDomain string) bool {
	if strings.Contains(href, trackingDomain) {
		return false
	}
	for _, prefix := range []string{"mailto:", "tel:", "sms:", "javascript:", "#"} {
		if strings.HasPrefix(href, prefix) {
			return false
		}
	}
	return true
}

// AddUnsubscribeLink appends a visible unsubscribe footer before the closing
// body tag. Insertion is skipped when the content already appears to mention
// unsubscribing, in English or Hebrew. The guard is a substring heuristic:
// it can skip when it should not (prose discussing unsubscription) and
// insert twice when phrasing differs.
func (in *Injector) AddUnsubscribeLink(htmlContent, emailID string) string {
	if htmlContent == "" {
		return htmlContent
	}
	if containsUnsubscribeText(htmlContent) {
		return htmlContent
	}

	unsubURL := in.unsubscribeURL(emailID)
	footer := fmt.Sprintf(
		`<div style="text-align:center;font-size:12px;color:#777;margin-top:20px;padding:10px;">אם אינך מעוניין לקבל אימיילים נוספים, <a href="%s" style="color:#777;text-decoration:underline;">לחץ כאן להסרה מרשימת התפוצה</a>.</div>`,
		html.EscapeString(unsubURL))

	return insertBeforeBodyClose(htmlContent, footer)
}

// AddUnsubscribeText is the plain-text analog of AddUnsubscribeLink: an
// unsubscribe URL block after a separator line, guarded by the same
// duplicate-text heuristic.
func (in *Injector) AddUnsubscribeText(textContent, emailID string) string {
	if textContent == "" {
		return textContent
	}
	if containsUnsubscribeText(textContent) {
		return textContent
	}

	return textContent + "\n\n------------------------\n" +
		"אם אינך מעוניין לקבל אימיילים נוספים, בקר בכתובת הבאה להסרה מרשימת התפוצה:\n" +
		in.unsubscribeURL(emailID)
}

// UnsubscribeURL returns the unsubscribe page URL for a message, for use in
// List-Unsubscribe headers.
func (in *Injector) UnsubscribeURL(emailID string) string {
	return in.unsubscribeURL(emailID)
}

func (in *Injector) unsubscribeURL(emailID string) string {
	return in.appURL + "/unsubscribe/" + emailID
}

func (in *Injector) trackingURL(kind, emailID, originalURL string) string {
	u := fmt.Sprintf("https://%s/t/%s/%s", in.trackingDomain, kind, emailID)
	if originalURL != "" {
		u += "?url=" + url.QueryEscape(originalURL)
	}
	return u
}

func containsUnsubscribeText(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "unsubscribe") || strings.Contains(content, "הסרה")
}

// insertBeforeBodyClose places fragment immediately before the closing body
// tag, matched case-insensitively, or appends it when no body tag exists.
func insertBeforeBodyClose(content, fragment string) string {
	idx := strings.LastIndex(strings.ToLower(content), "</body>")
	if idx < 0 {
		return content + fragment
	}
	return content[:idx] + fragment + content[idx:]
}
