package utils

import (
	"strings"

	"github.com/BetterCallFirewall/Intruder/internal/models"
	"github.com/PuerkitoBio/goquery"
)

// maxTitleLen bounds the title stored per result
const maxTitleLen = 256

// Inspection is what the inspector extracts from one response
type Inspection struct {
	Title string
	Forms int
	Flags []string
}

type ResponseInspector struct{}

func NewResponseInspector() *ResponseInspector {
	return &ResponseInspector{}
}

// Inspect extracts the HTML title and form count and tags error pages and reflected payloads.
func (ri *ResponseInspector) Inspect(resp *models.HTTPResponse, payloads []string) Inspection {
	var out Inspection
	if resp == nil || resp.Body == "" {
		return out
	}

	if isHTML(resp.Headers, resp.Body) {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.Body)); err == nil {
			out.Title = cleanTitle(doc.Find("title").First().Text())
			out.Forms = doc.Find("form").Length()
		}
	}

	if ContainsSQLError(resp.Body) {
		out.Flags = append(out.Flags, FlagSQLError)
	}
	if ContainsErrorTrace(resp.Body) {
		out.Flags = append(out.Flags, FlagErrorTrace)
	}
	if Reflected(resp.Body, payloads) {
		out.Flags = append(out.Flags, FlagReflected)
	}
	return out
}

func isHTML(headers map[string]string, body string) bool {
	for k, v := range headers {
		if strings.EqualFold(k, "Content-Type") {
			return strings.Contains(strings.ToLower(v), "html")
		}
	}
	// no content type, sniff
	head := strings.ToLower(strings.TrimSpace(body))
	if len(head) > 512 {
		head = head[:512]
	}
	return strings.HasPrefix(head, "<!doctype html") || strings.Contains(head, "<html")
}

func cleanTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	if len(title) > maxTitleLen {
		title = strings.ToValidUTF8(title[:maxTitleLen], "")
	}
	return title
}
