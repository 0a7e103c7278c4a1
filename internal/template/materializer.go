package template

import (
	"bufio"
	"fmt"
	"net/textproto"
	"strings"

	"github.com/BetterCallFirewall/Intruder/internal/models"
)

// Substitute replaces every marker span with the payload at the same index.
// Spans are rewritten from the highest Start to the lowest so earlier offsets stay valid.
func Substitute(template string, positions []models.Position, values []string) (string, error) {
	if len(values) != len(positions) {
		return "", fmt.Errorf("substitute: %d values for %d positions", len(values), len(positions))
	}

	out := template
	for i := len(positions) - 1; i >= 0; i-- {
		p := positions[i]
		if p.Start < 0 || p.End > len(out) || p.Start >= p.End {
			return "", fmt.Errorf("substitute: position %d [%d,%d) out of range", p.ID, p.Start, p.End)
		}
		if i > 0 && positions[i-1].End > p.Start {
			return "", fmt.Errorf("substitute: positions %d and %d overlap", positions[i-1].ID, p.ID)
		}
		out = out[:p.Start] + values[i] + out[p.End:]
	}
	return out, nil
}

// ParseRequest turns raw HTTP request text into a dispatchable request.
// The URL is resolved against target (scheme://host[:port]) or, when target is empty, the Host header over plain HTTP.
// LF-only line endings are accepted. Content-Length is dropped, the transport recomputes it.
func ParseRequest(raw, target string) (*models.HTTPRequest, error) {
	head, body := splitHead(raw)
	head = strings.ReplaceAll(head, "\r\n", "\n")

	requestLine, headerBlock, _ := strings.Cut(head, "\n")
	method, uri, err := parseRequestLine(requestLine)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string)
	if strings.TrimSpace(headerBlock) != "" {
		reader := textproto.NewReader(bufio.NewReader(strings.NewReader(headerBlock + "\n\n")))
		mime, err := reader.ReadMIMEHeader()
		if err != nil {
			return nil, fmt.Errorf("parse request headers: %w", err)
		}
		for key, values := range mime {
			headers[key] = joinHeader(key, values)
		}
	}
	delete(headers, "Content-Length")

	url, err := resolveURL(uri, target, headers["Host"])
	if err != nil {
		return nil, err
	}

	return &models.HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: headers,
		Body:    body,
	}, nil
}

// joinHeader folds repeated header lines into one value. Cookie pairs are separated by "; ".
func joinHeader(key string, values []string) string {
	if key == "Cookie" {
		return strings.Join(values, "; ")
	}
	return strings.Join(values, ", ")
}

func splitHead(raw string) (head, body string) {
	crlf := strings.Index(raw, "\r\n\r\n")
	lf := strings.Index(raw, "\n\n")
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return raw[:crlf], raw[crlf+4:]
	case lf >= 0:
		return raw[:lf], raw[lf+2:]
	default:
		return strings.TrimRight(raw, "\r\n"), ""
	}
}

// parseRequestLine splits "METHOD URI PROTO" on the first and last space so payloads
// containing spaces stay inside the URI.
func parseRequestLine(line string) (method, uri string, err error) {
	line = strings.TrimSpace(line)
	first := strings.IndexByte(line, ' ')
	last := strings.LastIndexByte(line, ' ')
	if first <= 0 || last <= first {
		return "", "", fmt.Errorf("malformed request line %q", line)
	}
	if !strings.HasPrefix(line[last+1:], "HTTP/") {
		return "", "", fmt.Errorf("malformed request line %q: missing protocol", line)
	}
	return line[:first], line[first+1 : last], nil
}

func resolveURL(uri, target, host string) (string, error) {
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri, nil
	}
	if !strings.HasPrefix(uri, "/") && uri != "*" {
		uri = "/" + uri
	}
	if target != "" {
		return strings.TrimRight(target, "/") + uri, nil
	}
	if host == "" {
		return "", fmt.Errorf("request has no Host header and no target was configured")
	}
	return "http://" + host + uri, nil
}

// Materializer builds concrete requests for one campaign. It is immutable and safe for concurrent use.
type Materializer struct {
	template  string
	positions []models.Position
	target    string
}

// NewMaterializer binds a template and its positions to a target.
func NewMaterializer(template string, positions []models.Position, target string) *Materializer {
	return &Materializer{
		template:  template,
		positions: append([]models.Position(nil), positions...),
		target:    target,
	}
}

// Materialize substitutes one tuple into the template and parses the result.
func (m *Materializer) Materialize(values []string) (*models.HTTPRequest, error) {
	raw, err := Substitute(m.template, m.positions, values)
	if err != nil {
		return nil, err
	}
	req, err := ParseRequest(raw, m.target)
	if err != nil {
		return nil, fmt.Errorf("materialize request: %w", err)
	}
	return req, nil
}
