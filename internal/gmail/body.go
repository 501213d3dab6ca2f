package gmail

import (
	"encoding/base64"
	"html"
	"regexp"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
)

var (
	scriptBlock = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleBlock  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	htmlTag     = regexp.MustCompile(`(?s)<[^>]*>`)
)

// Message is the text of a mail message plus the headers the extractor uses.
type Message struct {
	ID      string
	Subject string
	From    string
	Date    string

	// Text is the extracted body, or the snippet when the body has no text.
	Text string
}

// NewMessage extracts the text of a full-format Gmail message.
func NewMessage(m *gmail.Message) *Message {
	text := ExtractText(m.Payload)
	if text == "" {
		text = strings.TrimSpace(html.UnescapeString(m.Snippet))
	}
	return &Message{
		ID:      m.Id,
		Subject: HeaderValue(m, "Subject"),
		From:    HeaderValue(m, "From"),
		Date:    HeaderValue(m, "Date"),
		Text:    text,
	}
}

// Empty reports whether the message has no usable text.
func (m *Message) Empty() bool {
	return strings.TrimSpace(m.Text) == ""
}

// ModelInput is the text sent for extraction: a short header block followed
// by the body. It is empty when the message has no text.
func (m *Message) ModelInput() string {
	if m.Empty() {
		return ""
	}
	var b strings.Builder
	for _, h := range []struct{ name, value string }{
		{"Subject", m.Subject},
		{"From", m.From},
		{"Date", m.Date},
	} {
		if h.value != "" {
			b.WriteString(h.name + ": " + h.value + "\n")
		}
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(m.Text)
	return b.String()
}

// ExtractText returns the text of a MIME part tree. A part with children is
// the newline-joined text of its non-empty children. A text leaf with data is
// decoded and stripped when it is HTML. Non-text leaves have no text.
func ExtractText(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}

	if len(part.Parts) > 0 {
		var texts []string
		for _, sub := range part.Parts {
			if t := ExtractText(sub); t != "" {
				texts = append(texts, t)
			}
		}
		return strings.Join(texts, "\n")
	}

	if part.Body == nil || part.Body.Data == "" || !isTextPart(part) {
		return ""
	}

	text := DecodeBody(part.Body.Data)
	if strings.EqualFold(mimeType(part), "text/html") {
		text = StripHTML(text)
	}
	return strings.TrimSpace(text)
}

func mimeType(part *gmail.MessagePart) string {
	mt := part.MimeType
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimSpace(mt)
}

// isTextPart accepts text/* leaves and leaves without a declared type.
// Every other leaf is skipped even when it carries inline data: decoding a
// PDF or calendar attachment as UTF-8 only feeds noise to the model.
func isTextPart(part *gmail.MessagePart) bool {
	mt := strings.ToLower(mimeType(part))
	return mt == "" || strings.HasPrefix(mt, "text/")
}

// DecodeBody decodes base64url body data, re-adding stripped padding.
// Invalid UTF-8 is replaced rather than rejected; undecodable data yields "".
func DecodeBody(data string) string {
	data = strings.TrimSpace(data)
	if pad := (4 - len(data)%4) % 4; pad > 0 {
		data += strings.Repeat("=", pad)
	}
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Some producers use the standard alphabet
		decoded, err = base64.StdEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return strings.ToValidUTF8(string(decoded), "�")
}

// StripHTML removes script and style blocks and all tags, decodes entities,
// and collapses whitespace.
func StripHTML(s string) string {
	s = scriptBlock.ReplaceAllString(s, " ")
	s = styleBlock.ReplaceAllString(s, " ")
	s = htmlTag.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// HeaderValue extracts a header value from a Gmail message
func HeaderValue(m *gmail.Message, header string) string {
	mpart := m.Payload
	if mpart == nil {
		return ""
	}
	for _, mph := range mpart.Headers {
		if strings.EqualFold(mph.Name, header) {
			return mph.Value
		}
	}
	return ""
}
