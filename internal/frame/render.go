package frame

import (
	"fmt"
	"html"
	"strings"
)

// FrameButton is one tappable control on a rendered frame.
type FrameButton struct {
	Label string
	// Action is one of "post", "tx" or "link".
	Action string
	// Target overrides the frame post URL for this button.
	Target string
}

// FrameResponse is an HTML-embeddable next-step descriptor.
type FrameResponse struct {
	ImageURL  string
	PostURL   string
	InputText string
	State     string
	Buttons   []FrameButton
}

// HTML renders the frame as the meta-tag document feed clients consume.
func (f *FrameResponse) HTML() string {
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString(`<meta property="og:image" content="` + html.EscapeString(f.ImageURL) + "\"/>\n")
	b.WriteString("<meta property=\"fc:frame\" content=\"vNext\"/>\n")
	b.WriteString(`<meta property="fc:frame:image" content="` + html.EscapeString(f.ImageURL) + "\"/>\n")

	if f.PostURL != "" {
		b.WriteString(`<meta property="fc:frame:post_url" content="` + html.EscapeString(f.PostURL) + "\"/>\n")
	}
	if f.InputText != "" {
		b.WriteString(`<meta property="fc:frame:input:text" content="` + html.EscapeString(f.InputText) + "\"/>\n")
	}
	if f.State != "" {
		b.WriteString(`<meta property="fc:frame:state" content="` + html.EscapeString(f.State) + "\"/>\n")
	}

	for i, btn := range f.Buttons {
		idx := i + 1
		b.WriteString(fmt.Sprintf(`<meta property="fc:frame:button:%d" content="%s"/>`, idx, html.EscapeString(btn.Label)))
		b.WriteString("\n")
		if btn.Action != "" {
			b.WriteString(fmt.Sprintf(`<meta property="fc:frame:button:%d:action" content="%s"/>`, idx, btn.Action))
			b.WriteString("\n")
		}
		if btn.Target != "" {
			b.WriteString(fmt.Sprintf(`<meta property="fc:frame:button:%d:target" content="%s"/>`, idx, html.EscapeString(btn.Target)))
			b.WriteString("\n")
		}
	}

	b.WriteString("</head>\n<body></body>\n</html>\n")
	return b.String()
}
