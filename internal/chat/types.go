package chat

// ContentPart represents a part of a multi-modal message content
type ContentPart interface {
	isContentPart()
}

// TextContent represents text content in a multi-modal message
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (t TextContent) isContentPart() {}

// ImageContent represents image content in a multi-modal message
type ImageContent struct {
	Type     string   `json:"type"`
	ImageURL ImageURL `json:"image_url"`
}

func (i ImageContent) isContentPart() {}

// ImageURL represents an image URL in multi-modal messages
type ImageURL struct {
	URL    string `json:"url"`              // URL or base64 data URL
	Detail string `json:"detail,omitempty"` // "low", "high", or "auto"
}

// Message 一条对话消息；MultiContent 优先于 Content
// Message is a single conversation turn; MultiContent takes precedence over Content.
type Message struct {
	Role         string        `json:"role"`
	Content      string        `json:"content,omitempty"`
	MultiContent []ContentPart `json:"-"`
}

// Text 文本消息构造辅助 / Text builds a plain text message.
func Text(role, content string) Message {
	return Message{Role: role, Content: content}
}

// UserObservation 构造带图像与说明文本的用户消息（观察回合）
// UserObservation builds a user message carrying one captured image plus context text.
func UserObservation(imageDataURL, text string) Message {
	return Message{
		Role: "user",
		MultiContent: []ContentPart{
			ImageContent{Type: "image_url", ImageURL: ImageURL{URL: imageDataURL}},
			TextContent{Type: "text", Text: text},
		},
	}
}

// PlainText 返回消息的纯文本表示；多模态消息取其中的文本部分。
// PlainText returns the textual view of a message; for multimodal
// messages the text parts are concatenated and image parts are skipped.
func (m Message) PlainText() string {
	if len(m.MultiContent) == 0 {
		return m.Content
	}
	out := ""
	for _, part := range m.MultiContent {
		if t, ok := part.(TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += t.Text
		}
	}
	return out
}
