package tools

import "encoding/base64"

// Image is binary image data returned by a tool.
type Image struct {
	Data     []byte
	MimeType string
}

// Base64 returns the image data base64 encoded.
func (i *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// Result is the normalized outcome of a tool call.
type Result struct {
	Text  string `json:"text"`
	Image *Image `json:"-"`
}

func NewResult(text string) *Result {
	return &Result{Text: text}
}

func ImageResult(text string, data []byte, mimeType string) *Result {
	return &Result{Text: text, Image: &Image{Data: data, MimeType: mimeType}}
}
