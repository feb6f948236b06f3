package grader

import (
	"bytes"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/mithorizon7/AIAssignmentProMH-sub000/internal/ai/provider"
)

// Attachment is a file loaded from storage for grading.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

// PrepareAttachments splits attachments into provider parts and inline text.
// Images larger than maxDim on either side are downscaled; images that
// cannot be decoded are passed through untouched.
func PrepareAttachments(atts []Attachment, maxDim int, logger zerolog.Logger) ([]provider.Attachment, []string) {
	var parts []provider.Attachment
	var texts []string

	for _, att := range atts {
		mediaType := baseMediaType(att.MIMEType)
		switch {
		case isTextMIME(mediaType) && utf8.Valid(att.Data):
			texts = append(texts, "### "+att.Name+"\n\n"+string(att.Data))
		case strings.HasPrefix(mediaType, "image/"):
			data, outMIME, err := downscale(att.Data, mediaType, maxDim)
			if err != nil {
				logger.Warn().Err(err).Str("attachment", att.Name).Msg("Image left as is")
				data, outMIME = att.Data, att.MIMEType
			}
			parts = append(parts, provider.Attachment{Name: att.Name, MIMEType: outMIME, Data: data})
		default:
			parts = append(parts, provider.Attachment{Name: att.Name, MIMEType: att.MIMEType, Data: att.Data})
		}
	}
	return parts, texts
}

// baseMediaType drops parameters such as charset.
func baseMediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

func isTextMIME(mediaType string) bool {
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/json", "application/xml", "application/x-python", "application/javascript":
		return true
	}
	return false
}

func downscale(data []byte, mediaType string, maxDim int) ([]byte, string, error) {
	if maxDim <= 0 {
		return data, mediaType, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", err
	}
	b := img.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return data, mediaType, nil
	}

	resized := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)

	var buf bytes.Buffer
	format, outMIME := imaging.JPEG, "image/jpeg"
	if mediaType == "image/png" || mediaType == "image/gif" {
		format, outMIME = imaging.PNG, "image/png"
	}
	if err := imaging.Encode(&buf, resized, format, imaging.JPEGQuality(85)); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), outMIME, nil
}
