package facebook

import (
	"bytes"
	"io"
	"mime/multipart"

	pkgerrors "github.com/geniolibre/publisher-backend/pkg/errors"
)

// thumbnailForm builds the single multipart request body used to attach a
// preferred thumbnail to a published reel.
func thumbnailForm(cover []byte) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	if err := writer.WriteField("is_preferred", "true"); err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing thumbnail form field")
	}
	part, err := writer.CreateFormFile("source", "cover.jpg")
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating thumbnail form file")
	}
	if _, err := part.Write(cover); err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "writing thumbnail bytes")
	}
	if err := writer.Close(); err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "closing thumbnail form")
	}

	return buf, writer.FormDataContentType(), nil
}
