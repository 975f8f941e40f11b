package blobstore

import (
	"bufio"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Upload is a file received in a multipart form.
type Upload struct {
	Filename    string
	ContentType string
	Content     io.Reader
	closer      io.Closer
}

func (u *Upload) Close() error {
	return u.closer.Close()
}

// FormUpload opens the multipart file in field. The content type comes from
// the part header, or is sniffed when the client sent none.
func FormUpload(c echo.Context, field string) (*Upload, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s is required", field))
	}
	f, err := fh.Open()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	up := &Upload{Filename: fh.Filename, Content: f, closer: f}
	ct := mediaType(fh.Header.Get(echo.HeaderContentType))
	if ct == "" || ct == echo.MIMEOctetStream {
		br := bufio.NewReader(f)
		head, _ := br.Peek(512)
		ct = mediaType(http.DetectContentType(head))
		up.Content = br
	}
	up.ContentType = ct
	return up, nil
}

// mediaType strips parameters such as charset.
func mediaType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return mt
}
