package blobstore

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/labstack/echo/v4"
)

func multipartRequest(t *testing.T, field, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func TestFormUpload_HeaderContentType(t *testing.T) {
	e := echo.New()
	c := e.NewContext(multipartRequest(t, "file", "scan.pdf", "application/pdf", []byte("%PDF-1.4")), httptest.NewRecorder())

	up, err := FormUpload(c, "file")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer up.Close()
	if up.Filename != "scan.pdf" || up.ContentType != "application/pdf" {
		t.Errorf("unexpected upload %+v", up)
	}
	data, _ := io.ReadAll(up.Content)
	if string(data) != "%PDF-1.4" {
		t.Errorf("unexpected content %q", data)
	}
}

func TestFormUpload_SniffsContentType(t *testing.T) {
	e := echo.New()
	png := []byte("\x89PNG\r\n\x1a\n0000")
	c := e.NewContext(multipartRequest(t, "file", "photo", "application/octet-stream", png), httptest.NewRecorder())

	up, err := FormUpload(c, "file")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer up.Close()
	if up.ContentType != "image/png" {
		t.Errorf("expected image/png, got %s", up.ContentType)
	}
	data, _ := io.ReadAll(up.Content)
	if !bytes.Equal(data, png) {
		t.Error("sniffing must not consume content")
	}
}

func TestFormUpload_Missing(t *testing.T) {
	e := echo.New()
	c := e.NewContext(multipartRequest(t, "other", "a.txt", "text/plain", []byte("x")), httptest.NewRecorder())

	_, err := FormUpload(c, "file")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
