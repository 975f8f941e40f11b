package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func ctxFor(target string) echo.Context {
	e := echo.New()
	return e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(ctxFor("/"))
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := FromContext(ctxFor("/?limit=50&offset=10"))
	if p.Limit != 50 {
		t.Errorf("expected limit 50, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	p := FromContext(ctxFor("/?limit=1000"))
	if p.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	p := FromContext(ctxFor("/?offset=-5"))
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 10, 2, 0)
	if resp.Total != 10 || resp.Limit != 2 || resp.Offset != 0 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if !resp.HasMore {
		t.Error("expected HasMore true")
	}

	last := NewResponse([]string{"a"}, 3, 2, 2)
	if last.HasMore {
		t.Error("expected HasMore false on last page")
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	if got := Page(items, Params{Limit: 2, Offset: 0}); len(got) != 2 || got[0] != 1 {
		t.Errorf("unexpected first page %v", got)
	}
	if got := Page(items, Params{Limit: 2, Offset: 4}); len(got) != 1 || got[0] != 5 {
		t.Errorf("unexpected last page %v", got)
	}
	if got := Page(items, Params{Limit: 2, Offset: 9}); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil page, got %v", got)
	}
}

func TestSeqFromContext(t *testing.T) {
	c := SeqFromContext(ctxFor("/?after=42&limit=10"))
	if c.After != 42 || c.Limit != 10 {
		t.Errorf("unexpected cursor %+v", c)
	}

	c = SeqFromContext(ctxFor("/?after=-1&limit=500"))
	if c.After != 0 {
		t.Errorf("expected negative after clamped to 0, got %d", c.After)
	}
	if c.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, c.Limit)
	}

	c = SeqFromContext(ctxFor("/"))
	if c.After != 0 || c.Limit != DefaultLimit {
		t.Errorf("unexpected default cursor %+v", c)
	}
}
