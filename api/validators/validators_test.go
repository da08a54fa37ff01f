package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/angelmondragon/highlightz-backend/pkg/errors"
)

type sampleBody struct {
	TaskID int64    `json:"task_id" validate:"gt=0"`
	Paths  []string `json:"paths" validate:"required,min=1"`
}

func TestDecodeJSONBody(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr bool
		field   string
	}{
		{"valid", `{"task_id":1,"paths":["a.mp4"]}`, false, ""},
		{"unknown field", `{"task_id":1,"paths":["a.mp4"],"x":1}`, true, "x"},
		{"zero task", `{"task_id":0,"paths":["a.mp4"]}`, true, "task_id"},
		{"empty paths", `{"task_id":1,"paths":[]}`, true, "paths"},
		{"wrong type", `{"task_id":"one","paths":["a.mp4"]}`, true, "task_id"},
		{"empty body", ``, true, ""},
		{"malformed", `{"task_id":1,`, true, ""},
		{"trailing value", `{"task_id":1,"paths":["a.mp4"]} {}`, true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dest sampleBody
			err := DecodeJSONBody(req, &dest)
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected err %v", err)
			}
			if err == nil {
				return
			}
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if tc.field != "" {
				details, _ := pkgerrors.As(err).Details().(map[string]string)
				if details[tc.field] == "" {
					t.Fatalf("expected detail for %s, got %v", tc.field, details)
				}
			}
		})
	}
}

func TestDecodeJSONBodyRespectsMaxBytes(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"task_id":1,"paths":["a.mp4","b.mp4"]}`))
	req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, 8)
	var dest sampleBody
	if err := DecodeJSONBody(req, &dest); !pkgerrors.IsCode(err, pkgerrors.CodePayloadTooLarge) {
		t.Fatalf("expected payload too large, got %v", err)
	}
}

func TestDecodeJSONAllowsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"task_id":1,"extra":true}`))
	var dest sampleBody
	if err := DecodeJSON(req, &dest); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if dest.TaskID != 1 {
		t.Fatalf("unexpected dest %+v", dest)
	}
}

func TestParseIDs(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?video_id=12&bad=-1", nil)
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("id", "34")
	routeCtx.URLParams.Add("slug", "abc")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	if id, err := ParsePathID(req, "id"); err != nil || id != 34 {
		t.Fatalf("ParsePathID: id=%d err=%v", id, err)
	}
	if _, err := ParsePathID(req, "slug"); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for malformed path id, got %v", err)
	}
	if id, err := ParseOptionalQueryID(req, "video_id"); err != nil || id == nil || *id != 12 {
		t.Fatalf("ParseOptionalQueryID: %v %v", id, err)
	}
	if id, err := ParseOptionalQueryID(req, "missing"); err != nil || id != nil {
		t.Fatalf("expected nil for missing param, got %v %v", id, err)
	}
	if _, err := ParseOptionalQueryID(req, "bad"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for negative id, got %v", err)
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=5&big=500&word=abc", nil)
	if v, err := ParseQueryInt(req, "limit", 25, 1, 100); err != nil || v != 5 {
		t.Fatalf("limit: %d %v", v, err)
	}
	if v, err := ParseQueryInt(req, "absent", 25, 1, 100); err != nil || v != 25 {
		t.Fatalf("default: %d %v", v, err)
	}
	if _, err := ParseQueryInt(req, "big", 25, 1, 100); err == nil {
		t.Fatal("expected range error")
	}
	if _, err := ParseQueryInt(req, "word", 25, 1, 100); err == nil {
		t.Fatal("expected numeric error")
	}
}
