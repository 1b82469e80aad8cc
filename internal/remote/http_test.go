package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loamdev/loam/internal/errors"
)

func TestHTTPGateway_ListEncodesQuery(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]Document{{"id": "t1"}})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "secret", nil)
	docs, err := g.List(context.Background(), "threads", Query{
		Filters: []Filter{Eq("pinned", true), NotNull("project_id")},
		OrderBy: "last_message_at",
		Desc:    true,
		Limit:   40,
		Offset:  80,
	})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(docs) != 1 || docs[0]["id"] != "t1" {
		t.Errorf("docs = %v", docs)
	}
	if gotPath != "/v1/threads" {
		t.Errorf("path = %q, want /v1/threads", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth = %q", gotAuth)
	}
	for _, want := range []string{"pinned=eq.true", "project_id=not.null", "order=last_message_at.desc", "limit=40", "offset=80"} {
		if !containsParam(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func containsParam(rawQuery, param string) bool {
	for _, p := range strings.Split(rawQuery, "&") {
		if p == param {
			return true
		}
	}
	return false
}

func TestHTTPGateway_UpdateSendsOnlyChangedFields(t *testing.T) {
	var gotMethod string
	var gotBody Document
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(Document{"id": "t1", "title": "renamed", "pinned": true})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "", nil)
	doc, err := g.Update(context.Background(), "threads", "t1", Document{"title": "renamed"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("method = %q, want PATCH", gotMethod)
	}
	if len(gotBody) != 1 || gotBody["title"] != "renamed" {
		t.Errorf("body = %v, want only the changed field", gotBody)
	}
	if doc["pinned"] != true {
		t.Errorf("response doc = %v", doc)
	}
}

func TestHTTPGateway_NotFoundMapsToTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "", nil)
	if _, err := g.Get(context.Background(), "threads", "nope"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Get = %v, want NOT_FOUND", err)
	}
	if err := g.Delete(context.Background(), "threads", "nope"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Delete = %v, want NOT_FOUND", err)
	}
}

func TestHTTPGateway_ServerErrorMapsToNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "UPSTREAM", "message": "backend down"})
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, "", nil)
	_, err := g.Get(context.Background(), "threads", "t1")
	if !errors.Is(err, errors.ErrNetworkFailure) {
		t.Fatalf("err = %v, want NETWORK_FAILURE", err)
	}
}

func TestHTTPGateway_UnreachableHost(t *testing.T) {
	// Reserved TEST-NET address; nothing listens there.
	g := NewHTTPGateway("http://192.0.2.1:9", "", &http.Client{Timeout: 50 * time.Millisecond})
	_, err := g.List(context.Background(), "threads", Query{})
	if !errors.Is(err, errors.ErrNetworkFailure) {
		t.Fatalf("err = %v, want NETWORK_FAILURE", err)
	}
}
