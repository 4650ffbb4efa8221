package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

func TestSchemaFor(t *testing.T) {
	if got := SchemaFor("norte"); got != "clinic_norte" {
		t.Errorf("expected clinic_norte, got %s", got)
	}
}

func TestExtractClinicID(t *testing.T) {
	e := echo.New()

	tests := []struct {
		name   string
		jwt    string
		header string
		query  string
		want   string
	}{
		{name: "default", want: "default"},
		{name: "query", query: "sur", want: "sur"},
		{name: "header over query", header: "centro", query: "sur", want: "centro"},
		{name: "token over header", jwt: "norte", header: "centro", want: "norte"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/"
			if tt.query != "" {
				target = "/?clinic_id=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("X-Clinic-ID", tt.header)
			}
			c := e.NewContext(req, httptest.NewRecorder())
			if tt.jwt != "" {
				c.Set("jwt_clinic_id", tt.jwt)
			}

			if got := extractClinicID(c, "default"); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestClinicIDPattern(t *testing.T) {
	valid := []string{"default", "clinic_1", "Norte"}
	for _, id := range valid {
		if !clinicIDPattern.MatchString(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}
	invalid := []string{"", "a;DROP", "with space", "dash-ed"}
	for _, id := range invalid {
		if clinicIDPattern.MatchString(id) {
			t.Errorf("expected %q to be rejected", id)
		}
	}
}

func TestClinicFromContext(t *testing.T) {
	if got := ClinicFromContext(context.Background()); got != "" {
		t.Errorf("expected empty clinic, got %q", got)
	}
	ctx := context.WithValue(context.Background(), ClinicIDKey, "norte")
	if got := ClinicFromContext(ctx); got != "norte" {
		t.Errorf("expected norte, got %q", got)
	}
	if ConnFromContext(ctx) != nil {
		t.Error("expected no connection in context")
	}
}

func TestCreateClinicSchema_InvalidID(t *testing.T) {
	if err := CreateClinicSchema(context.Background(), nil, "bad;id", nil); err == nil {
		t.Error("expected error for invalid clinic id")
	}
}

type fakeSessionConn struct {
	execErr  error
	sql      []string
	released bool
}

func (c *fakeSessionConn) Exec(_ context.Context, sql string, _ ...interface{}) (pgconn.CommandTag, error) {
	c.sql = append(c.sql, sql)
	return pgconn.CommandTag{}, c.execErr
}

func (c *fakeSessionConn) Release() { c.released = true }

func TestResetOnRelease(t *testing.T) {
	conn := &fakeSessionConn{}
	closed := false
	resetOnRelease(conn, func(context.Context) error { closed = true; return nil })()

	if len(conn.sql) != 1 || conn.sql[0] != "RESET search_path" {
		t.Errorf("expected RESET search_path before release, got %v", conn.sql)
	}
	if !conn.released {
		t.Error("expected connection to be released")
	}
	if closed {
		t.Error("expected a healthy connection to stay open")
	}
}

func TestResetOnRelease_ClosesWhenResetFails(t *testing.T) {
	conn := &fakeSessionConn{execErr: errors.New("connection lost")}
	closed := false
	resetOnRelease(conn, func(context.Context) error {
		if conn.released {
			t.Error("connection released before it was closed")
		}
		closed = true
		return nil
	})()

	if !closed {
		t.Error("expected connection with a stale search_path to be closed")
	}
	if !conn.released {
		t.Error("expected connection to be handed back so the pool can drop it")
	}
}
