package tracking

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestHandler(t *testing.T) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewHandler(NewStore(db)), mock
}

func TestHandleOpenServesPixel(t *testing.T) {
	h, mock := setupTestHandler(t)
	mock.ExpectExec("INSERT INTO tracking_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodGet, "/t/o/abc-123", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, pixelGIF, rec.Body.Bytes())
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
}

func TestHandleOpenServesPixelEvenWhenStoreFails(t *testing.T) {
	h, mock := setupTestHandler(t)
	mock.ExpectExec("INSERT INTO tracking_events").
		WillReturnError(assert.AnError)

	req := httptest.NewRequest(http.MethodGet, "/t/o/abc-123", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pixelGIF, rec.Body.Bytes())
}

func TestHandleClickRedirects(t *testing.T) {
	h, mock := setupTestHandler(t)
	mock.ExpectExec("INSERT INTO tracking_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodGet,
		"/t/c/abc-123?url=https%3A%2F%2Fshop.example.com%2Fsale%3Fx%3D1", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://shop.example.com/sale?x=1", rec.Header().Get("Location"))
}

func TestHandleClickMissingURL(t *testing.T) {
	h, _ := setupTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/t/c/abc-123", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUnsubscribe(t *testing.T) {
	h, mock := setupTestHandler(t)
	mock.ExpectExec("INSERT INTO tracking_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE recipients").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodGet, "/unsubscribe/abc-123", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "הוסרת")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDetectDevice(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", "mobile"},
		{"Mozilla/5.0 (Linux; Android 14; Mobile)", "mobile"},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", "tablet"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64)", "desktop"},
		{"", "desktop"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectDevice(tt.ua), "ua: %s", tt.ua)
	}
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.10, 10.0.0.1")
	assert.Equal(t, "203.0.113.10", realIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-Ip", "203.0.113.20")
	assert.Equal(t, "203.0.113.20", realIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, req.RemoteAddr, realIP(req))
}
