package httputil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestWriteMatrixError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteForbidden(w, "email domain not allowed")

	if w.Code != 403 {
		t.Errorf("status = %d", w.Code)
	}
	var body MatrixError
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.ErrCode != ErrCodeForbidden {
		t.Errorf("errcode = %q", body.ErrCode)
	}
	if body.Error != "email domain not allowed" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestWriteRateLimited(t *testing.T) {
	w := httptest.NewRecorder()
	WriteRateLimited(w, 2500, "too many attempts")

	if w.Code != 429 {
		t.Errorf("status = %d", w.Code)
	}
	// 2500ms rounds up to 3 seconds for the header.
	if got := w.Header().Get("Retry-After"); got != "3" {
		t.Errorf("Retry-After = %q, want 3", got)
	}
	var body MatrixError
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.ErrCode != ErrCodeLimitExceeded {
		t.Errorf("errcode = %q", body.ErrCode)
	}
	if body.RetryAfterMS != 2500 {
		t.Errorf("retry_after_ms = %d", body.RetryAfterMS)
	}
}

func TestWriteInternalErrorHidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalError(w)

	if w.Code != 500 {
		t.Errorf("status = %d", w.Code)
	}
	var body MatrixError
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.ErrCode != ErrCodeUnknown {
		t.Errorf("errcode = %q", body.ErrCode)
	}
	if body.Error != "internal server error" {
		t.Errorf("error body leaks detail: %q", body.Error)
	}
}
