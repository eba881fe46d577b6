package serviceerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewFormatsCodeAndUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := New("videos.create", "upload_failed", cause)

	if err.Error() != "videos.create.upload_failed: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected error to unwrap to cause")
	}
	code, ok := CodeOf(fmt.Errorf("wrapped: %w", err))
	if !ok || code != "videos.create.upload_failed" {
		t.Fatalf("unexpected code %q (ok=%v)", code, ok)
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if _, ok := CodeOf(errors.New("plain")); ok {
		t.Fatalf("plain errors carry no code")
	}
}
