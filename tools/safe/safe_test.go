package safe

import (
	"errors"
	"testing"
	"time"

	"CareLink/tools/errs"
)

func TestCallRecoversPanic(t *testing.T) {
	err := Call(func() error { panic("boom") })
	if err == nil {
		t.Fatal("expected error from panic")
	}
	if errs.Code(err) != errs.ServerInternalError {
		t.Fatalf("code = %d", errs.Code(err))
	}
}

func TestCallPassesThroughError(t *testing.T) {
	want := errors.New("plain")
	if got := Call(func() error { return want }); !errors.Is(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestGoSurvivesPanic(t *testing.T) {
	done := make(chan struct{})
	Go("test", func() {
		defer close(done)
		panic("inside goroutine")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not finish")
	}
}
