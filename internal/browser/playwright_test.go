package browser

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPwSelector(t *testing.T) {
	tests := []struct {
		sel  Selector
		want string
	}{
		{Selector{Type: "css", Value: "#buy > span"}, "css=#buy > span"},
		{Selector{Type: "", Value: ".btn"}, "css=.btn"},
		{Selector{Type: "XPath", Value: "//button[1]"}, "xpath=//button[1]"},
		{Selector{Type: "id", Value: "1st"}, `css=[id="1st"]`},
		{Selector{Type: "name", Value: `q"x`}, `css=[name="q\"x"]`},
		{Selector{Type: "text", Value: ` Say "hi" `}, `text="Say \"hi\""`},
	}
	for _, tt := range tests {
		if got := pwSelector(tt.sel); got != tt.want {
			t.Errorf("pwSelector(%+v) = %s, want %s", tt.sel, got, tt.want)
		}
	}
}

func TestPlaywrightLauncher_RejectsUnknownTypeWithoutDriver(t *testing.T) {
	l := &PlaywrightLauncher{}
	_, err := l.Launch(context.Background(), Options{BrowserType: "safari", Headless: true})
	if !errors.Is(err, ErrUnsupportedBrowser) {
		t.Fatalf("err = %v, want ErrUnsupportedBrowser", err)
	}
	if l.pw != nil {
		t.Error("driver started for an unsupported browser")
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close without driver: %v", err)
	}
}

func TestPlaywrightLauncher_CancelledContext(t *testing.T) {
	l := &PlaywrightLauncher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Launch(ctx, Options{BrowserType: "firefox"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if l.pw != nil {
		t.Error("driver started for a cancelled launch")
	}
}

func TestPlaywrightSession_TimeoutFollowsDeadline(t *testing.T) {
	s := &playwrightSession{timeout: 30 * time.Second}
	if got := *s.timeoutMS(context.Background()); got != 30000 {
		t.Errorf("no deadline: %v ms", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if got := *s.timeoutMS(ctx); got > 2000 || got < 1000 {
		t.Errorf("2s deadline: %v ms", got)
	}
	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	if got := *s.timeoutMS(expired); got != 1 {
		t.Errorf("expired deadline: %v ms", got)
	}
}
