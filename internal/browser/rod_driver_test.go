package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher/flags"
)

func TestPlanKeys(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []keyStep
	}{
		{"empty", "", nil},
		{"ascii", "hi", []keyStep{{key: input.Key('h')}, {key: input.Key('i')}}},
		{"newline", "a\n", []keyStep{{key: input.Key('a')}, {key: input.Enter}}},
		{"crlf is one enter", "\r\n", []keyStep{{key: input.Enter}}},
		{"bare cr", "\r", []keyStep{{key: input.Enter}}},
		{"tab and backspace", "\t\b", []keyStep{{key: input.Tab}, {key: input.Backspace}}},
		{"unicode run", "héé!", []keyStep{{key: input.Key('h')}, {text: "éé"}, {key: input.Key('!')}}},
		{"emoji only", "🙂", []keyStep{{text: "🙂"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := planKeys(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("planKeys(%q) = %d steps, want %d: %+v", tt.in, len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("step %d: got %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNewLauncherFlags(t *testing.T) {
	d := &RodDriver{Flags: []string{"--no-sandbox", "--lang=en-US", "--"}}
	l := d.newLauncher(true)

	if !l.Has(flags.Flag("no-sandbox")) {
		t.Error("expected no-sandbox flag")
	}
	if got := l.Get(flags.Flag("lang")); got != "en-US" {
		t.Errorf("expected lang=en-US, got %q", got)
	}
}

func TestRodLaunchHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&RodDriver{}).Launch(ctx, LaunchOptions{}); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestLookupError(t *testing.T) {
	live := context.Background()
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	timeout := fmt.Errorf("wait: %w", context.DeadlineExceeded)

	var me *MatchError
	if err := lookupError(live, "#a", timeout); !errors.As(err, &me) || me.Count != 0 {
		t.Errorf("action timeout should be a zero match, got %v", err)
	}

	err := lookupError(canceled, "#a", fmt.Errorf("wait: %w", context.Canceled))
	if errors.As(err, &me) {
		t.Errorf("canceled call reported as no match: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	if err := lookupError(canceled, "#a", timeout); errors.As(err, &me) {
		t.Errorf("timeout after caller cancel reported as no match: %v", err)
	}

	err = lookupError(live, "#a", fmt.Errorf("wait: %w", context.Canceled))
	if errors.As(err, &me) || !errors.Is(err, context.Canceled) {
		t.Errorf("bare cancellation should pass through, got %v", err)
	}

	boom := errors.New("cdp closed")
	if err := lookupError(live, "#a", boom); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}
