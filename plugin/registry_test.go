package plugin

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/aquastack/prepaid/id"
	"github.com/aquastack/prepaid/types"
)

type namedPlugin struct{ name string }

func (p namedPlugin) Name() string { return p.name }

type lowBalancePlugin struct {
	namedPlugin
	calls atomic.Int64
}

func (p *lowBalancePlugin) OnLowBalance(ctx context.Context, propertyID id.PropertyID, balance types.Volume) error {
	p.calls.Add(1)
	return nil
}

func newTestRegistry() *Registry {
	return NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterDuplicateName(t *testing.T) {
	r := newTestRegistry()

	if err := r.Register(namedPlugin{"alerts"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(namedPlugin{"alerts"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if r.Count() != 1 {
		t.Errorf("count: got %d", r.Count())
	}
}

func TestGetAndList(t *testing.T) {
	r := newTestRegistry()

	p := &lowBalancePlugin{namedPlugin: namedPlugin{"alerts"}}
	if err := r.Register(p); err != nil {
		t.Fatal(err)
	}
	if got := r.Get("alerts"); got != p {
		t.Error("Get returned wrong plugin")
	}
	if got := r.Get("absent"); got != nil {
		t.Error("Get for unknown name should return nil")
	}
	if len(r.List()) != 1 {
		t.Errorf("list: got %d plugins", len(r.List()))
	}
}

func TestTypedDispatch(t *testing.T) {
	r := newTestRegistry()

	hooked := &lowBalancePlugin{namedPlugin: namedPlugin{"alerts"}}
	if err := r.Register(hooked); err != nil {
		t.Fatal(err)
	}
	// A plugin without the hook must not receive the event.
	if err := r.Register(namedPlugin{"inert"}); err != nil {
		t.Fatal(err)
	}

	r.EmitLowBalance(context.Background(), id.NewPropertyID(), types.Units(3))
	r.EmitLowBalance(context.Background(), id.NewPropertyID(), types.Units(2))

	if got := hooked.calls.Load(); got != 2 {
		t.Errorf("hook calls: got %d, want 2", got)
	}
}
