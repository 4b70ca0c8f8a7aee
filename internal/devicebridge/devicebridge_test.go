package devicebridge_test

import (
	"context"
	"testing"

	"github.com/roah-benchmarks/refboxcore/internal/devicebridge"
)

func TestMemoryRecordsLastValuePerField(t *testing.T) {
	m := devicebridge.NewMemory()
	ctx := context.Background()

	m.SetSwitch(ctx, 1, true)
	m.SetSwitch(ctx, 1, false)
	m.SetSwitch(ctx, 2, true)
	m.SetBlinds(ctx, 75)
	m.SetDimmer(ctx, 40)
	m.SetTabletDisplayMap(ctx, true)

	if m.Switch(1) != false {
		t.Errorf("Switch(1) = %v, want false (last write wins)", m.Switch(1))
	}
	if m.Switch(2) != true {
		t.Errorf("Switch(2) = %v, want true", m.Switch(2))
	}
	if m.Blinds() != 75 {
		t.Errorf("Blinds() = %d, want 75", m.Blinds())
	}
	if m.Dimmer() != 40 {
		t.Errorf("Dimmer() = %d, want 40", m.Dimmer())
	}
	if !m.TabletDisplayMap() {
		t.Error("TabletDisplayMap() = false, want true")
	}
}

func TestMemoryUnsetSwitchReadsFalse(t *testing.T) {
	m := devicebridge.NewMemory()
	if m.Switch(3) {
		t.Error("Switch() on a never-set index = true, want false")
	}
}
