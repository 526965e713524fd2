package clock

import "testing"

func TestMasterClock_EpochSetOnce(t *testing.T) {
	c := NewMasterClock()

	if c.IsEpochLocked() {
		t.Fatal("new clock should not have epoch locked")
	}

	if !c.TrySetEpochOnce(1_000_000, RoleLive) {
		t.Fatal("first TrySetEpochOnce with RoleLive should succeed")
	}
	if !c.IsEpochLocked() {
		t.Fatal("epoch should be locked after first set")
	}

	if c.TrySetEpochOnce(2_000_000, RoleLive) {
		t.Fatal("second TrySetEpochOnce should be rejected")
	}

	epoch, ok := c.GetEpoch()
	if !ok || epoch != 1_000_000 {
		t.Fatalf("epoch = %d, %v; want 1000000, true", epoch, ok)
	}
}

func TestMasterClock_PreviewRoleRejected(t *testing.T) {
	c := NewMasterClock()
	if c.TrySetEpochOnce(1_000_000, RolePreview) {
		t.Fatal("PREVIEW role must never be allowed to set the epoch")
	}
	if c.IsEpochLocked() {
		t.Fatal("epoch must remain unlocked after a PREVIEW attempt")
	}
}

func TestMasterClock_ResetForNewSession(t *testing.T) {
	c := NewMasterClock()
	c.TrySetEpochOnce(5, RoleLive)
	c.ResetForNewSession()

	if c.IsEpochLocked() {
		t.Fatal("epoch should be unlocked after reset")
	}
	if !c.TrySetEpochOnce(9, RoleLive) {
		t.Fatal("epoch should be settable again after reset")
	}
	epoch, _ := c.GetEpoch()
	if epoch != 9 {
		t.Fatalf("epoch = %d, want 9", epoch)
	}
}

func TestFakeClock_AdvanceAndSetNow(t *testing.T) {
	fc := NewFakeClock(1000)
	if fc.NowUTCUs() != 1000 {
		t.Fatalf("NowUTCUs() = %d, want 1000", fc.NowUTCUs())
	}

	fc.Advance(500)
	if fc.NowUTCUs() != 1500 {
		t.Fatalf("NowUTCUs() = %d, want 1500", fc.NowUTCUs())
	}

	fc.SetNow(9999)
	if fc.NowUTCUs() != 9999 {
		t.Fatalf("NowUTCUs() = %d, want 9999", fc.NowUTCUs())
	}
}

func TestFakeClock_ScheduledToUTCUs(t *testing.T) {
	fc := NewFakeClock(0)
	fc.TrySetEpochOnce(3_600_000_000, RoleLive)

	if got := fc.ScheduledToUTCUs(500); got != 3_600_000_500 {
		t.Fatalf("ScheduledToUTCUs(500) = %d, want 3600000500", got)
	}
}

func TestFakeClock_IsFake(t *testing.T) {
	if NewMasterClock().IsFake() {
		t.Fatal("MasterClock.IsFake() should be false")
	}
	if !NewFakeClock(0).IsFake() {
		t.Fatal("FakeClock.IsFake() should be true")
	}
}
