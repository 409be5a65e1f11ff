package store

import (
	"testing"
	"time"
)

func TestDeviceRegistryObserve(t *testing.T) {
	r := NewDeviceRegistry(5 * time.Minute)
	r.Observe(conn("42", "192.0.2.1", t0), "xray")
	r.Observe(conn("42", "192.0.2.2", t0.Add(time.Minute)), "xray")
	r.Observe(conn("42", "192.0.2.1", t0.Add(2*time.Minute)), "xray")
	r.Observe(conn("", "192.0.2.9", t0), "xray")

	devices := r.UserDevices("42", false)
	if len(devices) != 2 {
		t.Fatalf("devices = %+v", devices)
	}
	if devices[0].RemoteIP != "192.0.2.1" || !devices[0].FirstSeen.Equal(t0) || !devices[0].LastSeen.Equal(t0.Add(2*time.Minute)) {
		t.Errorf("most recent device = %+v", devices[0])
	}

	latest, ok := r.Latest("42")
	if !ok || latest.RemoteIP != "192.0.2.1" || latest.ClientName != "xray" {
		t.Errorf("latest = %+v", latest)
	}
	if users, active := r.Counts(); users != 1 || active != 2 {
		t.Errorf("counts = (%d, %d)", users, active)
	}
}

func TestDeviceRegistryObserveIsIdempotent(t *testing.T) {
	r := NewDeviceRegistry(time.Minute)
	rec := conn("7", "198.51.100.7", t0)
	r.Observe(rec, "xray")
	first := r.UserDevices("7", false)
	r.Observe(rec, "xray")
	second := r.UserDevices("7", false)

	if len(first) != 1 || len(second) != 1 || first[0] != second[0] {
		t.Fatalf("first = %+v, second = %+v", first, second)
	}
}

func TestDeviceRegistryInactivityAndCleanup(t *testing.T) {
	r := NewDeviceRegistry(5 * time.Minute)
	r.Observe(conn("1", "192.0.2.1", t0), "xray")
	r.Observe(conn("1", "192.0.2.2", t0.Add(10*time.Minute)), "xray")
	r.Observe(conn("2", "192.0.2.3", t0), "xray")

	if n := r.MarkInactive(t0.Add(12 * time.Minute)); n != 2 {
		t.Fatalf("marked %d inactive, want 2", n)
	}
	if active := r.UserDevices("1", true); len(active) != 1 || active[0].RemoteIP != "192.0.2.2" {
		t.Fatalf("active devices = %+v", active)
	}

	// seeing an inactive device again reactivates it
	r.Observe(conn("2", "192.0.2.3", t0.Add(13*time.Minute)), "xray")
	if active := r.UserDevices("2", true); len(active) != 1 {
		t.Fatalf("device not reactivated: %+v", r.UserDevices("2", false))
	}

	if n := r.Cleanup(t0.Add(time.Hour), 30*time.Minute); n != 3 {
		t.Fatalf("removed %d devices, want 3", n)
	}
	if users, _ := r.Counts(); users != 0 {
		t.Errorf("users left = %d", users)
	}
}

func TestDeviceRegistryAddUsage(t *testing.T) {
	r := NewDeviceRegistry(5 * time.Minute)
	if r.AddUsage("42", 10, 20) {
		t.Fatal("usage credited to a user without devices")
	}

	r.Observe(conn("42", "192.0.2.1", t0), "xray")
	r.Observe(conn("42", "192.0.2.2", t0.Add(time.Minute)), "xray")

	if !r.AddUsage("42", 100, 50) || !r.AddUsage("42", 1, -5) {
		t.Fatal("AddUsage reported no device")
	}
	if r.AddUsage("42", 0, 0) {
		t.Fatal("empty delta reported as credited")
	}

	devices := r.UserDevices("42", false)
	if devices[0].RemoteIP != "192.0.2.2" || devices[0].Uplink != 101 || devices[0].Downlink != 50 || devices[0].TotalUsage != 151 {
		t.Errorf("latest device = %+v", devices[0])
	}
	if devices[1].TotalUsage != 0 {
		t.Errorf("older device credited: %+v", devices[1])
	}
}

func TestDeviceRegistryAllDevices(t *testing.T) {
	r := NewDeviceRegistry(time.Minute)
	r.Observe(conn("42", "192.0.2.1", t0), "xray")
	r.Observe(conn("7", "198.51.100.7", t0.Add(10*time.Minute)), "xray")
	r.MarkInactive(t0.Add(10 * time.Minute))

	all := r.AllDevices(false)
	if len(all) != 2 || len(all["42"]) != 1 || len(all["7"]) != 1 {
		t.Fatalf("all = %+v", all)
	}
	active := r.AllDevices(true)
	if len(active) != 1 || len(active["7"]) != 1 {
		t.Fatalf("active = %+v", active)
	}
}
