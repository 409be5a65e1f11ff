package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/konstpic/marznode-stats/database"
	"github.com/konstpic/marznode-stats/store"
	"github.com/konstpic/marznode-stats/xray"
)

func initTestDB(t *testing.T) {
	t.Helper()
	if err := database.InitDB("sqlite", filepath.Join(t.TempDir(), "stats.db"), false); err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { _ = database.CloseDB() })
}

func TestAddTrafficAccumulates(t *testing.T) {
	initTestDB(t)
	svc := &UserTrafficService{}

	st := store.New()
	seen := time.Unix(1700000000, 0)
	st.RecordConnection(record("42", "203.0.113.5", seen))

	if err := svc.AddTraffic([]xray.UserCounter{{UserID: 42, Uplink: 100, Downlink: 50}}, st); err != nil {
		t.Fatal(err)
	}
	if err := svc.AddTraffic([]xray.UserCounter{
		{UserID: 42, Uplink: 1, Downlink: 2},
		{UserID: 7, Downlink: 9},
		{UserID: 8},
	}, nil); err != nil {
		t.Fatal(err)
	}

	traffics, err := svc.GetUsersTraffic()
	if err != nil {
		t.Fatal(err)
	}
	if len(traffics) != 2 {
		t.Fatalf("got %d rows, want 2", len(traffics))
	}
	if traffics[0].UserId != 7 || traffics[0].Total != 9 {
		t.Errorf("row 0 = %+v", traffics[0])
	}
	u := traffics[1]
	if u.UserId != 42 || u.Up != 101 || u.Down != 52 || u.Total != 153 {
		t.Errorf("row 1 = %+v", u)
	}
	if u.LastIp != "203.0.113.5" || u.LastOnline != seen.UnixMilli() {
		t.Errorf("attribution = %q %d", u.LastIp, u.LastOnline)
	}
}

func TestResetUserTraffic(t *testing.T) {
	initTestDB(t)
	svc := &UserTrafficService{}

	if err := svc.AddTraffic([]xray.UserCounter{
		{UserID: 1, Uplink: 5},
		{UserID: 2, Uplink: 6},
	}, nil); err != nil {
		t.Fatal(err)
	}

	if err := svc.ResetUserTraffic(1); err != nil {
		t.Fatal(err)
	}
	traffics, _ := svc.GetUsersTraffic()
	if traffics[0].Total != 0 || traffics[1].Total != 6 {
		t.Fatalf("after single reset: %+v %+v", traffics[0], traffics[1])
	}

	if err := svc.ResetUserTraffic(-1); err != nil {
		t.Fatal(err)
	}
	traffics, _ = svc.GetUsersTraffic()
	for _, tr := range traffics {
		if tr.Total != 0 {
			t.Fatalf("user %d total = %d after reset all", tr.UserId, tr.Total)
		}
	}
}
