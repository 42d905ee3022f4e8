package sysinfo

import (
	"context"
	"testing"
)

func TestCollect(t *testing.T) {
	snap, err := Collect(context.Background(), 0, "")
	if err != nil {
		t.Skipf("local sampling unavailable: %v", err)
	}

	if snap.CPUPercent < 0 || snap.CPUPercent > 100 {
		t.Errorf("CPUPercent = %v, want 0-100", snap.CPUPercent)
	}
	if snap.MemPercent <= 0 || snap.MemPercent > 100 {
		t.Errorf("MemPercent = %v, want (0,100]", snap.MemPercent)
	}
	if snap.DiskPercent < 0 || snap.DiskPercent > 100 {
		t.Errorf("DiskPercent = %v, want 0-100", snap.DiskPercent)
	}
	if snap.DiskPath != "/" {
		t.Errorf("DiskPath = %q, want /", snap.DiskPath)
	}
	if snap.TakenAt.IsZero() {
		t.Error("TakenAt not set")
	}
}

func TestCollectBadDiskPath(t *testing.T) {
	if _, err := Collect(context.Background(), 0, "/nonexistent/mount/point"); err == nil {
		t.Error("expected error for missing mount point")
	}
}

func TestDescribe(t *testing.T) {
	id, err := Describe(context.Background())
	if err != nil {
		t.Skipf("host info unavailable: %v", err)
	}
	if id.Hostname == "" {
		t.Error("Hostname empty")
	}
	if id.OS == "" {
		t.Error("OS empty")
	}
}
