package events

import (
	"fmt"
	"testing"
)

func TestPartitionForIsStable(t *testing.T) {
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("order-%d", i)
		first := PartitionFor(key, 8)
		for j := 0; j < 10; j++ {
			if got := PartitionFor(key, 8); got != first {
				t.Fatalf("partition for %s changed from %d to %d", key, first, got)
			}
		}
		if first < 0 || first >= 8 {
			t.Fatalf("partition %d out of range for %s", first, key)
		}
	}
}

func TestPartitionForSinglePartition(t *testing.T) {
	if got := PartitionFor("anything", 1); got != 0 {
		t.Fatalf("expected partition 0, got %d", got)
	}
	if got := PartitionFor("anything", 0); got != 0 {
		t.Fatalf("expected partition 0 for degenerate count, got %d", got)
	}
}

func TestPartitionForSpreadsKeys(t *testing.T) {
	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		seen[PartitionFor(fmt.Sprintf("order-%d", i), 4)] = true
	}
	if len(seen) != 4 {
		t.Fatalf("expected keys across all 4 partitions, got %d", len(seen))
	}
}

func TestStreamName(t *testing.T) {
	if got := StreamName("payment_events", 3); got != "payment_events:3" {
		t.Fatalf("unexpected stream name %q", got)
	}
}
