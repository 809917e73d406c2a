package events

import (
	"fmt"
	"hash/fnv"
)

// PartitionFor maps a partition key (the order id) to a partition index.
// Events sharing a key always land on the same partition, which is the only
// ordering guarantee the channel provides.
func PartitionFor(key string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}

// StreamName returns the stream backing a partition.
func StreamName(base string, partition int) string {
	return fmt.Sprintf("%s:%d", base, partition)
}
