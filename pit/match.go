package pit

import "strings"

// compressionSuffixes are stripped, outermost first, to derive a
// member's base name for matching.
var compressionSuffixes = []string{".lz4", ".gz", ".img", ".bin"}

// Base strips a single outermost compression/image suffix from name.
func Base(name string) string {
	lower := strings.ToLower(name)
	for _, suf := range compressionSuffixes {
		if strings.HasSuffix(lower, suf) {
			return name[:len(name)-len(suf)]
		}
	}
	return name
}

func stripImgBin(name string) string {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".img") || strings.HasSuffix(lower, ".bin") {
		return name[:len(name)-4]
	}
	return name
}

func normalizeDashUnderscore(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

// Match identifies the (partition_id, device_type) for member name n
// against table t, trying each rule in order. ok is false if none match.
func Match(t *Table, n string) (partitionID, deviceType uint32, ok bool) {
	if t == nil {
		return 0, 0, false
	}
	base := Base(n)
	lowerN := strings.ToLower(n)
	lowerBase := strings.ToLower(base)

	for _, e := range t.Entries {
		if strings.ToLower(e.FlashFilename) == lowerN {
			return e.PartitionID, e.DeviceType, true
		}
	}
	for _, e := range t.Entries {
		if lowerBase == strings.ToLower(stripImgBin(e.FlashFilename)) {
			return e.PartitionID, e.DeviceType, true
		}
	}
	for _, e := range t.Entries {
		if lowerBase == strings.ToLower(e.PartitionName) {
			return e.PartitionID, e.DeviceType, true
		}
	}
	normBase := normalizeDashUnderscore(lowerBase)
	for _, e := range t.Entries {
		if normBase == normalizeDashUnderscore(strings.ToLower(e.PartitionName)) ||
			normBase == normalizeDashUnderscore(strings.ToLower(e.FlashFilename)) {
			return e.PartitionID, e.DeviceType, true
		}
	}
	return 0, 0, false
}

// MatchHeuristic derives (partition_id, device_type) from a member name
// alone, used when no PIT is available.
func MatchHeuristic(n string) (partitionID, deviceType uint32) {
	lower := strings.ToLower(n)
	switch {
	case strings.Contains(lower, "sboot"), strings.Contains(lower, "bootloader"), strings.Contains(lower, "-bl"), strings.HasPrefix(lower, "bl"):
		return 80, 2
	case strings.Contains(lower, "recovery"):
		return 10, 2
	case strings.Contains(lower, "boot"):
		return 3, 2
	case strings.Contains(lower, "modem"), strings.Contains(lower, "radio"), strings.Contains(lower, "cp"):
		return 11, 2
	default:
		return 0, 2
	}
}

// Resolve matches n against t if t is non-nil, falling back to the
// filename heuristic otherwise.
func Resolve(t *Table, n string) (partitionID, deviceType uint32) {
	if t != nil {
		if pid, dt, ok := Match(t, n); ok {
			return pid, dt
		}
	}
	return MatchHeuristic(n)
}
