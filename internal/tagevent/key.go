package tagevent

// Key returns the deduplication key for a resolved group and tag ID:
// "group:tid". Group resolution (hostname → group) is the caller's
// responsibility (internal/hostgroup).
func Key(group, tid string) string {
	return group + ":" + tid
}
