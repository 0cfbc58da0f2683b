package config

import "fmt"

// Key is a versioned storage key. Bumping Version makes older values
// unreadable, so incompatible snapshots are discarded instead of misread.
type Key struct {
	Name    string
	Version int
}

// String returns the physical key, e.g. "exam_runtime_state_v1".
func (k Key) String() string {
	return fmt.Sprintf("%s_v%d", k.Name, k.Version)
}

type StorageKeyStruct struct {
	// Session scope.
	RuntimeState     Key
	BehaviorWarnings Key
	ShuffleSeed      Key

	// Device scope.
	OfflineQueue Key
	Drafts       Key
}

var StorageKey = &StorageKeyStruct{
	RuntimeState:     Key{Name: "exam_runtime_state", Version: 1},
	BehaviorWarnings: Key{Name: "exam_behavior_warnings", Version: 1},
	ShuffleSeed:      Key{Name: "exam_shuffle_seed", Version: 1},
	OfflineQueue:     Key{Name: "exam_offline_queue", Version: 1},
	Drafts:           Key{Name: "exam_drafts", Version: 1},
}

// SessionNamespace returns the prefix isolating one examinee's session keys.
func SessionNamespace(identityKey string) string {
	return fmt.Sprintf("proctor:session:%s:", identityKey)
}

// DeviceNamespace returns the prefix for one examinee's device-lifetime keys
// (drafts). The offline queue is shared and stays un-namespaced.
func DeviceNamespace(identityKey string) string {
	return fmt.Sprintf("proctor:device:%s:", identityKey)
}
