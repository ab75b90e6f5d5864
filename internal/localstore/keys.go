package localstore

import "strings"

// Storage key scheme.
const (
	keyPrefix       = "studyPlan_"
	keySuffix       = "_data"
	backupSuffix    = "_backup"
	DefaultKey      = keyPrefix + "data"
	GlobalBackupKey = keyPrefix + "lastKnownGood"
)

// anonymousIdentities all share DefaultKey so usage before login and after
// logout lands in the same slot.
var anonymousIdentities = map[string]bool{
	"":          true,
	"local":     true,
	"anonymous": true,
	"guest":     true,
}

// LocalIdentity is the canonical anonymous identity.
const LocalIdentity = "local"

// IsAnonymous reports whether identity maps to the shared default slot.
func IsAnonymous(identity string) bool {
	return anonymousIdentities[strings.TrimSpace(identity)]
}

// StorageKey returns the primary key for identity.
func StorageKey(identity string) string {
	if IsAnonymous(identity) {
		return DefaultKey
	}
	return keyPrefix + strings.TrimSpace(identity) + keySuffix
}

// BackupKey returns the identity-scoped backup key.
func BackupKey(identity string) string {
	return StorageKey(identity) + backupSuffix
}
