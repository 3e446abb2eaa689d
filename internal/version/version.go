// Package version centralizes the versioning for the host's cacheable logic.
//
// By including these version strings in cache keys, stale cached provider
// responses are invalidated automatically whenever the underlying logic
// changes. For example, bumping PromptLogic after editing the system prompt
// template means old keys no longer match and fresh responses are generated.
package version

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComponentVersions holds the version strings for the logical parts of the
// host whose output feeds the response cache. Manually increment a version
// here before deploying a change to that component.
var ComponentVersions = struct {
	// Tools should be updated whenever a builtin tool's behavior or any
	// tool description formatting changes, since descriptions are embedded
	// in the system prompt.
	Tools string

	// PromptLogic should be updated whenever the system prompt template or
	// the tool-call encoding instructions change.
	PromptLogic string
}{
	Tools:       "v1.0",
	PromptLogic: "v1.0",
}

// GenerateVersionedCacheKey creates a consistent, version-aware key for
// caching provider responses. It combines a prefix, a hash of the serialized
// conversation, and the current component versions.
//
// Example output: "llmcache:a1b2c3d4...:tv1.0_pv1.0"
func GenerateVersionedCacheKey(prefix, conversation string) string {
	hasher := sha256.New()
	hasher.Write([]byte(conversation))
	hash := hex.EncodeToString(hasher.Sum(nil))

	versionString := fmt.Sprintf("tv%s_pv%s",
		ComponentVersions.Tools,
		ComponentVersions.PromptLogic,
	)
	return fmt.Sprintf("%s:%s:%s", prefix, hash, versionString)
}
