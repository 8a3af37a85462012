// Package checkpoint serializes the complete resumable run state:
// configuration, strategy state and statistics. Blobs are tagged,
// versioned and checksummed so a resume refuses anything that is not a
// well-formed checkpoint, and older layouts migrate on decode.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"autotrageur/internal/config"
	"autotrageur/internal/stats"
	"autotrageur/internal/strategy/fcf"
)

// CurrentVersion is the layout written by Encode.
const CurrentVersion = "1.2.0"

const recordKind = "fcf_checkpoint"

// ErrWrongStateType means the blob decoded into something that is not a
// checkpoint record; resuming from it is refused.
var ErrWrongStateType = errors.New("state blob is not a checkpoint record")

// ErrChecksumMismatch means the blob was corrupted or truncated at rest.
var ErrChecksumMismatch = errors.New("checkpoint checksum mismatch")

// Checkpoint is the tuple a run needs to resume where another left off.
type Checkpoint struct {
	Version       string              `json:"version"`
	Config        *config.Config      `json:"config"`
	StrategyState *fcf.State          `json:"strategy_state"`
	StatTracker   *stats.StatTracker  `json:"stat_tracker"`
}

// envelope wraps the payload with a kind tag and an integrity checksum.
type envelope struct {
	Kind     string          `json:"kind"`
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

// Encode serializes a checkpoint. The caller must have suspended live
// trader handles from the stat tracker first.
func Encode(c *Checkpoint) ([]byte, error) {
	if c.Version == "" {
		c.Version = CurrentVersion
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}

	return json.Marshal(envelope{
		Kind:     recordKind,
		Checksum: checksumOf(payload),
		Payload:  payload,
	})
}

// Decode verifies and deserializes a checkpoint blob, migrating older
// layouts to the current one.
func Decode(blob []byte) (*Checkpoint, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongStateType, err)
	}
	if env.Kind != recordKind {
		return nil, fmt.Errorf("%w: kind %q", ErrWrongStateType, env.Kind)
	}

	if checksumOf(env.Payload) != env.Checksum {
		return nil, ErrChecksumMismatch
	}

	var header struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(env.Payload, &header); err != nil || header.Version == "" {
		return nil, fmt.Errorf("%w: missing version", ErrWrongStateType)
	}

	payload := env.Payload
	if olderThan(header.Version, 1, 1, 2) {
		migrated, err := migratePre112(payload)
		if err != nil {
			return nil, err
		}
		payload = migrated
	}

	var c Checkpoint
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if c.Config == nil || c.StrategyState == nil {
		return nil, fmt.Errorf("%w: incomplete record", ErrWrongStateType)
	}
	c.Version = CurrentVersion
	return &c, nil
}

// migratePre112 handles blobs that carried a dry_run_manager where the
// stat tracker now lives: the obsolete field is dropped and a defaulted
// tracker substituted.
func migratePre112(payload json.RawMessage) (json.RawMessage, error) {
	var legacy map[string]json.RawMessage
	if err := json.Unmarshal(payload, &legacy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongStateType, err)
	}
	delete(legacy, "dry_run_manager")

	if _, ok := legacy["stat_tracker"]; !ok {
		defaulted, err := json.Marshal(stats.New("", 0))
		if err != nil {
			return nil, fmt.Errorf("default stat tracker: %w", err)
		}
		legacy["stat_tracker"] = defaulted
	}
	return json.Marshal(legacy)
}

// olderThan compares a MAJOR.MINOR.HOTFIX version string against a
// threshold. Malformed versions count as older.
func olderThan(version string, major, minor, hotfix int) bool {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) != 3 {
		return true
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return true
		}
		nums[i] = n
	}
	if nums[0] != major {
		return nums[0] < major
	}
	if nums[1] != minor {
		return nums[1] < minor
	}
	return nums[2] < hotfix
}

func checksumOf(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
