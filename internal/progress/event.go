package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names the milestone an Event records.
type Stage string

// Supported stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
	StagePageDone     Stage = "PAGE_DONE"
	StageDetailDone   Stage = "DETAIL_DONE"
	StageDetailMiss   Stage = "DETAIL_MISS"
	StageCheckpoint   Stage = "CHECKPOINT_SAVED"
	StageAssetDone    Stage = "ASSET_DONE"
	StageAssetSkipped Stage = "ASSET_SKIPPED"
	StageAssetError   Stage = "ASSET_ERROR"
)

// Event is one progress milestone of a run.
type Event struct {
	// RunID identifies the crawl run (UUID bytes).
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// RecordID scopes detail and asset events.
	RecordID int64
	// Page is the search page for PAGE_DONE and the next page for CHECKPOINT_SAVED.
	Page int64
	// Count is the number of records ingested by a page.
	Count int64
	// Watermark accompanies CHECKPOINT_SAVED.
	Watermark int64
	Dur       time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageCheckpoint:
	case StagePageDone:
		if e.Page < 0 || e.Count < 0 {
			return errors.New("page events require non-negative page and count")
		}
	case StageDetailDone, StageDetailMiss, StageAssetDone, StageAssetSkipped, StageAssetError:
		if e.RecordID < 0 {
			return errors.New("record id must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID back to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// Reporter stamps events with a run ID and timestamp before emitting them.
// The zero value, or one with a nil Emitter, discards everything.
type Reporter struct {
	Emitter Emitter
	RunID   [16]byte
	Now     func() time.Time
}

// Report fills RunID and TS and forwards evt.
func (r Reporter) Report(evt Event) {
	if r.Emitter == nil {
		return
	}
	evt.RunID = r.RunID
	if r.Now != nil {
		evt.TS = r.Now()
	} else {
		evt.TS = time.Now().UTC()
	}
	r.Emitter.Emit(evt)
}
