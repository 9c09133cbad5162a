package reindex

import (
	"encoding/json"
	"fmt"
	"time"
)

// WatermarkRange is an inclusive [Start, End] range of watermarks.
// It is encoded as a two element JSON array.
type WatermarkRange struct {
	Start int64
	End   int64
}

// MarshalJSON encodes the range as [start, end].
func (r WatermarkRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{r.Start, r.End})
}

// UnmarshalJSON decodes [start, end].
func (r *WatermarkRange) UnmarshalJSON(data []byte) error {
	var pair []int64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("watermark range: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("watermark range: expected 2 elements, got %d", len(pair))
	}
	r.Start, r.End = pair[0], pair[1]
	return nil
}

// Batching bounds the work done per page.
type Batching struct {
	Size             int `json:"size"`
	MaxParallelCount int `json:"maxParallelCount"`
}

// Checkpoint is the durable progress of one operation.
// Pages are processed from StartWatermark downwards, so Completed always ends at StartWatermark.
type Checkpoint struct {
	Completed       *WatermarkRange `json:"completedWatermarkRange,omitempty"`
	CreatedTime     time.Time       `json:"createdTime"`
	TagKeys         []int64         `json:"tagKeys"`
	Batching        Batching        `json:"batching"`
	PercentComplete int             `json:"percentComplete"`
	StartWatermark  int64           `json:"startWatermark"`
}

// NewCheckpoint creates the initial checkpoint of an operation covering watermarks up to start.
func NewCheckpoint(start int64, tagKeys []int64, batching Batching, now time.Time) Checkpoint {
	cp := Checkpoint{
		CreatedTime:    now.UTC(),
		TagKeys:        tagKeys,
		Batching:       batching,
		StartWatermark: start,
	}
	if start < 1 {
		cp.PercentComplete = 100
	}
	return cp
}

// Next returns the highest watermark still to process. Done once it drops below 1.
func (c Checkpoint) Next() int64 {
	if c.Completed == nil {
		return c.StartWatermark
	}
	return c.Completed.Start - 1
}

// Done reports whether every watermark down to 1 has been processed.
func (c Checkpoint) Done() bool {
	return c.Next() < 1
}

// Advance records that every watermark from lowest up to StartWatermark has been processed.
// Checkpoints never move backwards: a lowest above the current start is ignored.
func (c Checkpoint) Advance(lowest int64) Checkpoint {
	if c.Completed != nil && lowest >= c.Completed.Start {
		return c
	}
	c.Completed = &WatermarkRange{Start: lowest, End: c.StartWatermark}
	c.PercentComplete = c.percent()
	return c
}

// Finish marks the checkpoint complete regardless of remaining watermarks.
func (c Checkpoint) Finish() Checkpoint {
	if c.StartWatermark >= 1 {
		c.Completed = &WatermarkRange{Start: 1, End: c.StartWatermark}
	}
	c.PercentComplete = 100
	return c
}

func (c Checkpoint) percent() int {
	if c.StartWatermark < 1 || c.Completed == nil {
		return 0
	}
	done := c.StartWatermark - c.Completed.Start + 1
	p := int(done * 100 / c.StartWatermark)
	if p > 100 {
		p = 100
	}
	return p
}

// Encode serializes the checkpoint for storage.
func (c Checkpoint) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// DecodeCheckpoint parses a stored checkpoint. Unknown fields are ignored.
func DecodeCheckpoint(data []byte) (Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return c, nil
}
