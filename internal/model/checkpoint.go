package model

import "time"

// CheckpointVersion is the current on-disk checkpoint document version.
const CheckpointVersion = 1

// Checkpoint is the persisted state of a paginated contact fetch.
type Checkpoint struct {
	Version    int       `json:"version"`
	DatabaseID string    `json:"database_id"`
	Cursor     Cursor    `json:"cursor,omitempty"`
	Pages      int       `json:"pages"`
	Records    []Record  `json:"records"`
	Completed  bool      `json:"completed"`
	UpdatedAt  time.Time `json:"updated_at"`

	index map[string]int
}

// NewCheckpoint returns an empty checkpoint for the given database.
func NewCheckpoint(databaseID string) *Checkpoint {
	return &Checkpoint{
		Version:    CheckpointVersion,
		DatabaseID: databaseID,
	}
}

// Empty reports whether no page has been merged yet.
func (c *Checkpoint) Empty() bool {
	return c.Pages == 0 && len(c.Records) == 0 && !c.Completed
}

// Merge appends the records of one page and advances the cursor to next.
// A record whose ID is already present replaces the earlier copy in place,
// so Records never holds two entries with the same ID.
func (c *Checkpoint) Merge(records []Record, next Cursor) {
	c.ensureIndex()
	for _, r := range records {
		if i, ok := c.index[r.ID]; ok {
			c.Records[i] = r
			continue
		}
		c.index[r.ID] = len(c.Records)
		c.Records = append(c.Records, r)
	}
	c.Cursor = next
	c.Pages++
}

// Clone returns a copy whose Merge and Complete leave c untouched.
func (c *Checkpoint) Clone() *Checkpoint {
	out := *c
	out.Records = append([]Record(nil), c.Records...)
	out.index = nil
	return &out
}

// Complete marks the fetch as finished.
func (c *Checkpoint) Complete() {
	c.Completed = true
	c.Cursor = ""
}

// Has reports whether a record with the given ID has been merged.
func (c *Checkpoint) Has(id string) bool {
	c.ensureIndex()
	_, ok := c.index[id]
	return ok
}

// Reindex rebuilds the ID index and drops duplicate IDs, keeping the last
// copy at the position of the first. It is called after decoding a
// checkpoint written by an external process.
func (c *Checkpoint) Reindex() {
	c.index = nil
	records := c.Records
	c.Records = nil
	c.ensureIndex()
	for _, r := range records {
		if i, ok := c.index[r.ID]; ok {
			c.Records[i] = r
			continue
		}
		c.index[r.ID] = len(c.Records)
		c.Records = append(c.Records, r)
	}
}

func (c *Checkpoint) ensureIndex() {
	if c.index != nil {
		return
	}
	c.index = make(map[string]int, len(c.Records))
	for i, r := range c.Records {
		c.index[r.ID] = i
	}
}
