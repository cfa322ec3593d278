package models

// PositionUnknown marks a channel whose roster position has not been fetched.
const PositionUnknown = -1

// Channel represents one channel from the MEO grid (meo_id is the upstream short-code).
type Channel struct {
	ID          int64     `json:"id,omitempty"`
	ExternalID  string    `json:"external_id,omitempty"` // upstream numeric id, not persisted
	MeoID       string    `json:"meo_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Logo        string    `json:"logo"`
	Theme       string    `json:"theme"`
	Language    string    `json:"language"`
	Region      string    `json:"region"`
	Position    int       `json:"position"`
	IsAdult     bool      `json:"is_adult"`
	Programs    []Program `json:"programs,omitempty"`
}

// WithoutPrograms returns a copy of the channel with an empty program list.
func (c Channel) WithoutPrograms() Channel {
	c.Programs = nil
	return c
}
