package models

import "time"

// Program is a single guide entry. MeoProgramID is unique across all channels.
type Program struct {
	ID            int64     `json:"id,omitempty"`
	MeoProgramID  string    `json:"meo_program_id"`
	StartDateTime time.Time `json:"start_date_time"`
	EndDateTime   time.Time `json:"end_date_time"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	ImgM          string    `json:"img_m"`
	ImgL          string    `json:"img_l"`
	ImgXL         string    `json:"img_xl"`
	SeriesID      string    `json:"series_id"`
	ChannelID     int64     `json:"channel_id,omitempty"`
}
