package fetcher

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// flexString accepts a JSON string or number; the provider is not consistent about ids.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type gridResponse struct {
	D *struct {
		Channels []gridChannel `json:"channels"`
	} `json:"d"`
}

type gridChannel struct {
	ID      json.Number `json:"id"`
	Sigla   string      `json:"sigla"`
	Name    string      `json:"name"`
	Logo    string      `json:"logo"`
	IsAdult bool        `json:"isAdult"`
}

func (g gridChannel) numericID() int64 {
	n, err := strconv.ParseInt(g.ID.String(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

type channelInfoResponse struct {
	Result *struct {
		Description     string `json:"Description"`
		Thematic        string `json:"Thematic"`
		Language        string `json:"Language"`
		Region          string `json:"Region"`
		ChannelPosition *int   `json:"ChannelPosition"`
	} `json:"Result"`
}

type programsRequest struct {
	Service   string   `json:"service"`
	Channels  []string `json:"channels"`
	DateStart string   `json:"dateStart"`
	DateEnd   string   `json:"dateEnd"`
	AccountID string   `json:"accountID"`
}

type programsResponse struct {
	D *struct {
		Channels []struct {
			Sigla    string `json:"sigla"`
			Programs []struct {
				UniqueID flexString `json:"uniqueId"`
			} `json:"programs"`
		} `json:"channels"`
	} `json:"d"`
}

type programDetailRequest struct {
	Service   string `json:"service"`
	ProgramID string `json:"programID"`
	AccountID string `json:"accountID"`
}

type programDetailResponse struct {
	D *struct {
		UniqueID    flexString `json:"uniqueId"`
		Date        string     `json:"date"`
		StartTime   string     `json:"startTime"`
		EndTime     string     `json:"endTime"`
		ProgName    string     `json:"progName"`
		Description string     `json:"description"`
		ProgImageM  string     `json:"progImageM"`
		ProgImageL  string     `json:"progImageL"`
		ProgImageXL string     `json:"progImageXL"`
		SeriesID    flexString `json:"seriesID"`
	} `json:"d"`
}
