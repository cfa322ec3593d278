package fetcher

import (
	"context"
	"fmt"
	"net/http"

	"github.com/voyagen/ptepg/internal/logging"
	"github.com/voyagen/ptepg/internal/models"
)

// FetchDetail fetches one program. It never fails outright: any upstream problem is
// reported through the returned result so a batch fan-in is never held up by one id.
func (c *Client) FetchDetail(ctx context.Context, programID string) models.DetailResult {
	body := programDetailRequest{Service: "programdetail", ProgramID: programID}
	var resp programDetailResponse
	err := c.call(ctx, endpointProgramDetail, http.MethodPost, c.endpoints.ProgramDetails, body, &resp,
		func() bool { return resp.D != nil })
	if err != nil {
		logging.Debug().Err(err).Str("program_id", programID).Msg("fetch program detail failed")
		return models.Failed(programID, err)
	}
	d := resp.D
	startAt, endAt, err := NormalizeSchedule(d.Date, d.StartTime, d.EndTime, c.location)
	if err != nil {
		return models.Failed(programID, fmt.Errorf("%w: %w", ErrUpstreamMalformed, err))
	}
	if d.UniqueID != "" && string(d.UniqueID) != programID {
		logging.Debug().Str("program_id", programID).Str("returned_id", string(d.UniqueID)).
			Msg("program detail returned a different id; keeping the requested one")
	}
	return models.Succeeded(models.Program{
		MeoProgramID:  programID,
		StartDateTime: startAt,
		EndDateTime:   endAt,
		Name:          d.ProgName,
		Description:   d.Description,
		ImgM:          d.ProgImageM,
		ImgL:          d.ProgImageL,
		ImgXL:         d.ProgImageXL,
		SeriesID:      string(d.SeriesID),
	})
}
