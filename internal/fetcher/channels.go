package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/voyagen/ptepg/internal/logging"
	"github.com/voyagen/ptepg/internal/models"
)

// FetchChannels returns the filtered channel roster with empty program lists.
// Any upstream failure yields an empty list; it never returns an error.
// A channel is kept only if its numeric id is positive and it has a short-code.
func (c *Client) FetchChannels(ctx context.Context) []models.Channel {
	var resp gridResponse
	err := c.call(ctx, endpointGrid, http.MethodPost, c.endpoints.Grid, nil, &resp, func() bool {
		return resp.D != nil && resp.D.Channels != nil
	})
	if err != nil {
		logging.Warn().Err(err).Msg("fetch channels failed")
		return nil
	}

	channels := make([]models.Channel, 0, len(resp.D.Channels))
	for _, g := range resp.D.Channels {
		id := g.numericID()
		if id <= 0 || g.Sigla == "" {
			continue
		}
		channels = append(channels, models.Channel{
			ExternalID: fmt.Sprint(id),
			MeoID:      g.Sigla,
			Name:       g.Name,
			Logo:       g.Logo,
			Position:   models.PositionUnknown,
			IsAdult:    g.IsAdult,
		})
	}
	logging.Info().Int("received", len(resp.D.Channels)).Int("kept", len(channels)).Msg("fetched channels")

	if c.enrich && len(channels) > 0 {
		c.enrichChannels(ctx, channels)
	}
	return channels
}

// enrichChannels fills channel details in place, one concurrent call per channel.
func (c *Client) enrichChannels(ctx context.Context, channels []models.Channel) {
	var g errgroup.Group
	for i := range channels {
		g.Go(func() error {
			channels[i] = c.FetchChannelDetails(ctx, channels[i])
			return nil
		})
	}
	_ = g.Wait()
}

// FetchChannelDetails fills description, theme, language, region and position from the
// channel info endpoint. On any failure ch is returned unchanged.
func (c *Client) FetchChannelDetails(ctx context.Context, ch models.Channel) models.Channel {
	u := c.endpoints.ChannelInfo + "?callLetter=" + url.QueryEscape(ch.MeoID)
	var resp channelInfoResponse
	err := c.call(ctx, endpointChannelInfo, http.MethodGet, u, nil, &resp, func() bool { return resp.Result != nil })
	if err != nil {
		logging.Warn().Err(err).Str("meo_id", ch.MeoID).Msg("fetch channel details failed")
		return ch
	}
	ch.Description = resp.Result.Description
	ch.Theme = resp.Result.Thematic
	ch.Language = resp.Result.Language
	ch.Region = resp.Result.Region
	if resp.Result.ChannelPosition != nil {
		ch.Position = *resp.Result.ChannelPosition
	}
	logging.Debug().Str("meo_id", ch.MeoID).Msg("fetched channel details")
	return ch
}
