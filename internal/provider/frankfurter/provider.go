package frankfurter

import (
	"context"
	"strings"
	"time"

	"fxstream/internal/provider"
)

// Provider adapts Client to provider.Provider.
type Provider struct {
	client *Client
	now    func() time.Time
}

func NewProvider(client *Client) *Provider {
	return &Provider{client: client, now: time.Now}
}

func (p *Provider) Name() string { return Name }

// Fetch stamps the snapshot with the local fetch time; the upstream date only
// has day resolution.
func (p *Provider) Fetch(ctx context.Context, base string, symbols []string) (provider.Snapshot, error) {
	latest, err := p.client.GetLatest(ctx, base, symbols)
	if err != nil {
		return provider.Snapshot{}, err
	}
	return provider.Snapshot{
		Base:   latest.Base,
		Rates:  latest.Rates,
		Date:   latest.Date,
		TS:     p.now().UnixMilli(),
		Source: strings.ToLower(Name),
	}, nil
}
