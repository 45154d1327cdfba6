package board

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/posting"
)

// Search runs one board query per title and location pair. Results are
// deduplicated by URL and a failing query does not discard the others.
func (c *Client) Search(ctx context.Context, q posting.Query) ([]*posting.Posting, []error) {
	var (
		found []*posting.Posting
		errs  []error
		seen  = make(map[string]struct{})
	)

	for _, params := range buildQueries(q, c.perPage) {
		if q.Limit > 0 && len(found) >= q.Limit {
			break
		}

		limit := 0
		if q.Limit > 0 {
			limit = q.Limit - len(found)
		}

		items, err := c.GetItems(ctx, c.APIURL+postingsPath, params, limit)
		if err != nil {
			errs = append(errs, fmt.Errorf("query %q: %w", params.Encode(), err))
			continue
		}

		postings, err := decodePostings(items)
		if err != nil {
			errs = append(errs, fmt.Errorf("query %q: %w", params.Encode(), err))
			continue
		}

		for _, p := range postings {
			if _, dup := seen[p.Key()]; dup && p.Key() != "" {
				continue
			}
			seen[p.Key()] = struct{}{}
			found = append(found, p)
		}
	}

	c.logger.Info("postings found", zap.Int("count", len(found)), zap.Int("errors", len(errs)))
	return found, errs
}

func buildQueries(q posting.Query, perPage int) []url.Values {
	titles := q.Titles
	if len(titles) == 0 {
		titles = []string{""}
	}
	locations := q.Locations
	if len(locations) == 0 {
		locations = []string{""}
	}

	queries := make([]url.Values, 0, len(titles)*len(locations))
	for _, title := range titles {
		for _, location := range locations {
			params := url.Values{}
			if title != "" {
				params.Set("q", title)
			}
			if location != "" {
				params.Set("location", location)
			}
			if q.Remote {
				params.Set("remote", "true")
			}
			for _, t := range q.EmploymentTypes {
				params.Add("type", string(t))
			}
			for _, k := range q.Keywords {
				params.Add("keyword", k)
			}
			params.Set("per_page", strconv.Itoa(perPage))
			queries = append(queries, params)
		}
	}
	return queries
}

func decodePostings(items []Item) ([]*posting.Posting, error) {
	var postings []*posting.Posting

	cfg := &mapstructure.DecoderConfig{
		Result:  &postings,
		TagName: "json",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(items); err != nil {
		return nil, fmt.Errorf("decoding postings: %w", err)
	}

	return postings, nil
}
