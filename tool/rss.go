package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/musedev/muse/errors"
)

type ReadRSSRequest struct {
	URL   string `json:"url" jsonschema_description:"RSS or Atom feed URL"`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Items to return, default 10"`
}

func registerRSSTools(r *Registry) {
	Register(r, "read_rss",
		"Read an RSS/Atom feed and list its recent items with titles, links and dates.",
		ClassNetwork, readRSS)
}

func readRSS(ctx context.Context, in ReadRSSRequest) (string, error) {
	feed, err := gofeed.NewParser().ParseURLWithContext(in.URL, ctx)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse feed %s", in.URL)
	}

	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s — %d item(s)\n", feed.Title, len(feed.Items))
	for i, item := range feed.Items {
		if i >= limit {
			break
		}
		published := ""
		if item.PublishedParsed != nil {
			published = item.PublishedParsed.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "\n%d. %s\n   %s", i+1, item.Title, item.Link)
		if published != "" {
			fmt.Fprintf(&b, "\n   published %s", published)
		}
	}
	return b.String(), nil
}
