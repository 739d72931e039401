package flarum

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// IndexPage fetches one page of the discussion listing and returns the
// discussion ids it contains. Pages are 1-based and 20 wide. An empty result
// means the listing is exhausted and callers must stop paging. When
// sortCreated is set, pages are ordered by creation time ascending, which
// keeps resumption by page number stable while new discussions appear at the
// head of the default ordering.
func (c *Client) IndexPage(ctx context.Context, page int, sortCreated bool) ([]int64, error) {
	if page < 1 {
		return nil, fmt.Errorf("index page must be >= 1, got %d", page)
	}
	q := url.Values{}
	q.Set("page[offset]", strconv.Itoa((page-1)*listingPageSize))
	if sortCreated {
		q.Set("sort", "createdAt")
	}
	reqURL := fmt.Sprintf("%s/api/discussions?%s", c.baseURL, q.Encode())

	var doc listingDocument
	status, err := c.getJSON(ctx, "listing", reqURL, &doc)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("index page %d: upstream status %d", page, status)
	}

	ids := make([]int64, 0, len(doc.Data))
	for _, ref := range doc.Data {
		if ref.Type != "discussions" {
			continue
		}
		id, perr := parseID(ref.ID)
		if perr != nil {
			return nil, fmt.Errorf("index page %d: malformed response: %w", page, perr)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
