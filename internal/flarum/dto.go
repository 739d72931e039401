package flarum

import (
	"fmt"
	"strconv"
	"time"
)

// The upstream speaks JSON:API: a primary "data" member plus an "included"
// array of referenced resources. Only the fields the crawler consumes are
// modeled; required attributes are pointers so their absence is detected
// rather than silently defaulted.

type discussionDocument struct {
	Data     discussionResource `json:"data"`
	Included []includedResource `json:"included"`
}

type discussionResource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id"`
	Attributes    discussionAttributes    `json:"attributes"`
	Relationships discussionRelationships `json:"relationships"`
}

type discussionAttributes struct {
	Title     *string `json:"title"`
	Frontpage *bool   `json:"frontpage"`
	CreatedAt string  `json:"createdAt"`
}

type discussionRelationships struct {
	Tags  relationshipList `json:"tags"`
	Posts relationshipList `json:"posts"`
	User  relationshipOne  `json:"user"`
}

type relationshipList struct {
	Data []resourceIdentifier `json:"data"`
}

type relationshipOne struct {
	Data *resourceIdentifier `json:"data"`
}

type resourceIdentifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type postsDocument struct {
	Data     []postResource     `json:"data"`
	Included []includedResource `json:"included"`
}

type postResource struct {
	Type          string            `json:"type"`
	ID            string            `json:"id"`
	Attributes    postAttributes    `json:"attributes"`
	Relationships postRelationships `json:"relationships"`
}

type postAttributes struct {
	ContentType string `json:"contentType"`
	ContentHTML string `json:"contentHtml"`
	CreatedAt   string `json:"createdAt"`
}

type postRelationships struct {
	User relationshipOne `json:"user"`
}

// includedResource is one entry of the "included" array. Entities of
// different types share the id namespace, so consumers must always filter by
// Type before matching ids.
type includedResource struct {
	Type       string             `json:"type"`
	ID         string             `json:"id"`
	Attributes includedAttributes `json:"attributes"`
}

type includedAttributes struct {
	Name        string `json:"name"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

type listingDocument struct {
	Data []resourceIdentifier `json:"data"`
}

// user carries the author fields resolved from an included users entry.
type user struct {
	Username    string
	DisplayName string
}

// userMap indexes included resources of type "users" by numeric id.
func userMap(included []includedResource) map[int64]user {
	users := make(map[int64]user)
	for _, res := range included {
		if res.Type != "users" {
			continue
		}
		id, err := strconv.ParseInt(res.ID, 10, 64)
		if err != nil {
			continue
		}
		users[id] = user{
			Username:    res.Attributes.Username,
			DisplayName: res.Attributes.DisplayName,
		}
	}
	return users
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse id %q: %w", raw, err)
	}
	return id, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return ts, nil
}
