package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/marko-app/marko/internal/serviceerr"
)

// Query keys. A key is the path the query reads.
const (
	KeyHealth        = "/healthz"
	KeyGroups        = "/api/v1/groups"
	KeyNotifications = "/api/v1/notifications"

	pathLocations = "/api/v1/locations"
)

func MembersKey(groupID string) string {
	return KeyGroups + "/" + url.PathEscape(groupID) + "/members"
}

func joinPath(groupID string) string {
	return KeyGroups + "/" + url.PathEscape(groupID) + "/join"
}

// Health reports the backend liveness; any response body means healthy.
func (c *Client) Health(ctx context.Context) (Health, error) {
	return query(ctx, c.queries, KeyHealth, func(ctx context.Context) (Health, error) {
		raw, err := c.do(ctx, "Health", http.MethodGet, KeyHealth, nil)
		if err != nil {
			return Health{}, err
		}
		body := strings.TrimSpace(string(raw))
		return Health{OK: body != "", Body: body}, nil
	})
}

// Groups lists the groups of the signed-in user.
func (c *Client) Groups(ctx context.Context) ([]Group, error) {
	return query(ctx, c.queries, KeyGroups, func(ctx context.Context) ([]Group, error) {
		raw, err := c.do(ctx, "Groups", http.MethodGet, KeyGroups, nil)
		if err != nil {
			return nil, err
		}
		return decodeList[Group](raw, "groups")
	})
}

// GroupMembers lists the members of a group. An empty id means there is
// no group to ask about: nothing is sent and the list is empty.
func (c *Client) GroupMembers(ctx context.Context, groupID string) ([]Member, error) {
	if groupID == "" {
		return []Member{}, nil
	}

	key := MembersKey(groupID)
	return query(ctx, c.queries, key, func(ctx context.Context) ([]Member, error) {
		raw, err := c.do(ctx, "GroupMembers", http.MethodGet, key, nil)
		if err != nil {
			return nil, err
		}
		return decodeList[Member](raw, "members")
	})
}

func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	return query(ctx, c.queries, KeyNotifications, func(ctx context.Context) ([]Notification, error) {
		raw, err := c.do(ctx, "Notifications", http.MethodGet, KeyNotifications, nil)
		if err != nil {
			return nil, err
		}
		return decodeList[Notification](raw, "notifications")
	})
}

type createGroupRequest struct {
	Name string `json:"name"`
}

// CreateGroup creates a group. The name is validated by the server.
func (c *Client) CreateGroup(ctx context.Context, name string) (Group, error) {
	raw, err := c.do(ctx, "CreateGroup", http.MethodPost, KeyGroups, createGroupRequest{Name: name})
	if err != nil {
		return Group{}, err
	}

	c.queries.invalidate(KeyGroups)

	return decodeObject[Group](raw, "group")
}

func (c *Client) JoinGroup(ctx context.Context, groupID string) (JoinResult, error) {
	if groupID == "" {
		return JoinResult{}, serviceerr.New(serviceerr.CodeValidation, "group id is required")
	}

	raw, err := c.do(ctx, "JoinGroup", http.MethodPost, joinPath(groupID), nil)
	if err != nil {
		return JoinResult{}, err
	}

	c.queries.invalidate(KeyGroups, MembersKey(groupID))

	return decodeJoin(raw), nil
}

// PostLocationUpdate reports a check-in and returns the server's response
// as sent.
func (c *Client) PostLocationUpdate(ctx context.Context, update LocationUpdate) (json.RawMessage, error) {
	if update.CountryCode == "" || update.Status == "" {
		return nil, serviceerr.New(serviceerr.CodeValidation, "country code and status are required")
	}

	raw, err := c.do(ctx, "PostLocationUpdate", http.MethodPost, pathLocations, update)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}
