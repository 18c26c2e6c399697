package webapi

import (
	"context"
	"fmt"
	"net/url"
)

// errCodeNoProfile is returned for accounts whose profile cannot be shown; the
// payload is still present but empty.
const errCodeNoProfile = 3252001

type userInfoReply struct {
	Payload struct {
		Profiles map[string]struct {
			Name      string `json:"name"`
			FirstName string `json:"firstName"`
			Vanity    string `json:"vanity"`
		} `json:"profiles"`
	} `json:"payload"`
}

// UserName resolves the display name of userID.
func (c *Client) UserName(ctx context.Context, userID string) (string, error) {
	form := url.Values{}
	form.Set("ids[0]", userID)
	var r userInfoReply
	if err := c.post(ctx, "/chat/user_info/", form, &r, errCodeNoProfile); err != nil {
		return "", err
	}
	p, ok := r.Payload.Profiles[userID]
	if !ok || p.Name == "" {
		return "", fmt.Errorf("webapi: no profile for %s", userID)
	}
	return p.Name, nil
}
