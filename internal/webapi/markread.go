package webapi

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// MarkAsRead marks every message of threadID up to now as read and sends the
// read receipt.
func (c *Client) MarkAsRead(ctx context.Context, threadID string) error {
	form := url.Values{}
	form.Set("ids["+threadID+"]", "true")
	form.Set("watermarkTimestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	form.Set("shouldSendReadReceipt", "true")
	form.Set("commerce_last_message_type", "")
	return c.post(ctx, "/ajax/mercury/change_read_status.php", form, nil)
}
