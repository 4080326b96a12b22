package remote

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// NextRideID lists the account's existing rides and returns the next
// unused identifier: 0 when none exist, max+1 otherwise. Keys that are
// not non-negative integers are ignored.
//
// This is read-then-decide with no distributed lock. A single physical
// device is the only writer for its account in the deployed topology, so
// two concurrent allocations colliding is accepted as out of scope. If
// multi-device ride creation ever becomes a requirement this needs a
// server-side atomic counter instead of a client-computed max.
func (c *Client) NextRideID(ctx context.Context, account string) (int, error) {
	account = strings.TrimSpace(account)
	var rides map[string]json.RawMessage
	err := c.Get(ctx, "users/"+account+"/rides", &rides)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	next := 0
	for key := range rides {
		id, convErr := strconv.Atoi(key)
		if convErr != nil || id < 0 {
			continue
		}
		if id+1 > next {
			next = id + 1
		}
	}
	return next, nil
}
