// Package domain contains entities without logic, just meta-data
package domain

import (
	"strconv"
)

type (
	UserID    int64
	ChannelID int64
)

func (u UserID) String() string    { return strconv.FormatInt(int64(u), 10) }
func (c ChannelID) String() string { return strconv.FormatInt(int64(c), 10) }

// ParseUserID maps a remote stream identity back to the user that publishes it.
func ParseUserID(streamID string) (UserID, bool) {
	id, err := strconv.ParseInt(streamID, 10, 64)
	if err != nil {
		return 0, false
	}
	return UserID(id), true
}
