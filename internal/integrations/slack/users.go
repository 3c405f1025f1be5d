package slackbot

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
)

const userCacheTTL = 5 * time.Minute

type cachedUser struct {
	name      string
	fetchedAt time.Time
}

// userNames caches display names by Slack user ID.
type userNames struct {
	mu    sync.Mutex
	users map[string]cachedUser
	now   func() time.Time
}

func newUserNames() *userNames {
	return &userNames{users: make(map[string]cachedUser), now: time.Now}
}

// displayName resolves userID to its display name, then real name, then
// fallback. Lookup errors are logged and answered with fallback.
func (u *userNames) displayName(api API, userID, fallback string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fallback
	}

	u.mu.Lock()
	cached, ok := u.users[userID]
	u.mu.Unlock()
	if ok && u.now().Sub(cached.fetchedAt) < userCacheTTL {
		return cached.name
	}

	user, err := api.GetUserInfo(userID)
	if err != nil {
		log.Printf("slack user lookup error user=%s: %v", userID, err)
		return fallback
	}
	name := fallback
	switch {
	case user.Profile.DisplayName != "":
		name = user.Profile.DisplayName
	case user.RealName != "":
		name = user.RealName
	case user.Name != "":
		name = user.Name
	}

	u.mu.Lock()
	u.users[userID] = cachedUser{name: name, fetchedAt: u.now()}
	u.mu.Unlock()
	return name
}

// API is the subset of *slack.Client the bot and notifier use.
type API interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	PostEphemeral(channelID, userID string, options ...slack.MsgOption) (string, error)
	GetUserInfo(user string) (*slack.User, error)
}
