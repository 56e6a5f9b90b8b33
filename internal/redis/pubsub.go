package redisx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type SessionsPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewSessionsPubSub(rdb *redis.Client) *SessionsPubSub {
	return &SessionsPubSub{
		rdb:     rdb,
		channel: ChannelSessionsChanged(),
	}
}

type sessionChangedMsg struct {
	Type      string `json:"type"`
	SessionID int64  `json:"session_id"`
	TsUnix    int64  `json:"ts_unix"`
}

func (p *SessionsPubSub) PublishSessionChanged(ctx context.Context, sessionID int64) error {
	msg := sessionChangedMsg{
		Type:      "session_changed",
		SessionID: sessionID,
		TsUnix:    time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

func (p *SessionsPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, sessionID int64)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev sessionChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				ev.SessionID != 0 {
				handler(ctx, ev.SessionID)
			}
		}
	}
}
