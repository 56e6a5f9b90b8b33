package redisx

import "fmt"

const ns = "venuepos:v1"

func KeyProducts() string {
	return ns + ":products"
}

func KeySessionReport(sessionID int64) string {
	return fmt.Sprintf("%s:session:%d:report", ns, sessionID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func ChannelSessionsChanged() string {
	return ns + ":sessions:changed"
}
