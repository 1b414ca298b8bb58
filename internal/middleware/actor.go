package middleware

import "github.com/gin-gonic/gin"

const actorKey = "actor_id"

// Actor resolves the acting identity for the request. The identity subsystem
// lives outside this service; it forwards the resolved actor in X-Actor-ID.
// Unauthenticated internal callers run as "system".
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetHeader("X-Actor-ID")
		if actor == "" {
			actor = "system"
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorID returns the actor stamped by the Actor middleware.
func ActorID(c *gin.Context) string {
	if v, ok := c.Get(actorKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "system"
}
