package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/billingsync/internal/pkg/session"
	"github.com/ManuelReschke/billingsync/internal/pkg/usercontext"
)

// UserContextMiddleware builds the user context from the shared session.
// Login lives in the main application; this service only reads what it
// stored there.
func UserContextMiddleware(c *fiber.Ctx) error {
	store := session.GetSessionStore()
	if store == nil {
		usercontext.Set(c, usercontext.Anonymous)
		return c.Next()
	}

	sess, err := store.Get(c)
	if err != nil {
		usercontext.Set(c, usercontext.Anonymous)
		return c.Next()
	}

	userID, ok := toUserID(sess.Get(usercontext.KeyUserID))
	if !ok {
		usercontext.Set(c, usercontext.Anonymous)
		return c.Next()
	}

	username, _ := sess.Get(usercontext.KeyUsername).(string)
	isAdmin, _ := sess.Get(usercontext.KeyIsAdmin).(bool)
	usercontext.Set(c, usercontext.UserContext{
		UserID:     userID,
		Username:   username,
		IsLoggedIn: true,
		IsAdmin:    isAdmin,
	})
	return c.Next()
}

// toUserID accepts the numeric shapes a session codec may hand back.
func toUserID(v interface{}) (uint, bool) {
	switch id := v.(type) {
	case uint:
		return id, id > 0
	case uint64:
		return uint(id), id > 0
	case int:
		return uint(id), id > 0
	case int64:
		return uint(id), id > 0
	case float64:
		return uint(id), id > 0
	case string:
		n, err := strconv.ParseUint(id, 10, 64)
		return uint(n), err == nil && n > 0
	}
	return 0, false
}
