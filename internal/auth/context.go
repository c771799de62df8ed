package auth

import (
	"context"

	"github.com/google/uuid"
)

// --- Context Helper Functions ---

// GetUserIDFromContext retrieves the UserID (uuid.UUID) from the request context.
// Returns the ID and true if found, otherwise uuid.Nil and false.
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return userID, ok
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// ThreadKey scopes a client-chosen thread id to the authenticated user, if any.
func ThreadKey(ctx context.Context, threadID string) string {
	if userID, ok := GetUserIDFromContext(ctx); ok && userID != uuid.Nil {
		return userID.String() + ":" + threadID
	}
	return threadID
}
