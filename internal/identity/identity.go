package identity

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const callerKey = "caller"

var ErrNoCaller = errors.New("no authenticated caller in context")

// Caller is the authenticated actor behind a request. Privileged callers
// (admins) are exempt from owner scoping.
type Caller struct {
	UserID     uuid.UUID
	Email      string
	Privileged bool
}

// OwnerScope returns the owner filter to apply, or nil for privileged callers.
func (c Caller) OwnerScope() *uuid.UUID {
	if c.Privileged {
		return nil
	}
	id := c.UserID
	return &id
}

// CanAccess reports whether the caller may act on a row owned by ownerID.
func (c Caller) CanAccess(ownerID uuid.UUID) bool {
	return c.Privileged || c.UserID == ownerID
}

// ForOwner returns a GORM scope filtering by owner_id. A nil scope is a no-op.
func ForOwner(scope *uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if scope == nil {
			return db
		}
		return db.Where("owner_id = ?", *scope)
	}
}

// GetUserID extracts the user UUID from JWT claims in context.
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	claims, err := claimsFrom(c)
	if err != nil {
		return uuid.Nil, err
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return uuid.Nil, errors.New("missing sub claim")
	}

	return uuid.Parse(sub)
}

// GetEmail extracts the email claim, or "" when absent.
func GetEmail(c *fiber.Ctx) string {
	claims, err := claimsFrom(c)
	if err != nil {
		return ""
	}
	email, _ := claims["email"].(string)
	return email
}

// GetRole extracts the role claim, or "" when absent.
func GetRole(c *fiber.Ctx) string {
	claims, err := claimsFrom(c)
	if err != nil {
		return ""
	}
	role, _ := claims["role"].(string)
	return role
}

// SetCaller stores the resolved caller for downstream handlers.
func SetCaller(c *fiber.Ctx, caller Caller) {
	c.Locals(callerKey, caller)
}

// GetCaller returns the caller resolved by the identity middleware.
func GetCaller(c *fiber.Ctx) (Caller, error) {
	caller, ok := c.Locals(callerKey).(Caller)
	if !ok {
		return Caller{}, ErrNoCaller
	}
	return caller, nil
}

func claimsFrom(c *fiber.Ctx) (jwt.MapClaims, error) {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok || token == nil {
		return nil, errors.New("invalid token in context")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}
	return claims, nil
}
