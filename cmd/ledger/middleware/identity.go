package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/mediaforge/ledger/common/models"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// AccountIDKey is the context key for the authenticated account
	AccountIDKey ContextKey = "account_id"

	// TierKey is the context key for the account tier
	TierKey ContextKey = "tier"
)

// ExtractIdentity reads the X-Account-ID and X-Account-Tier headers set by
// the upstream auth collaborator and stores them in the request context.
// The ledger trusts these headers; it never authenticates.
//
// A missing tier defaults to free, an unknown tier is rejected so a
// misconfigured collaborator fails loudly instead of being billed wrong.
func ExtractIdentity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			accountID := c.Request().Header.Get("X-Account-ID")
			if accountID != "" {
				c.Set(string(AccountIDKey), accountID)
			}

			tier := models.Tier(c.Request().Header.Get("X-Account-Tier"))
			if tier == "" {
				tier = models.TierFree
			}
			if !tier.Valid() {
				return c.JSON(http.StatusBadRequest, map[string]interface{}{
					"error": "unknown account tier",
				})
			}
			c.Set(string(TierKey), tier)

			return next(c)
		}
	}
}

// GetAccountID retrieves the account ID from the request context
// Returns empty string if not set
func GetAccountID(c echo.Context) string {
	accountID := c.Get(string(AccountIDKey))
	if accountID == nil {
		return ""
	}
	return accountID.(string)
}

// GetTier retrieves the account tier from the request context
func GetTier(c echo.Context) models.Tier {
	tier := c.Get(string(TierKey))
	if tier == nil {
		return models.TierFree
	}
	return tier.(models.Tier)
}

// RequireIdentity ensures an account ID exists in context. On a missing
// identity it writes the 401 itself and returns a non-nil error so the
// handler cannot fall through; the response is already committed, so the
// error handler will not write a second body.
func RequireIdentity(c echo.Context) (string, models.Tier, error) {
	accountID := GetAccountID(c)
	if accountID == "" {
		if err := c.JSON(http.StatusUnauthorized, map[string]interface{}{
			"error": "authentication required (X-Account-ID header missing)",
		}); err != nil {
			return "", "", err
		}
		return "", "", echo.ErrUnauthorized
	}
	return accountID, GetTier(c), nil
}

// RequireAdmin guards admin-only route groups: identity must be present
// and the tier must be admin.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			accountID, tier, err := RequireIdentity(c)
			if err != nil {
				return err
			}
			if !tier.IsAdmin() {
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"error": "admin tier required",
				})
			}

			c.Set(string(AccountIDKey), accountID)
			return next(c)
		}
	}
}
