package utils

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"coursebank/models"
)

// ErrorResponse creates a standardized error response
func ErrorResponse(c *fiber.Ctx, status int, message string, err error) error {
	response := fiber.Map{
		"success": false,
		"error":   message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	return c.Status(status).JSON(response)
}

// SuccessResponse creates a standardized success response
func SuccessResponse(data interface{}) fiber.Map {
	return fiber.Map{
		"success": true,
		"data":    data,
	}
}

// ResultsResponse wraps entitlements in the results envelope every read path
// of the entitlement API returns, single-record lookups included.
func ResultsResponse(entitlements ...models.CourseEntitlement) fiber.Map {
	results := make([]map[string]interface{}, 0, len(entitlements))
	for i := range entitlements {
		results = append(results, entitlements[i].Serialize())
	}
	return fiber.Map{"results": results}
}

// Pointer returns a pointer to the given value
func Pointer[T any](v T) *T {
	return &v
}

// RateLimitKey creates a unique key for rate limiting
func RateLimitKey(userID uint, path string) string {
	return fmt.Sprintf("rl:%d:%s", userID, path)
}
