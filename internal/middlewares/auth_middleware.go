package middlewares

import (
	"strings"

	"github.com/foldstream/foldstream/internal/auth"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

const (
	LocalsWorkerKeyID   = "workerKeyId"
	LocalsAppIdentifier = "appIdentifier"
)

func bearerToken(c fiber.Ctx) string {
	header := c.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return token
}

// WorkerAuthMiddleware admits only requests carrying a valid worker service
// credential and exposes the worker key id to handlers.
func WorkerAuthMiddleware(verifier *auth.TokenVerifier) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing bearer token",
			})
		}

		principal, err := verifier.VerifyToken(token)
		if err != nil {
			log.Warn().Err(err).Str("path", c.Path()).Msg("Rejected worker request")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid credential",
			})
		}

		if principal.Kind != auth.PrincipalWorker {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Worker credential required",
			})
		}

		c.Locals(LocalsWorkerKeyID, principal.WorkerKeyID)

		return c.Next()
	}
}

// AppAuthMiddleware admits only app credentials and pins the credential to
// the app identifier in the path, so one app cannot emit as another.
func AppAuthMiddleware(verifier *auth.TokenVerifier) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing bearer token",
			})
		}

		principal, err := verifier.VerifyToken(token)
		if err != nil {
			log.Warn().Err(err).Str("path", c.Path()).Msg("Rejected app request")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid credential",
			})
		}

		if principal.Kind != auth.PrincipalApp {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "App credential required",
			})
		}

		if appIdentifier := c.Params("appIdentifier"); appIdentifier != "" && appIdentifier != principal.AppIdentifier {
			log.Warn().
				Str("credential_app", principal.AppIdentifier).
				Str("path_app", appIdentifier).
				Msg("App credential does not match path")

			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Credential does not match app",
			})
		}

		c.Locals(LocalsAppIdentifier, principal.AppIdentifier)

		return c.Next()
	}
}
