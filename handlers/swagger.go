package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers the API documentation endpoints.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(r gin.IRoutes) {
	r.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	r.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

// RegisterIndex serves the API index at GET /.
func RegisterIndex(r gin.IRoutes, name, version string) {
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": name,
			"version": version,
			"endpoints": gin.H{
				"auth":          "/api/auth",
				"users":         "/api/users",
				"listings":      "/api/listings",
				"cars":          "/api/cars",
				"locations":     "/api/locations",
				"media":         "/api/media",
				"conversations": "/api/conversations",
				"notifications": "/api/notifications",
				"payments":      "/api/payments",
				"support":       "/api/support",
				"admin":         "/api/admin",
				"docs":          "/swagger/index.html",
				"health":        "/health",
			},
		})
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>Kolesa.kz API - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// OpenAPI document of the public surface. Responses use the
// {success, message, data, errors} envelope.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "Kolesa.kz API", "version": "1.0.0" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer", "bearerFormat": "JWT" } },
    "schemas": {
      "Envelope": { "type": "object", "properties": { "success": {"type":"boolean"}, "message": {"type":"string"}, "data": {}, "errors": {"type":"object","additionalProperties":{"type":"string"}} } }
    }
  },
  "paths": {
    "/api/auth/register": {
      "post": {
        "tags": ["auth"], "summary": "Register with phone and password",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["phone","password"],"properties":{"phone":{"type":"string"},"email":{"type":"string"},"password":{"type":"string"},"first_name":{"type":"string"},"last_name":{"type":"string"},"user_type":{"type":"string","enum":["regular","pro","dealer"]}}}}}},
        "responses": { "201": { "description": "user and tokens" }, "400": { "description": "validation failed" }, "409": { "description": "phone or email taken" } }
      }
    },
    "/api/auth/login": {
      "post": {
        "tags": ["auth"], "summary": "Log in by phone or email",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["password"],"properties":{"identifier":{"type":"string"},"password":{"type":"string"}}}}}},
        "responses": { "200": { "description": "tokens returned" }, "401": { "description": "invalid credentials" }, "429": { "description": "too many failed attempts" } }
      }
    },
    "/api/auth/refresh": {
      "post": { "tags": ["auth"], "summary": "Refresh access token", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"refresh_token":{"type":"string"}}}}}}, "responses": { "200": { "description": "new access token" }, "401": { "description": "invalid refresh" } } }
    },
    "/api/auth/logout": {
      "post": { "tags": ["auth"], "security": [{"bearer":[]}], "summary": "Revoke the access token and optionally the refresh token", "responses": { "200": { "description": "logged out" } } }
    },
    "/api/auth/send-verification-code": { "post": { "tags": ["auth"], "summary": "Text a phone verification or password reset code", "responses": { "200": { "description": "code sent" } } } },
    "/api/auth/verify-phone": { "post": { "tags": ["auth"], "summary": "Confirm the phone with a 6-digit code", "responses": { "200": { "description": "verified" }, "400": { "description": "invalid code" } } } },
    "/api/auth/verify-email": { "post": { "tags": ["auth"], "summary": "Confirm the email with a mailed token", "responses": { "200": { "description": "verified" } } } },
    "/api/auth/reset-password": { "post": { "tags": ["auth"], "summary": "Set a new password from a reset code", "responses": { "200": { "description": "password reset" } } } },
    "/api/auth/change-password": { "post": { "tags": ["auth"], "security": [{"bearer":[]}], "summary": "Change the password", "responses": { "200": { "description": "password changed" } } } },
    "/api/auth/oidc": { "post": { "tags": ["auth"], "summary": "Log in with a Keycloak ID token or authorization code", "responses": { "200": { "description": "tokens returned" }, "503": { "description": "not configured" } } } },
    "/api/auth/me": { "get": { "tags": ["auth"], "security": [{"bearer":[]}], "summary": "Current user", "responses": { "200": { "description": "user" } } } },
    "/api/users/profile": {
      "get": { "tags": ["users"], "security": [{"bearer":[]}], "summary": "Own profile", "responses": { "200": { "description": "user" } } },
      "put": { "tags": ["users"], "security": [{"bearer":[]}], "summary": "Update own profile", "responses": { "200": { "description": "user" } } }
    },
    "/api/users/settings": {
      "get": { "tags": ["users"], "security": [{"bearer":[]}], "summary": "Own settings", "responses": { "200": { "description": "settings" } } },
      "put": { "tags": ["users"], "security": [{"bearer":[]}], "summary": "Update own settings", "responses": { "200": { "description": "settings" } } }
    },
    "/api/users/search": { "get": { "tags": ["users"], "summary": "Search sellers", "responses": { "200": { "description": "page of users" } } } },
    "/api/users/{id}/public-profile": { "get": { "tags": ["users"], "summary": "Public seller card", "responses": { "200": { "description": "card" }, "404": { "description": "not found" } } } },
    "/api/users/{id}/reviews": {
      "get": { "tags": ["users"], "summary": "Seller reviews", "responses": { "200": { "description": "page of reviews" } } },
      "post": { "tags": ["users"], "security": [{"bearer":[]}], "summary": "Review a seller", "responses": { "201": { "description": "review" } } }
    },
    "/api/cars/brands": { "get": { "tags": ["cars"], "summary": "Car brands", "responses": { "200": { "description": "brands" } } } },
    "/api/cars/brands/{id}/models": { "get": { "tags": ["cars"], "summary": "Models of a brand", "responses": { "200": { "description": "models" } } } },
    "/api/cars/models/{id}/generations": { "get": { "tags": ["cars"], "summary": "Generations of a model", "responses": { "200": { "description": "generations" } } } },
    "/api/cars/reference-data": { "get": { "tags": ["cars"], "summary": "Body, engine, transmission, drive types and colors", "responses": { "200": { "description": "reference data" } } } },
    "/api/locations/cities": { "get": { "tags": ["locations"], "summary": "Cities", "responses": { "200": { "description": "cities" } } } },
    "/api/locations/nearby": { "get": { "tags": ["locations"], "summary": "Cities within a radius", "responses": { "200": { "description": "cities with distance" } } } },
    "/api/listings": {
      "get": { "tags": ["listings"], "summary": "Search active listings", "responses": { "200": { "description": "page of listings" } } },
      "post": { "tags": ["listings"], "security": [{"bearer":[]}], "summary": "Create a listing", "responses": { "201": { "description": "listing" } } }
    },
    "/api/listings/{id}": {
      "get": { "tags": ["listings"], "summary": "Listing detail", "responses": { "200": { "description": "listing" }, "404": { "description": "not found" } } },
      "put": { "tags": ["listings"], "security": [{"bearer":[]}], "summary": "Update a listing", "responses": { "200": { "description": "listing" } } },
      "delete": { "tags": ["listings"], "security": [{"bearer":[]}], "summary": "Delete a listing", "responses": { "200": { "description": "deleted" } } }
    },
    "/api/listings/{id}/favorite": { "post": { "tags": ["listings"], "security": [{"bearer":[]}], "summary": "Toggle favorite", "responses": { "200": { "description": "favorite state" } } } },
    "/api/media/upload": { "post": { "tags": ["media"], "security": [{"bearer":[]}], "summary": "Upload a file", "responses": { "201": { "description": "media" } } } },
    "/api/conversations": {
      "get": { "tags": ["conversations"], "security": [{"bearer":[]}], "summary": "Own conversations", "responses": { "200": { "description": "page of conversations" } } },
      "post": { "tags": ["conversations"], "security": [{"bearer":[]}], "summary": "Start a conversation", "responses": { "201": { "description": "conversation" } } }
    },
    "/api/conversations/{id}/messages": { "post": { "tags": ["conversations"], "security": [{"bearer":[]}], "summary": "Send a message", "responses": { "201": { "description": "message" } } } },
    "/api/notifications": { "get": { "tags": ["notifications"], "security": [{"bearer":[]}], "summary": "Own notifications", "responses": { "200": { "description": "page of notifications" } } } },
    "/api/payments/services": { "get": { "tags": ["payments"], "summary": "Promotion price list", "responses": { "200": { "description": "services" } } } },
    "/api/payments/promote-listing": { "post": { "tags": ["payments"], "security": [{"bearer":[]}], "summary": "Buy a promotion", "responses": { "201": { "description": "transaction" }, "402": { "description": "insufficient balance" } } } },
    "/api/payments/webhook/{provider}": { "post": { "tags": ["payments"], "summary": "Provider callback", "responses": { "200": { "description": "processed" } } } },
    "/api/support/tickets": {
      "get": { "tags": ["support"], "security": [{"bearer":[]}], "summary": "Own tickets", "responses": { "200": { "description": "page of tickets" } } },
      "post": { "tags": ["support"], "security": [{"bearer":[]}], "summary": "Open a ticket", "responses": { "201": { "description": "ticket" } } }
    },
    "/api/support/faq": { "get": { "tags": ["support"], "summary": "FAQ", "responses": { "200": { "description": "faq" } } } },
    "/api/admin/dashboard": { "get": { "tags": ["admin"], "security": [{"bearer":[]}], "summary": "Admin dashboard", "responses": { "200": { "description": "counts" }, "403": { "description": "not an admin" } } } },
    "/api/admin/moderation": { "get": { "tags": ["admin"], "security": [{"bearer":[]}], "summary": "Moderation queue", "responses": { "200": { "description": "page of items" } } } },
    "/health": { "get": { "summary": "Liveness and dependency checks", "responses": { "200": { "description": "healthy or degraded" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "responses": { "200": { "description": "metrics" } } } }
  }
}`
