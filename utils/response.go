package utils

import "github.com/gin-gonic/gin"

// OK writes a success response. Payload fields are merged at the top level of
// the body next to "success": {"success":true,"balance":42,...}.
func OK(ctx *gin.Context, data gin.H) {
	body := gin.H{"success": true}
	for k, v := range data {
		body[k] = v
	}
	ctx.JSON(200, body)
}

// Fail writes a structured error response. No error crosses the HTTP boundary
// unstructured; unexpected causes are logged server-side and surfaced as a
// generic message.
func Fail(ctx *gin.Context, status int, message string) {
	ctx.JSON(status, gin.H{
		"success": false,
		"message": message,
	})
}
