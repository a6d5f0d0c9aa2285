package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/abyssgrid/gridmarket/internal/types"
)

// errorMapping binds a sentinel error to its HTTP status and machine code.
type errorMapping struct {
	status int
	code   string
}

var errorMappings = []struct {
	err     interface{ Is(error) bool }
	mapping errorMapping
}{
	{types.ErrInvalidAmount, errorMapping{http.StatusBadRequest, "VALIDATION_ERROR"}},
	{types.ErrInvalidRequest, errorMapping{http.StatusBadRequest, "VALIDATION_ERROR"}},
	{types.ErrProviderNotFound, errorMapping{http.StatusNotFound, "NOT_FOUND"}},
	{types.ErrReceiptNotFound, errorMapping{http.StatusNotFound, "NOT_FOUND"}},
	{types.ErrInsufficientStake, errorMapping{http.StatusBadRequest, "INSUFFICIENT_STAKE"}},
	{types.ErrDuplicateClaim, errorMapping{http.StatusConflict, "DUPLICATE_CLAIM"}},
	{types.ErrNoPeerAvailable, errorMapping{http.StatusServiceUnavailable, "NO_PEER_AVAILABLE"}},
	{types.ErrComputeTimeout, errorMapping{http.StatusGatewayTimeout, "COMPUTE_TIMEOUT"}},
	{types.ErrRequestCanceled, errorMapping{http.StatusRequestTimeout, "REQUEST_CANCELED"}},
	{types.ErrProofStructure, errorMapping{http.StatusUnprocessableEntity, "PROOF_VERIFICATION"}},
}

// respondError maps a domain error to its HTTP shape. Unmapped errors are
// internal and their details are not leaked to the caller.
func respondError(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if m.err.Is(err) {
			c.JSON(m.mapping.status, gin.H{
				"error": gin.H{
					"code":    m.mapping.code,
					"message": err.Error(),
				},
			})
			return
		}
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "internal error",
		},
	})
}

// respondValidation reports a request shape problem.
func respondValidation(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{
			"code":    "VALIDATION_ERROR",
			"message": message,
		},
	})
}
