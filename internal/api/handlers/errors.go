package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/product-juke/Kalla-Transporter-sub000/internal/allocation"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/repositories"
	"github.com/product-juke/Kalla-Transporter-sub000/internal/workflow"
)

// respondError maps domain errors to HTTP statuses: authorization to 403,
// missing documents to 404, state conflicts to 409 and violated business
// invariants to 422.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, repositories.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrNotAuthorizedReviewer):
		status = http.StatusForbidden
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, repositories.ErrFrozenMutation),
		errors.Is(err, repositories.ErrLineImmutable):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrQuotaExceeded),
		errors.Is(err, workflow.ErrCommentRequired),
		errors.Is(err, workflow.ErrVehicleRequired),
		errors.Is(err, workflow.ErrLocationRequired),
		errors.Is(err, workflow.ErrBOPLineRequired),
		errors.Is(err, workflow.ErrReviewerMissing),
		errors.Is(err, allocation.ErrAllocationExhausted),
		errors.Is(err, allocation.ErrDegenerateAllocation),
		errors.Is(err, allocation.ErrAllocationExceedsUnpaid):
		status = http.StatusUnprocessableEntity
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
