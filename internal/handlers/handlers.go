package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/biomatch/internal/repository"
	"github.com/example/biomatch/internal/usecase"
	"github.com/example/biomatch/internal/vision"
)

// MaxBodySize bounds request bodies. Base64-encoded images inflate by a
// third, so this allows roughly 24 MB of raw image data.
const MaxBodySize = 32 << 20

type enrollRequest struct {
	FirstName      string  `json:"first_name" binding:"required"`
	LastName       string  `json:"last_name"`
	Address        string  `json:"address"`
	AdditionalInfo string  `json:"additional_info"`
	FaceImage      *string `json:"face_image"`
	ThumbImage     *string `json:"thumb_image"`
}

type searchRequest struct {
	Image string `json:"image" binding:"required"`
	Type  string `json:"type" binding:"required"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. The health probe
// stays open; everything else sits behind the auth middleware.
func RegisterRoutes(router *gin.Engine, uc *usecase.BiometricUseCase, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authorized := router.Group("/", authMiddleware)

	authorized.POST("/enroll", func(c *gin.Context) {
		var req enrollRequest
		if !bindJSON(c, &req) {
			return
		}

		result, err := uc.Enroll(c.Request.Context(), usecase.EnrollInput{
			FirstName:      req.FirstName,
			LastName:       req.LastName,
			Address:        req.Address,
			AdditionalInfo: req.AdditionalInfo,
			FaceImage:      req.FaceImage,
			ThumbImage:     req.ThumbImage,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, result)
	})

	authorized.POST("/search", func(c *gin.Context) {
		var req searchRequest
		if !bindJSON(c, &req) {
			return
		}

		modality, err := repository.ParseModality(req.Type)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := uc.Search(c.Request.Context(), req.Image, modality)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	})

	authorized.GET("/subjects/:id", func(c *gin.Context) {
		subjectID := c.Param("id")
		if subjectID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		profile, err := uc.GetSubject(c.Request.Context(), subjectID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "subject not found"})
			return
		}

		c.JSON(http.StatusOK, profile)
	})

	authorized.GET("/search/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		result, err := uc.GetResult(c.Request.Context(), requestID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}

		c.JSON(http.StatusOK, result)
	})

	authorized.GET("/metrics", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, summary)
	})
}

func bindJSON(c *gin.Context, target interface{}) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodySize)
	if err := c.ShouldBindJSON(target); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// writeError maps pipeline failures onto HTTP statuses. An image the engine
// cannot decode is the caller's fault; everything else is ours.
func writeError(c *gin.Context, err error) {
	if errors.Is(err, vision.ErrImageDecode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image could not be decoded"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
