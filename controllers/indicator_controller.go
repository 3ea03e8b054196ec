package controllers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"crypto_indicators_backend/cache"
	"crypto_indicators_backend/services/indicators"
)

// maxRangeAgeDays bounds how far back the read API accepts a start date.
const maxRangeAgeDays = 365

// IndicatorController serves the cached moving-average read API
type IndicatorController struct {
	db     *gorm.DB
	cache  *cache.ResponseCache
	logger *logrus.Logger
}

// NewIndicatorController creates a new indicator controller
func NewIndicatorController(db *gorm.DB, respCache *cache.ResponseCache, logger *logrus.Logger) *IndicatorController {
	return &IndicatorController{db: db, cache: respCache, logger: logger}
}

type mmsVariation struct {
	Timestamp int64   `json:"timestamp"`
	MMS       float64 `json:"mms"`
}

// GetSimpleMovingAverage returns the stored moving-average variations for a
// pair, one value per day, for the requested window size.
// GET /api/v1/indicators/:pair/mms?from=&to=&range=&precision=
func (ic *IndicatorController) GetSimpleMovingAverage(c *gin.Context) {
	pair := c.Param("pair")
	precision := c.DefaultQuery("precision", "1d")

	rangeDays := c.Query("range")
	if rangeDays != "20" && rangeDays != "50" && rangeDays != "200" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "range must be one of 20, 50, 200"})
		return
	}

	fromTimestamp, err := strconv.ParseInt(c.Query("from"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be a unix timestamp"})
		return
	}

	toTimestamp, err := parseToTimestamp(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be a unix timestamp"})
		return
	}

	// The start date cannot reach past what the pipeline keeps warm.
	fromDate := time.Unix(fromTimestamp, 0).UTC()
	if time.Since(fromDate) > maxRangeAgeDays*24*time.Hour {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Start date cannot be longer than 365 days"})
		return
	}

	cacheKey := fmt.Sprintf("mms_retrieve_%s_%s_%s_%d_%d",
		pair, precision, rangeDays, fromTimestamp, toTimestamp)

	if body, ok, err := ic.cache.Get(c.Request.Context(), cacheKey); err == nil && ok {
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
		return
	}

	rows, err := indicators.GetSimpleMovingAverageVariations(
		ic.db.WithContext(c.Request.Context()), pair, precision, fromTimestamp, toTimestamp)
	if err != nil {
		ic.logger.WithFields(logrus.Fields{
			"pair":      pair,
			"precision": precision,
		}).WithError(err).Error("Failed to load moving average variations")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "An internal error occurred while making the request.",
		})
		return
	}

	data := make([]mmsVariation, 0, len(rows))
	for _, row := range rows {
		var value float64
		switch rangeDays {
		case "20":
			value, _ = row.MMS20.Float64()
		case "50":
			value, _ = row.MMS50.Float64()
		case "200":
			value, _ = row.MMS200.Float64()
		}
		data = append(data, mmsVariation{Timestamp: row.Timestamp, MMS: value})
	}

	body, err := json.Marshal(gin.H{"data": data})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "An internal error occurred while making the request.",
		})
		return
	}

	if err := ic.cache.Set(c.Request.Context(), cacheKey, body); err != nil {
		// Serve without the cache rather than failing the request.
		ic.logger.WithField("cache_key", cacheKey).WithError(err).Warn("Failed to cache response")
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// parseToTimestamp defaults the range end to 23:59:59 of yesterday, the last
// day the pipeline can have fully processed.
func parseToTimestamp(raw string) (int64, error) {
	if raw == "" {
		yesterday := time.Now().AddDate(0, 0, -1)
		end := time.Date(yesterday.Year(), yesterday.Month(), yesterday.Day(),
			23, 59, 59, 0, yesterday.Location())
		return end.Unix(), nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
