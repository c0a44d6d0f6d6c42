package controller

import (
	"errors"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"repa/config"
	"repa/models"
	"repa/monitor"
	"repa/utils"
)

// anyURLPattern matches the first URL in a chat message. Unlike the email
// scanner this is not restricted to the listing domain allow list; users may
// paste a link from anywhere.
var anyURLPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// ChatController handles the conversational endpoint: users describe what
// they are looking for in free text, optionally with a listing link, and get
// their criteria updated and the listing analyzed in one round trip.
type ChatController struct {
	db        *gorm.DB
	openai    *utils.OpenAIClient
	firecrawl *utils.FirecrawlClient
	logger    *logrus.Logger
}

func NewChatController(db *gorm.DB, openai *utils.OpenAIClient, firecrawl *utils.FirecrawlClient, logger *logrus.Logger) *ChatController {
	return &ChatController{db: db, openai: openai, firecrawl: firecrawl, logger: logger}
}

type ChatRequest struct {
	Message string `json:"message" validate:"required,max=4000"`
}

type ChatResponse struct {
	Response string `json:"response"`
	Status   string `json:"status"`
}

// Chat extracts search criteria from the message, merges them into the
// user's stored criteria, and, when the message carries a listing URL,
// analyzes it synchronously against the updated criteria.
func (cc *ChatController) Chat(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	listingURL := anyURLPattern.FindString(req.Message)
	text := strings.TrimSpace(strings.Replace(req.Message, listingURL, "", 1))

	logger := cc.logger.WithField("user_id", userID)

	var criteria models.MatchCriteria
	err := cc.db.Where("user_id = ?", userID).First(&criteria).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load criteria")
	}
	criteria.UserID = userID

	if text != "" {
		extracted, err := cc.openai.ExtractCriteria(c.Context(), text)
		if err != nil {
			var extractionErr *utils.ExtractionError
			if errors.As(err, &extractionErr) {
				logger.WithField("raw", extractionErr.Raw).Warn("criteria extraction returned malformed JSON")
			} else {
				logger.WithError(err).Error("criteria extraction failed")
				return utils.ErrorResponse(c, fiber.StatusBadGateway, "Criteria extraction failed, please try again")
			}
		} else {
			mergeExtracted(&criteria, extracted)
			if err := cc.db.Save(&criteria).Error; err != nil {
				logger.WithError(err).Error("failed to save extracted criteria")
				return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to save criteria")
			}
		}
	}

	if listingURL == "" {
		return c.JSON(ChatResponse{
			Response: "Got it, I updated your search criteria. Send me a listing link and I will check it against them.",
			Status:   "success",
		})
	}

	scrape, err := cc.firecrawl.Scrape(c.Context(), listingURL)
	if err != nil {
		logger.WithError(err).WithField("url", listingURL).Warn("chat listing scrape failed")
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Could not fetch the listing page, please try again")
	}

	imageNotes := monitor.ImageNotes(c.Context(), cc.openai, logger, scrape.Content, config.AppConfig.MaxImages)

	report, err := cc.openai.GenerateReport(c.Context(), &criteria, scrape.Content, imageNotes)
	if err != nil {
		logger.WithError(err).WithField("url", listingURL).Error("chat report generation failed")
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Analysis failed, please try again")
	}

	return c.JSON(ChatResponse{
		Response: report,
		Status:   "success",
	})
}

// mergeExtracted copies the fields the model actually extracted onto the
// stored criteria, leaving everything else untouched.
func mergeExtracted(criteria *models.MatchCriteria, e *utils.ExtractedCriteria) {
	if e.PropertyType != "" {
		criteria.PropertyType = e.PropertyType
	}
	if e.Location != "" {
		criteria.Location = e.Location
	}
	if e.MinRooms != nil {
		criteria.MinRooms = e.MinRooms
	}
	if e.MaxRooms != nil {
		criteria.MaxRooms = e.MaxRooms
	}
	if e.MinLivingSpace != nil {
		criteria.MinLivingSpace = e.MinLivingSpace
	}
	if e.MaxLivingSpace != nil {
		criteria.MaxLivingSpace = e.MaxLivingSpace
	}
	if e.MinRent != nil {
		criteria.MinRent = e.MinRent
	}
	if e.MaxRent != nil {
		criteria.MaxRent = e.MaxRent
	}
	if e.Occupants != nil {
		criteria.Occupants = e.Occupants
	}
	if e.Duration != "" {
		criteria.Duration = e.Duration
	}
	if e.StartingWhen != "" {
		criteria.StartingWhen = e.StartingWhen
	}
	if len(e.AdditionalRequirements) > 0 {
		if criteria.Requirements == nil {
			criteria.Requirements = models.Requirements{}
		}
		var existing []string
		if cur, ok := criteria.Requirements["requirements"].([]interface{}); ok {
			for _, v := range cur {
				if s, ok := v.(string); ok {
					existing = append(existing, s)
				}
			}
		}
		for _, r := range e.AdditionalRequirements {
			if !containsString(existing, r) {
				existing = append(existing, r)
			}
		}
		criteria.Requirements["requirements"] = existing
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
