package controller

import (
	"errors"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"repa/models"
	"repa/utils"
)

// CriteriaController manages the per-user search criteria and mailbox
// monitoring configuration. One row per user, upsert semantics.
type CriteriaController struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewCriteriaController(db *gorm.DB, logger *logrus.Logger) *CriteriaController {
	return &CriteriaController{db: db, logger: logger}
}

type CriteriaRequest struct {
	PropertyType   string              `json:"property_type" validate:"omitempty,oneof=rent buy"`
	Location       string              `json:"location" validate:"omitempty,max=200"`
	MinRooms       *int                `json:"min_rooms" validate:"omitempty,min=0"`
	MaxRooms       *int                `json:"max_rooms" validate:"omitempty,min=0"`
	MinLivingSpace *float64            `json:"min_living_space" validate:"omitempty,min=0"`
	MaxLivingSpace *float64            `json:"max_living_space" validate:"omitempty,min=0"`
	MinRent        *float64            `json:"min_rent" validate:"omitempty,min=0"`
	MaxRent        *float64            `json:"max_rent" validate:"omitempty,min=0"`
	Occupants      *int                `json:"occupants" validate:"omitempty,min=1"`
	Duration       string              `json:"duration" validate:"omitempty,max=100"`
	StartingWhen   string              `json:"starting_when" validate:"omitempty,max=100"`
	Requirements   models.Requirements `json:"user_additional_requirements"`

	MonitorEmail      string `json:"monitor_email" validate:"omitempty,email"`
	EmailProvider     string `json:"email_provider" validate:"omitempty,oneof=gmail outlook yahoo icloud other"`
	EmailAppPassword  string `json:"email_app_password"`
	MonitoringEnabled *bool  `json:"email_monitoring_enabled"`
	SenderFilter      string `json:"email_sender" validate:"omitempty,max=500"`
	SubjectKeywords   string `json:"email_subject_keywords" validate:"omitempty,max=500"`
}

// GetCriteria returns the authenticated user's criteria row.
func (cc *CriteriaController) GetCriteria(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var criteria models.MatchCriteria
	if err := cc.db.Where("user_id = ?", userID).First(&criteria).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "No criteria saved yet")
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load criteria")
	}

	return c.JSON(fiber.Map{
		"criteria":         criteria,
		"has_app_password": criteria.EmailAppPassword != "",
	})
}

// SaveCriteria creates or updates the user's criteria row. The mailbox app
// password is encrypted at rest; omitting it keeps the stored one, and it is
// never echoed back.
func (cc *CriteriaController) SaveCriteria(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)

	var req CriteriaRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	if req.MonitorEmail != "" {
		if err := checkmail.ValidateFormat(req.MonitorEmail); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid monitor email address")
		}
	}

	var criteria models.MatchCriteria
	err := cc.db.Where("user_id = ?", userID).First(&criteria).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load criteria")
	}
	criteria.UserID = userID

	applyCriteriaRequest(&criteria, &req)

	if req.EmailAppPassword != "" {
		encrypted, err := utils.Encrypt(req.EmailAppPassword)
		if err != nil {
			cc.logger.WithError(err).Error("failed to encrypt app password")
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to store app password")
		}
		criteria.EmailAppPassword = encrypted
	}

	if err := cc.db.Save(&criteria).Error; err != nil {
		cc.logger.WithError(err).WithField("user_id", userID).Error("failed to save criteria")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to save criteria")
	}

	return c.JSON(fiber.Map{
		"message":  "Criteria saved",
		"criteria": criteria,
	})
}

func applyCriteriaRequest(criteria *models.MatchCriteria, req *CriteriaRequest) {
	if req.PropertyType != "" {
		criteria.PropertyType = req.PropertyType
	}
	if req.Location != "" {
		criteria.Location = req.Location
	}
	if req.MinRooms != nil {
		criteria.MinRooms = req.MinRooms
	}
	if req.MaxRooms != nil {
		criteria.MaxRooms = req.MaxRooms
	}
	if req.MinLivingSpace != nil {
		criteria.MinLivingSpace = req.MinLivingSpace
	}
	if req.MaxLivingSpace != nil {
		criteria.MaxLivingSpace = req.MaxLivingSpace
	}
	if req.MinRent != nil {
		criteria.MinRent = req.MinRent
	}
	if req.MaxRent != nil {
		criteria.MaxRent = req.MaxRent
	}
	if req.Occupants != nil {
		criteria.Occupants = req.Occupants
	}
	if req.Duration != "" {
		criteria.Duration = req.Duration
	}
	if req.StartingWhen != "" {
		criteria.StartingWhen = req.StartingWhen
	}
	if req.Requirements != nil {
		criteria.Requirements = req.Requirements
	}
	if req.MonitorEmail != "" {
		criteria.MonitorEmail = req.MonitorEmail
	}
	if req.EmailProvider != "" {
		criteria.EmailProvider = req.EmailProvider
	}
	if req.MonitoringEnabled != nil {
		criteria.MonitoringEnabled = *req.MonitoringEnabled
	}
	if req.SenderFilter != "" {
		criteria.SenderFilter = req.SenderFilter
	}
	if req.SubjectKeywords != "" {
		criteria.SubjectKeywords = req.SubjectKeywords
	}
}
