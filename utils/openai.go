package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"repa/models"
)

// Timeouts observed per call type. Report generation is the slowest step.
const (
	criteriaTimeout = 30 * time.Second
	visionTimeout   = 30 * time.Second
	reportTimeout   = 60 * time.Second
)

// ExtractionError is returned when the model output cannot be parsed into
// structured criteria, even after stripping markdown code fences.
type ExtractionError struct {
	Raw string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to parse criteria as JSON: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ExtractedCriteria is the structured output of the criteria extraction call.
// Only fields the user explicitly mentioned are populated.
type ExtractedCriteria struct {
	PropertyType           string   `json:"property_type,omitempty"`
	Location               string   `json:"location,omitempty"`
	MinRooms               *int     `json:"min_rooms,omitempty"`
	MaxRooms               *int     `json:"max_rooms,omitempty"`
	MinLivingSpace         *float64 `json:"min_living_space,omitempty"`
	MaxLivingSpace         *float64 `json:"max_living_space,omitempty"`
	MinRent                *float64 `json:"min_rent,omitempty"`
	MaxRent                *float64 `json:"max_rent,omitempty"`
	Occupants              *int     `json:"occupants,omitempty"`
	Duration               string   `json:"duration,omitempty"`
	StartingWhen           string   `json:"starting_when,omitempty"`
	AdditionalRequirements []string `json:"additional_requirements,omitempty"`
}

// OpenAIClient talks to the chat-completions API. BaseURL is configurable so
// tests can point it at a local server.
type OpenAIClient struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	return &OpenAIClient{
		APIKey:     apiKey,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Model:      model,
		HTTPClient: &http.Client{},
	}
}

type chatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAIClient) complete(ctx context.Context, timeout time.Duration, req chatRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("unexpected completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("completion API error: %s", parsed.Error.Message)
		}
		return "", fmt.Errorf("completion API returned status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion API returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

const criteriaSystemPrompt = `You are an expert at extracting structured apartment rental/purchase criteria from natural language.

Extract information from the user's request and return it as valid JSON.

IMPORTANT: Only include fields that the user explicitly mentions. Do NOT include fields with null values.

Available field names you may use (only if mentioned):
- property_type: "rent" or "buy" (string)
- location: The city, postal code, area, or proximity requirement (string)
- min_rooms: Minimum number of rooms (number)
- max_rooms: Maximum number of rooms (number)
- min_living_space: Minimum living space in square meters (number)
- max_living_space: Maximum living space in square meters (number)
- min_rent: Minimum rent in CHF (number) - only for rentals
- max_rent: Maximum rent in CHF (number) - only for rentals
- occupants: Number of people who will live there (number)
- duration: How long they need it (string, e.g., "ski season", "6 months", "long-term")

For ANY other requirements (pet-friendly, balcony, parking, proximity to amenities, etc.), add them to an "additional_requirements" array.

Extraction Rules:
1. If user says "rent", "rental", "lease", "to rent" use "property_type": "rent"
2. If user says "buy", "purchase", "for sale", "to buy" use "property_type": "buy"
3. If not specified, default to "rent" (most common)
4. If "price is not a problem" or "budget flexible" do NOT include min_rent or max_rent
5. If "more than X rooms" use "min_rooms": X
6. If "about X square meters" use both "min_living_space" and "max_living_space" with a 10% range
7. Extract EACH specific requirement as a separate item in additional_requirements
8. Preserve the user's exact wording and intent
9. Return ONLY valid JSON, no explanations`

var codeFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// StripCodeFence removes a markdown code fence wrapping the model output, if
// present, so the JSON inside can be parsed.
func StripCodeFence(s string) string {
	if m := codeFencePattern.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return strings.TrimSpace(s)
}

// ExtractCriteria turns a free-text user message into structured criteria.
func (c *OpenAIClient) ExtractCriteria(ctx context.Context, userMessage string) (*ExtractedCriteria, error) {
	userPrompt := fmt.Sprintf("Now extract the criteria from the User's Request:\n<user_request>\n%s\n</user_request>", userMessage)

	content, err := c.complete(ctx, criteriaTimeout, chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: criteriaSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	var criteria ExtractedCriteria
	if err := json.Unmarshal([]byte(content), &criteria); err != nil {
		// The model sometimes wraps its JSON in a code fence
		stripped := StripCodeFence(content)
		if err2 := json.Unmarshal([]byte(stripped), &criteria); err2 != nil {
			return nil, &ExtractionError{Raw: content, Err: err2}
		}
	}
	return &criteria, nil
}

const visionPrompt = `Analyze this apartment/property image. Identify:
1. Room type (living room, bedroom, kitchen, bathroom, exterior, view, etc.)
2. Key features and condition (modern, renovated, spacious, natural light, etc.)
3. Furnishing status (furnished, unfurnished, partially furnished)
4. Notable amenities or highlights
5. Overall impression (scale 1-10)

Be concise but specific. Focus on details that would matter to a renter.`

// DescribeImage asks the vision model for a short description of one listing
// image.
func (c *OpenAIClient) DescribeImage(ctx context.Context, imageURL string) (string, error) {
	content := []map[string]interface{}{
		{"type": "text", "text": visionPrompt},
		{"type": "image_url", "image_url": map[string]string{"url": imageURL, "detail": "low"}},
	}

	return c.complete(ctx, visionTimeout, chatRequest{
		Model:     c.Model,
		Messages:  []chatMessage{{Role: "user", Content: content}},
		MaxTokens: 300,
	})
}

const reportSystemPrompt = `You are a helpful apartment rental/purchase advisor for the Swiss market. Your job is to analyze apartment listings and help users determine if they're a good match for their needs.

## Your Approach:
- Be friendly, conversational, and encouraging
- Extract all relevant details accurately from listings
- Compare listings objectively against the user's specific criteria
- CRITICAL: If user specified property_type (rent/buy), ONLY recommend listings that match. If listing is for rent but user wants to buy (or vice versa), mark as NOT A GOOD FIT immediately.
- Only evaluate criteria the user explicitly mentioned
- Be realistic about "close enough" matches
- Distinguish between deal-breakers and nice-to-haves
- Provide honest, actionable recommendations

## Swiss Rental/Purchase Context:
- Understand Swiss room counting (e.g., 3.5 rooms = 2 bedrooms + living room + half room)
- Know typical pricing and neighborhoods
- Rental listings show monthly rent (CHF/month), purchase listings show total price (CHF)

Follow the exact output format provided in the user's request.`

const reportOutputFormat = `## Your Task:

Analyze this apartment listing and create a user-friendly match report.

### Output Format (use emojis and clear formatting):

# Apartment Match Analysis

## Listing Summary
Title, location, type (rent/buy), price, rooms, living space, availability.

## Match Score: [X]%

[One sentence overall assessment]

## What Matches Your Criteria
For EACH matching criterion: your requirement, what the listing offers, a brief assessment.

## Points to Consider
For EACH criterion that doesn't match or is unclear: requirement, listing offer, and whether it is a deal-breaker or negotiable.

## Key Highlights
Standout features and notable amenities.

## Our Recommendation
HIGHLY RECOMMENDED / WORTH CONSIDERING / NOT A GOOD FIT, with 2-3 honest sentences of reasoning.

## Next Steps
Concrete actions. ONLY if recommended, also draft a short personalized contact message for the advertiser referencing the user's actual criteria matches.

Return ONLY the formatted match analysis, ready to display to the user.`

// GenerateReport produces the narrative match report from the user's
// criteria, the scraped listing content, and the per-image analysis notes.
func (c *OpenAIClient) GenerateReport(ctx context.Context, criteria *models.MatchCriteria, listingContent, imageNotes string) (string, error) {
	criteriaJSON, err := json.MarshalIndent(criteria, "", "  ")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "User's criteria:\n```json\n%s\n```\n", criteriaJSON)
	if criteria.PropertyType != "" {
		fmt.Fprintf(&sb, "\nIMPORTANT: User is looking to %s. Only recommend listings that match this property type.\n", criteria.PropertyType)
	}
	fmt.Fprintf(&sb, "\nListing data:\n<listing>\n%s\n</listing>\n", listingContent)
	if imageNotes != "" {
		fmt.Fprintf(&sb, "\n## Image Analysis Results:\n%s\n", imageNotes)
	}
	sb.WriteString("\n---\n\n")
	sb.WriteString(reportOutputFormat)

	return c.complete(ctx, reportTimeout, chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: reportSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		Temperature: 0.1,
	})
}
