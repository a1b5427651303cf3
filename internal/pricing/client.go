package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"slicer-backend/pkg/api"
)

// Client talks to the external pricing / quote persistence service. It is an
// optional collaborator: a nil *Client disables the pricing step entirely.
type Client struct {
	client *resty.Client
}

func NewClient(baseURL, apiKey string) *Client {
	client := resty.New().SetBaseURL(baseURL)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &Client{client: client}
}

type QuoteRequest struct {
	ModelFilename string            `json:"modelFilename"`
	GcodeFilename string            `json:"gcodeFilename"`
	Times         api.PrintTimes    `json:"times"`
	Filament      api.FilamentUsage `json:"filament"`
}

type quoteResponse struct {
	Price float64 `json:"price"`
}

// SubmitQuote posts the extracted metadata and returns the computed price.
// Any transport error or non-2xx response is an error; the caller decides
// how that affects the job as a whole.
func (c *Client) SubmitQuote(ctx context.Context, quote QuoteRequest) (float64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := c.client.R().
		SetContext(reqCtx).
		SetHeader("Content-Type", "application/json").
		SetBody(quote).
		Post("/quotes")

	if err != nil {
		slog.Error("unable to reach pricing service", "error", err)
		return 0, fmt.Errorf("unable to reach pricing service: %w", err)
	}

	if !res.IsSuccess() {
		slog.Error("pricing service returned error", "status_code", res.StatusCode(), "body", res.String())
		return 0, fmt.Errorf("pricing service returned status %d", res.StatusCode())
	}

	var quoted quoteResponse
	if err := json.Unmarshal(res.Body(), &quoted); err != nil {
		slog.Error("error parsing response from pricing service", "error", err)
		return 0, fmt.Errorf("invalid response from pricing service: %w", err)
	}

	return quoted.Price, nil
}
