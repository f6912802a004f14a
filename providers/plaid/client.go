package plaid

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-banklink/core"
	"github.com/goliatone/go-banklink/transport"
	goerrors "github.com/goliatone/go-errors"
)

type Client struct {
	config  Config
	baseURL string
	adapter transport.Adapter
}

type linkTokenUser struct {
	ClientUserID string `json:"client_user_id"`
	EmailAddress string `json:"email_address,omitempty"`
	LegalName    string `json:"legal_name,omitempty"`
}

type linkTokenCreateRequest struct {
	ClientID     string        `json:"client_id"`
	Secret       string        `json:"secret"`
	ClientName   string        `json:"client_name"`
	Language     string        `json:"language"`
	CountryCodes []string      `json:"country_codes"`
	Products     []string      `json:"products"`
	User         linkTokenUser `json:"user"`
	Webhook      string        `json:"webhook,omitempty"`
	RedirectURI  string        `json:"redirect_uri,omitempty"`
}

type linkTokenCreateResponse struct {
	LinkToken  string    `json:"link_token"`
	Expiration time.Time `json:"expiration"`
	RequestID  string    `json:"request_id"`
}

type publicTokenExchangeRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	PublicToken string `json:"public_token"`
}

type publicTokenExchangeResponse struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
	RequestID   string `json:"request_id"`
}

type itemRemoveRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
}

type itemRemoveResponse struct {
	RequestID string `json:"request_id"`
}

func (c *Client) CreateLinkToken(ctx context.Context, req core.AggregatorLinkTokenRequest) (core.AggregatorLinkToken, error) {
	user := req.User.Normalized()
	if err := user.Validate(); err != nil {
		return core.AggregatorLinkToken{}, err
	}
	out := linkTokenCreateResponse{}
	err := c.post(ctx, "link_token_create", "/link/token/create", linkTokenCreateRequest{
		ClientID:     c.config.ClientID,
		Secret:       c.config.Secret,
		ClientName:   req.ClientName,
		Language:     req.Language,
		CountryCodes: req.CountryCodes,
		Products:     req.Products,
		User: linkTokenUser{
			ClientUserID: user.ID,
			EmailAddress: user.Email,
			LegalName:    user.DisplayName(),
		},
		Webhook:     req.WebhookURL,
		RedirectURI: req.RedirectURI,
	}, &out)
	if err != nil {
		return core.AggregatorLinkToken{}, err
	}
	return core.AggregatorLinkToken{
		LinkToken:  out.LinkToken,
		Expiration: out.Expiration,
		RequestID:  out.RequestID,
	}, nil
}

func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (core.AggregatorAccessGrant, error) {
	publicToken = strings.TrimSpace(publicToken)
	if publicToken == "" {
		return core.AggregatorAccessGrant{}, core.ErrPublicTokenRequired
	}
	out := publicTokenExchangeResponse{}
	err := c.post(ctx, "public_token_exchange", "/item/public_token/exchange", publicTokenExchangeRequest{
		ClientID:    c.config.ClientID,
		Secret:      c.config.Secret,
		PublicToken: publicToken,
	}, &out)
	if err != nil {
		return core.AggregatorAccessGrant{}, err
	}
	return core.AggregatorAccessGrant{
		AccessToken: out.AccessToken,
		ItemID:      out.ItemID,
		RequestID:   out.RequestID,
	}, nil
}

func (c *Client) RemoveItem(ctx context.Context, accessToken string) error {
	out := itemRemoveResponse{}
	return c.post(ctx, "item_remove", "/item/remove", itemRemoveRequest{
		ClientID:    c.config.ClientID,
		Secret:      c.config.Secret,
		AccessToken: strings.TrimSpace(accessToken),
	}, &out)
}

func (c *Client) post(ctx context.Context, operation string, path string, payload any, out any) error {
	req, err := transport.NewJSONRequest(http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Headers["Plaid-Version"] = APIVersion
	req.Timeout = c.config.Timeout

	res, err := c.adapter.Do(ctx, req)
	if err != nil {
		return err
	}
	if !res.Success() {
		apiErr := &APIError{}
		if decodeErr := res.DecodeJSON(apiErr); decodeErr != nil || apiErr.ErrorType == "" {
			apiErr = &APIError{
				ErrorType:    "API_ERROR",
				ErrorCode:    "UNEXPECTED_RESPONSE",
				ErrorMessage: http.StatusText(res.StatusCode),
			}
		}
		apiErr.StatusCode = res.StatusCode
		return mapAPIError(operation, apiErr)
	}
	if err := res.DecodeJSON(out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "plaid "+operation+": invalid response").
			WithTextCode(core.LinkErrorAggregatorFailure).
			WithCode(http.StatusBadGateway)
	}
	return nil
}
