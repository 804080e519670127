package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/mperror"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/preapproval"
	"github.com/shopspring/decimal"

	"github.com/inmodash/inmodash-backend/internal/pkg/env"
)

const (
	defaultMercadoPagoAPIBaseURL = "https://api.mercadopago.com"
	mercadoPagoSearchPageSize    = 50
	mercadoPagoSearchMaxPages    = 20
)

// MercadoPagoClient implements Gateway on the MercadoPago SDK preapproval and
// payment clients.
type MercadoPagoClient struct {
	accessToken  string
	preapprovals preapproval.Client
	payments     payment.Client
}

var _ Gateway = (*MercadoPagoClient)(nil)

// NewMercadoPagoClient builds a client. A baseURL other than the public API
// (sandbox proxies, tests) replaces the scheme and host of every request.
func NewMercadoPagoClient(accessToken, baseURL string, httpClient *http.Client) (*MercadoPagoClient, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultProviderTimeout}
	}
	r := &mercadoPagoRequester{client: httpClient}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" && baseURL != defaultMercadoPagoAPIBaseURL {
		u, err := url.Parse(baseURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid MercadoPago API base url %q", baseURL)
		}
		r.base = u
	}

	cfg, err := config.New(strings.TrimSpace(accessToken), config.WithHTTPClient(r))
	if err != nil {
		return nil, err
	}
	return &MercadoPagoClient{
		accessToken:  cfg.AccessToken,
		preapprovals: preapproval.NewClient(cfg),
		payments:     payment.NewClient(cfg),
	}, nil
}

// NewMercadoPagoClientFromEnv picks test or production credentials based on
// MP_USE_TEST and APP_ENV.
func NewMercadoPagoClientFromEnv(timeout time.Duration) (*MercadoPagoClient, error) {
	useTest := strings.EqualFold(env.GetEnv("MP_USE_TEST", ""), "true") || !isProduction()
	token := env.GetEnv("MP_ACCESS_TOKEN_PROD", "")
	if useTest {
		token = env.GetEnv("MP_ACCESS_TOKEN_TEST", "")
	}
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return NewMercadoPagoClient(token, env.GetEnv("MP_API_BASE_URL", defaultMercadoPagoAPIBaseURL), &http.Client{
		Timeout: timeout,
	})
}

func isProduction() bool {
	return env.GetEnv("APP_ENV", "prod") == "prod"
}

type idempotencyKeyContextKey struct{}

// mercadoPagoRequester sends SDK requests. The SDK sets a random
// X-Idempotency-Key per request; the one carried by the context wins so
// retried creates collapse into one agreement.
type mercadoPagoRequester struct {
	client *http.Client
	base   *url.URL
}

func (r *mercadoPagoRequester) Do(req *http.Request) (*http.Response, error) {
	if key, ok := req.Context().Value(idempotencyKeyContextKey{}).(string); ok && key != "" {
		req.Header.Set("X-Idempotency-Key", key)
	}
	if r.base != nil {
		req.URL.Scheme = r.base.Scheme
		req.URL.Host = r.base.Host
		req.URL.Path = strings.TrimRight(r.base.Path, "/") + req.URL.Path
		req.Host = r.base.Host
	}
	return r.client.Do(req)
}

func (c *MercadoPagoClient) ready() error {
	if c.accessToken == "" {
		return errors.New("MercadoPago access token is not configured")
	}
	return nil
}

func toAgreement(p *preapproval.Response) Agreement {
	a := Agreement{
		ID:                strings.TrimSpace(p.ID),
		Status:            strings.ToLower(strings.TrimSpace(p.Status)),
		CheckoutURL:       p.InitPoint,
		PayerEmail:        p.PayerEmail,
		ExternalReference: p.ExternalReference,
	}
	if !p.DateCreated.IsZero() {
		created := p.DateCreated
		a.DateCreated = &created
	}
	return a
}

// CreateAgreement creates a preapproval. The idempotency key lets the
// provider collapse retried creates into one agreement.
func (c *MercadoPagoClient) CreateAgreement(ctx context.Context, in AgreementRequest) (*Agreement, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	req := preapproval.Request{
		Reason:            in.Reason,
		ExternalReference: in.ExternalReference,
		PayerEmail:        in.PayerEmail,
		BackURL:           in.BackURL,
		Status:            in.Status,
		AutoRecurring: &preapproval.AutoRecurringRequest{
			Frequency:         in.Frequency,
			FrequencyType:     in.FrequencyType,
			TransactionAmount: in.Amount.InexactFloat64(),
			CurrencyID:        in.Currency,
		},
	}
	if in.TrialDays > 0 {
		req.AutoRecurring.FreeTrial = &preapproval.FreeTrialRequest{Frequency: in.TrialDays, FrequencyType: "days"}
	}

	key := in.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	out, err := c.preapprovals.Create(context.WithValue(ctx, idempotencyKeyContextKey{}, key), req)
	if err != nil {
		return nil, mercadoPagoError("create preapproval", err)
	}
	if out == nil || strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("mercadopago preapproval response missing id")
	}
	a := toAgreement(out)
	return &a, nil
}

// GetAgreement reads a preapproval.
func (c *MercadoPagoClient) GetAgreement(ctx context.Context, id string) (*Agreement, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("agreement id is required")
	}
	out, err := c.preapprovals.Get(ctx, id)
	if err != nil {
		return nil, mercadoPagoError("get preapproval "+id, err)
	}
	if out == nil {
		return nil, fmt.Errorf("mercadopago preapproval %s: empty response", id)
	}
	a := toAgreement(out)
	return &a, nil
}

// UpdateAgreement changes the status of a preapproval.
func (c *MercadoPagoClient) UpdateAgreement(ctx context.Context, id, status string) error {
	if err := c.ready(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("agreement id is required")
	}
	if _, err := c.preapprovals.Update(ctx, id, preapproval.UpdateRequest{Status: status}); err != nil {
		return mercadoPagoError("update preapproval "+id, err)
	}
	return nil
}

// SearchAgreements pages through preapprovals newest first and stops at the
// first one created before since.
func (c *MercadoPagoClient) SearchAgreements(ctx context.Context, since time.Time) ([]Agreement, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var out []Agreement
	for page := 0; page < mercadoPagoSearchMaxPages; page++ {
		resp, err := c.preapprovals.Search(ctx, preapproval.SearchRequest{
			Limit:   mercadoPagoSearchPageSize,
			Offset:  page * mercadoPagoSearchPageSize,
			Filters: map[string]string{"sort": "date_created:desc"},
		})
		if err != nil {
			return nil, mercadoPagoError("search preapprovals", err)
		}
		if resp == nil {
			break
		}
		for i := range resp.Results {
			a := toAgreement(&resp.Results[i])
			if a.DateCreated != nil && a.DateCreated.Before(since) {
				return out, nil
			}
			out = append(out, a)
		}
		if len(resp.Results) < mercadoPagoSearchPageSize {
			break
		}
	}
	return out, nil
}

// GetPayment reads a payment. The agreement id comes from metadata.preapproval_id.
func (c *MercadoPagoClient) GetPayment(ctx context.Context, id string) (*Payment, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("payment id is required")
	}
	numericID, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("mercadopago payment id %q is not numeric", id)
	}

	out, err := c.payments.Get(ctx, numericID)
	if err != nil {
		return nil, mercadoPagoError("get payment "+id, err)
	}
	if out == nil || out.ID == 0 {
		return nil, errors.New("mercadopago payment response missing id")
	}
	return toPayment(out)
}

func toPayment(p *payment.Response) (*Payment, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode mercadopago payment: %w", err)
	}

	agreementID, _ := p.Metadata["preapproval_id"].(string)
	out := &Payment{
		ID:              strconv.Itoa(p.ID),
		Status:          strings.ToLower(strings.TrimSpace(p.Status)),
		StatusDetail:    p.StatusDetail,
		Amount:          decimal.NewFromFloat(p.TransactionAmount),
		Currency:        p.CurrencyID,
		PaymentMethodID: p.PaymentMethodID,
		PaymentType:     p.PaymentTypeID,
		AgreementID:     strings.TrimSpace(agreementID),
		Raw:             raw,
	}
	if !p.DateApproved.IsZero() {
		paid := p.DateApproved
		out.PaidAt = &paid
	}
	return out, nil
}

// mercadoPagoError keeps the HTTP status of API errors in the message.
func mercadoPagoError(op string, err error) error {
	var respErr *mperror.ResponseError
	if errors.As(err, &respErr) {
		return fmt.Errorf("mercadopago %s failed: status=%d body=%s: %w", op, respErr.StatusCode, respErr.Message, err)
	}
	return fmt.Errorf("mercadopago %s failed: %w", op, err)
}
