package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lucky-wheel/internal/models"
)

// HTTPBackend delivers rewards to a remote inventory service over REST.
type HTTPBackend struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPBackend(baseURL, token string) *HTTPBackend {
	return &HTTPBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (b *HTTPBackend) buildHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	if b.token != "" {
		h.Set("Authorization", "Bearer "+b.token)
	}
	return h
}

func (b *HTTPBackend) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header = b.buildHeaders()

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fulfillment API %s returned status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type ticketsRequest struct {
	Wallet string            `json:"wallet"`
	Kind   models.TicketKind `json:"kind"`
	Amount int               `json:"amount"`
}

func (b *HTTPBackend) AddTickets(ctx context.Context, wallet string, kind models.TicketKind, amount int, _ time.Time) (models.TicketBalance, error) {
	var bal models.TicketBalance
	err := b.post(ctx, "/tickets", ticketsRequest{Wallet: wallet, Kind: kind, Amount: amount}, &bal)
	if err != nil {
		return models.TicketBalance{}, err
	}
	bal.Wallet = wallet
	return bal, nil
}

type cardRequest struct {
	Wallet string           `json:"wallet"`
	Card   models.CardGrant `json:"card"`
}

func (b *HTTPBackend) InsertCard(ctx context.Context, wallet string, card models.CardGrant, _ time.Time) error {
	return b.post(ctx, "/cards", cardRequest{Wallet: wallet, Card: card}, nil)
}

type passRequest struct {
	Wallet                string          `json:"wallet"`
	Kind                  models.PassKind `json:"kind"`
	DurationDays          int             `json:"durationDays"`
	BonusLegendaryTickets int             `json:"bonusLegendaryTickets"`
}

type passResponse struct {
	Pass    models.PassState     `json:"pass"`
	Tickets models.TicketBalance `json:"tickets"`
}

// GrantPass sends the pass and its bonus tickets in one request; the
// remote service applies them together.
func (b *HTTPBackend) GrantPass(ctx context.Context, wallet string, kind models.PassKind, duration time.Duration, bonusLegendary int, _ time.Time) (models.PassState, models.TicketBalance, error) {
	var resp passResponse
	days := int(duration / (24 * time.Hour))
	req := passRequest{Wallet: wallet, Kind: kind, DurationDays: days, BonusLegendaryTickets: bonusLegendary}
	if err := b.post(ctx, "/passes", req, &resp); err != nil {
		return models.PassState{}, models.TicketBalance{}, err
	}
	resp.Pass.Wallet = wallet
	resp.Pass.Kind = kind
	resp.Tickets.Wallet = wallet
	return resp.Pass, resp.Tickets, nil
}

type dealRequest struct {
	models.DealRedemption
	Regular   int `json:"regular"`
	Legendary int `json:"legendary"`
}

func (b *HTTPBackend) RedeemDeal(ctx context.Context, d models.DealRedemption, regular, legendary int) (models.TicketBalance, error) {
	var bal models.TicketBalance
	if err := b.post(ctx, "/deals", dealRequest{DealRedemption: d, Regular: regular, Legendary: legendary}, &bal); err != nil {
		return models.TicketBalance{}, err
	}
	bal.Wallet = d.Wallet
	return bal, nil
}
