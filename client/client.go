// Package client keeps a local mirror of a user's token balance and recent
// transactions, in the same spirit as the browser cache the web frontend
// keeps in localStorage. Mutations apply to the mirror immediately and are
// reconciled against the server whenever an auth token is available.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"
)

// State reports where the mirror's data came from.
type State string

const (
	// StateLocal means the mirror holds only locally cached data, either
	// because no auth token is set or because the last sync failed.
	StateLocal State = "local"
	// StateSynced means the mirror was last replaced by server state.
	StateSynced State = "synced"
)

// maxCachedTransactions bounds the local history, matching the server's
// transaction listing cap.
const maxCachedTransactions = 50

var (
	ErrNoToken             = errors.New("client: no auth token set")
	ErrInsufficientBalance = errors.New("client: insufficient balance")
	ErrInvalidAmount       = errors.New("client: amount must be positive")
)

// Transaction mirrors the server's transaction records. Pending is true for
// optimistic local entries not yet confirmed by the server.
type Transaction struct {
	ID        uint      `json:"id"`
	Amount    int       `json:"amount"`
	Type      string    `json:"type"`
	Reason    string    `json:"reason"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
	Pending   bool      `json:"pending,omitempty"`
}

// cacheFile is the on-disk shape of the mirror, the localStorage analogue.
type cacheFile struct {
	Balance      int           `json:"balance"`
	Transactions []Transaction `json:"transactions"`
}

// Client holds the mirrored ledger state for one user.
type Client struct {
	baseURL   string
	statePath string
	http      *http.Client

	mu    sync.Mutex
	token string
	state State
	data  cacheFile
}

// New builds a client pointed at baseURL, loading any previously cached
// state from statePath. The client starts in StateLocal; call Sync to move
// to StateSynced once a token is set.
func New(baseURL, statePath string) *Client {
	c := &Client{
		baseURL:   baseURL,
		statePath: statePath,
		http:      &http.Client{Timeout: 10 * time.Second},
		state:     StateLocal,
	}
	c.loadCache()
	return c
}

// SetToken stores the bearer token used for server calls. Clearing the
// token drops the client back to StateLocal.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	if token == "" {
		c.state = StateLocal
	}
}

// CurrentState reports whether the mirror reflects server state.
func (c *Client) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Balance returns the mirrored balance.
func (c *Client) Balance() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Balance
}

// Transactions returns a copy of the mirrored transaction history, newest
// first.
func (c *Client) Transactions() []Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Transaction, len(c.data.Transactions))
	copy(out, c.data.Transactions)
	return out
}

// Sync fetches the authoritative balance and transactions and replaces the
// local mirror. On any failure the mirror keeps its cached data and the
// client stays in (or drops to) StateLocal.
func (c *Client) Sync(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return ErrNoToken
	}

	var balResp struct {
		Balance int `json:"balance"`
	}
	if err := c.get(ctx, "/api/tokens/balance", &balResp); err != nil {
		c.markLocal()
		return err
	}

	var txResp struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := c.get(ctx, "/api/tokens/transactions", &txResp); err != nil {
		c.markLocal()
		return err
	}

	c.mu.Lock()
	c.data.Balance = balResp.Balance
	c.data.Transactions = clip(txResp.Transactions)
	c.state = StateSynced
	c.mu.Unlock()
	c.saveCache()
	return nil
}

// Award credits the mirror optimistically, then confirms with the server if
// a token is set. A failed confirmation leaves the optimistic entry in
// place; the next Sync reconciles it.
func (c *Client) Award(ctx context.Context, amount int, reason string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	pendingRef := c.applyOptimistic(amount, "award", reason)

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return nil
	}

	confirmed, balance, err := c.post(ctx, "/api/tokens/award", amount, reason)
	if err != nil {
		return err
	}
	c.confirm(pendingRef, confirmed, balance)
	return nil
}

// Redeem debits the mirror optimistically, then confirms with the server if
// a token is set. If the server call fails the full state is re-fetched so
// the mirror never drifts below the authoritative balance.
func (c *Client) Redeem(ctx context.Context, amount int, reason string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	c.mu.Lock()
	if amount > c.data.Balance {
		c.mu.Unlock()
		return ErrInsufficientBalance
	}
	c.mu.Unlock()

	pendingRef := c.applyOptimistic(-amount, "redeem", reason)

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return nil
	}

	confirmed, balance, err := c.post(ctx, "/api/tokens/redeem", amount, reason)
	if err != nil {
		if syncErr := c.Sync(ctx); syncErr != nil {
			return fmt.Errorf("redeem failed and resync failed: %w", err)
		}
		return err
	}
	c.confirm(pendingRef, confirmed, balance)
	return nil
}

// applyOptimistic records a pending local entry and returns its reference,
// used later to swap in the server-confirmed transaction.
func (c *Client) applyOptimistic(amount int, txType, reason string) string {
	ref := fmt.Sprintf("pending-%d", time.Now().UnixNano())
	entry := Transaction{
		Amount:    amount,
		Type:      txType,
		Reason:    reason,
		Reference: ref,
		CreatedAt: time.Now(),
		Pending:   true,
	}
	c.mu.Lock()
	c.data.Balance += amount
	c.data.Transactions = clip(append([]Transaction{entry}, c.data.Transactions...))
	c.mu.Unlock()
	c.saveCache()
	return ref
}

// confirm replaces the pending entry with the server's transaction and
// adopts the server's balance.
func (c *Client) confirm(pendingRef string, confirmed Transaction, balance int) {
	c.mu.Lock()
	for i := range c.data.Transactions {
		if c.data.Transactions[i].Reference == pendingRef {
			c.data.Transactions[i] = confirmed
			break
		}
	}
	c.data.Balance = balance
	c.state = StateSynced
	c.mu.Unlock()
	c.saveCache()
}

func (c *Client) markLocal() {
	c.mu.Lock()
	c.state = StateLocal
	c.mu.Unlock()
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, amount int, reason string) (Transaction, int, error) {
	body, err := json.Marshal(map[string]interface{}{
		"amount": amount,
		"reason": reason,
	})
	if err != nil {
		return Transaction{}, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Transaction{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		Balance     int         `json:"balance"`
		Transaction Transaction `json:"transaction"`
	}
	if err := c.do(req, &resp); err != nil {
		return Transaction{}, 0, err
	}
	return resp.Transaction, resp.Balance, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var envelope struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	dec := json.NewDecoder(res.Body)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if res.StatusCode != http.StatusOK || !envelope.Success {
		if envelope.Message != "" {
			return fmt.Errorf("server rejected request: %s", envelope.Message)
		}
		return fmt.Errorf("server returned status %d", res.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

// loadCache restores the mirror from disk; a missing or corrupt file just
// starts the mirror empty.
func (c *Client) loadCache() {
	if c.statePath == "" {
		return
	}
	raw, err := os.ReadFile(c.statePath)
	if err != nil {
		return
	}
	var data cacheFile
	if err := json.Unmarshal(raw, &data); err != nil {
		return
	}
	c.mu.Lock()
	c.data = data
	c.mu.Unlock()
}

func (c *Client) saveCache() {
	if c.statePath == "" {
		return
	}
	c.mu.Lock()
	raw, err := json.MarshalIndent(c.data, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return
	}
	_ = os.WriteFile(c.statePath, raw, 0o644)
}

func clip(txs []Transaction) []Transaction {
	if len(txs) > maxCachedTransactions {
		return txs[:maxCachedTransactions]
	}
	return txs
}
