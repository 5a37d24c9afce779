// Package localtools serves the banking tool fixtures behind the
// POST /tools/execute contract that agent tool executors dispatch to.
//
// The service is deliberately deterministic: identity verification, account
// balances, and transactions come from a small fixture book so conversations
// are reproducible end to end. Knowledge-base search is the one pluggable
// concern; see [KnowledgeBase].
package localtools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// readLimit bounds one request body.
const readLimit = 1 << 20

// KnowledgeBase answers free-text queries with ranked snippets.
// [PGKnowledgeBase] is the production implementation.
type KnowledgeBase interface {
	Search(ctx context.Context, query string, limit int) ([]Document, error)
}

// Document is one knowledge-base hit.
type Document struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// account is one fixture bank account.
type account struct {
	customerName string
	sortCode     string
	balance      float64
	currency     string
}

// fixture book. The verified path in conversations goes through the first
// entry.
var accounts = map[string]account{
	"12345678": {customerName: "Sarah Johnson", sortCode: "112233", balance: 2417.82, currency: "GBP"},
	"87654321": {customerName: "James Okafor", sortCode: "445566", balance: 310.09, currency: "GBP"},
}

// transaction is one fixture ledger entry.
type transaction struct {
	ID       string  `json:"transactionId"`
	Date     string  `json:"date"`
	Merchant string  `json:"merchant"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

var transactions = map[string][]transaction{
	"12345678": {
		{ID: "txn-1001", Date: "2026-08-20", Merchant: "AMZN Mktp UK*2K4", Amount: -34.99, Currency: "GBP"},
		{ID: "txn-1002", Date: "2026-08-19", Merchant: "UBR* TRIP HELP", Amount: -12.40, Currency: "GBP"},
		{ID: "txn-1003", Date: "2026-08-18", Merchant: "TESCO STORES 2041", Amount: -58.12, Currency: "GBP"},
		{ID: "txn-1004", Date: "2026-08-15", Merchant: "ACME PAYROLL", Amount: 1850.00, Currency: "GBP"},
	},
}

// merchantAliases resolves cryptic statement descriptors to readable names.
// Matched by case-insensitive substring.
var merchantAliases = map[string]string{
	"amzn mktp": "Amazon Marketplace",
	"ubr*":      "Uber",
	"tesco":     "Tesco",
}

// Service is the local tool HTTP service.
type Service struct {
	kb KnowledgeBase
}

// Option configures a [Service].
type Option func(*Service)

// WithKnowledgeBase plugs in a knowledge-base backend. Without one,
// search_knowledge_base falls back to the built-in FAQ snippets.
func WithKnowledgeBase(kb KnowledgeBase) Option {
	return func(s *Service) { s.kb = kb }
}

// NewService creates the tool service.
func NewService(opts ...Option) *Service {
	s := &Service{}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register mounts the tool execution endpoint on mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /tools/execute", s.handleExecute)
}

// executeRequest matches the executor's dispatch body.
type executeRequest struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

// executeResponse matches the executor's remote response shape.
type executeResponse struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Service) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, readLimit))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil || req.Tool == "" {
		http.Error(w, "invalid execute body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	resp := s.execute(r.Context(), req.Tool, req.Input)
	slog.Info("tool served",
		"tool", req.Tool,
		"success", resp.Success,
		"duration_ms", time.Since(start).Milliseconds())

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("encode tool response", "tool", req.Tool, "error", err)
	}
}

func (s *Service) execute(ctx context.Context, tool string, input map[string]any) executeResponse {
	switch tool {
	case "perform_idv_check":
		return idvCheck(input)
	case "agentcore_balance":
		return balanceLookup(input)
	case "get_account_transactions":
		return transactionList(input)
	case "lookup_merchant_alias":
		return merchantLookup(input)
	case "create_dispute_case":
		return createDispute(input)
	case "search_knowledge_base":
		return s.knowledgeSearch(ctx, input)
	default:
		return executeResponse{Success: false, Error: fmt.Sprintf("unknown tool %q", tool)}
	}
}

func stringInput(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return strings.TrimSpace(s)
}

// normalizeSortCode strips the conventional dashes ("11-22-33" → "112233").
func normalizeSortCode(s string) string {
	return strings.ReplaceAll(s, "-", "")
}

func idvCheck(input map[string]any) executeResponse {
	accountNumber := stringInput(input, "account_number")
	sortCode := normalizeSortCode(stringInput(input, "sort_code"))
	if accountNumber == "" || sortCode == "" {
		return executeResponse{Success: false, Error: "account_number and sort_code are required"}
	}

	acct, ok := accounts[accountNumber]
	if !ok || acct.sortCode != sortCode {
		return executeResponse{Success: true, Result: map[string]any{
			"auth_status": "FAILED",
		}}
	}
	return executeResponse{Success: true, Result: map[string]any{
		"auth_status":   "VERIFIED",
		"customer_name": acct.customerName,
	}}
}

func balanceLookup(input map[string]any) executeResponse {
	accountNumber := stringInput(input, "account_number")
	acct, ok := accounts[accountNumber]
	if !ok {
		return executeResponse{Success: false, Error: fmt.Sprintf("unknown account %q", accountNumber)}
	}
	return executeResponse{Success: true, Result: map[string]any{
		"balance":  acct.balance,
		"currency": acct.currency,
	}}
}

func transactionList(input map[string]any) executeResponse {
	accountNumber := stringInput(input, "account_number")
	if _, ok := accounts[accountNumber]; !ok {
		return executeResponse{Success: false, Error: fmt.Sprintf("unknown account %q", accountNumber)}
	}
	txns := transactions[accountNumber]
	if txns == nil {
		txns = []transaction{}
	}
	return executeResponse{Success: true, Result: map[string]any{
		"transactions": txns,
	}}
}

func merchantLookup(input map[string]any) executeResponse {
	merchant := stringInput(input, "merchant")
	if merchant == "" {
		return executeResponse{Success: false, Error: "merchant is required"}
	}
	lower := strings.ToLower(merchant)
	for needle, name := range merchantAliases {
		if strings.Contains(lower, needle) {
			return executeResponse{Success: true, Result: map[string]any{
				"merchant": merchant,
				"alias":    name,
			}}
		}
	}
	return executeResponse{Success: true, Result: map[string]any{
		"merchant": merchant,
		"alias":    "",
	}}
}

func createDispute(input map[string]any) executeResponse {
	transactionID := stringInput(input, "transaction_id")
	reason := stringInput(input, "reason")
	if transactionID == "" || reason == "" {
		return executeResponse{Success: false, Error: "transaction_id and reason are required"}
	}
	return executeResponse{Success: true, Result: map[string]any{
		"caseId":        "DSP-" + uuid.NewString(),
		"transactionId": transactionID,
		"status":        "open",
	}}
}

// faqSnippets back search_knowledge_base when no vector store is configured.
// Matched by keyword against the lowercased query.
var faqSnippets = []struct {
	keyword string
	doc     Document
}{
	{"dispute", Document{Title: "Disputes", Content: "A dispute case is reviewed within 5 working days. Provisional credit may apply to card transactions.", Score: 1}},
	{"overdraft", Document{Title: "Overdrafts", Content: "Arranged overdrafts are interest-free up to 250 GBP; unarranged usage is declined by default.", Score: 1}},
	{"mortgage", Document{Title: "Mortgages", Content: "Agreement-in-principle decisions are valid for 90 days and do not affect your credit score.", Score: 1}},
}

func (s *Service) knowledgeSearch(ctx context.Context, input map[string]any) executeResponse {
	query := stringInput(input, "query")
	if query == "" {
		return executeResponse{Success: false, Error: "query is required"}
	}

	if s.kb != nil {
		docs, err := s.kb.Search(ctx, query, 3)
		if err != nil {
			return executeResponse{Success: false, Error: fmt.Sprintf("knowledge base: %v", err)}
		}
		return executeResponse{Success: true, Result: map[string]any{"documents": docs}}
	}

	lower := strings.ToLower(query)
	var hits []Document
	for _, entry := range faqSnippets {
		if strings.Contains(lower, entry.keyword) {
			hits = append(hits, entry.doc)
		}
	}
	if hits == nil {
		hits = []Document{}
	}
	return executeResponse{Success: true, Result: map[string]any{"documents": hits}}
}
