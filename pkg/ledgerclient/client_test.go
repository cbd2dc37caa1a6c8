package ledgerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/v1/accounts/vault_abc/balance" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Fatalf("expected api key header, got %q", r.Header.Get("x-api-key"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"balance":12345}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	balance, err := client.GetBalance(context.Background(), "vault_abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 12345 {
		t.Fatalf("expected balance 12345, got %d", balance)
	}
}

func TestTransferSendsPayload(t *testing.T) {
	var got TransferRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transfers" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.Write([]byte(`{"data":{"id":"tr_1","status":"completed"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	err := client.Transfer(context.Background(), "acct_owner", "vault_abc", 500, "lockbox deposit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.From != "acct_owner" || got.To != "vault_abc" || got.Amount != 500 || got.Reason != "lockbox deposit" {
		t.Fatalf("unexpected transfer payload: %+v", got)
	}
}

func TestTransferSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"title":"InsufficientFunds","detail":"source balance too low","status":"422"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	err := client.Transfer(context.Background(), "acct_owner", "vault_abc", 500, "lockbox deposit")
	if err == nil {
		t.Fatal("expected error from ledger api")
	}
	apiErr, ok := err.(*ErrorResponse)
	if !ok {
		t.Fatalf("expected *ErrorResponse, got %T: %v", err, err)
	}
	if apiErr.Errors[0].Title != "InsufficientFunds" {
		t.Fatalf("unexpected error title %q", apiErr.Errors[0].Title)
	}
}

func TestCreateAccountToleratesConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"errors":[{"title":"AccountExists","detail":"already provisioned","status":"409"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	if err := client.CreateAccount(context.Background(), "vault_abc"); err != nil {
		t.Fatalf("expected conflict to be tolerated, got %v", err)
	}
}

func TestCreateAccountSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`boom`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	if err := client.CreateAccount(context.Background(), "vault_abc"); err == nil {
		t.Fatal("expected error from ledger api")
	}
}
