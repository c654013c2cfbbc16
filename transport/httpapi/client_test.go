package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	syncerrors "github.com/carnedata/weightsync/errors"
	"github.com/carnedata/weightsync/model"
)

func registrationOp(payload string) model.PendingOperation {
	return model.PendingOperation{
		ID:       "op-1",
		Type:     model.OpCreateRegistration,
		EntityID: "reg-1",
		Payload:  json.RawMessage(payload),
	}
}

func TestTransmitCreateRegistration(t *testing.T) {
	var gotPath, gotMethod, gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithToken("tok-123"))
	op := registrationOp(`{"weight":23.5,"cut_type":"jamón","supplier":"Cárnicas del Sur"}`)

	if err := client.Transmit(context.Background(), op); err != nil {
		t.Fatalf("Transmit failed: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/v1/registrations" {
		t.Errorf("got %s %s, want POST /api/v1/registrations", gotMethod, gotPath)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotBody["weight"] != 23.5 || gotBody["cut_type"] != "jamón" {
		t.Errorf("unexpected body: %v", gotBody)
	}
}

func TestTransmitUpdateUser(t *testing.T) {
	var gotPath, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	op := model.PendingOperation{
		ID:       "op-1",
		Type:     model.OpUpdateUser,
		EntityID: "user-7",
		Payload:  json.RawMessage(`{"user_id":"user-7","name":"María López"}`),
	}

	if err := client.Transmit(context.Background(), op); err != nil {
		t.Fatalf("Transmit failed: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/api/v1/users/user-7" {
		t.Errorf("got %s %s, want PUT /api/v1/users/user-7", gotMethod, gotPath)
	}
}

func TestTransmitUploadPhoto(t *testing.T) {
	photoPath := filepath.Join(t.TempDir(), "capture.jpg")
	if err := os.WriteFile(photoPath, []byte("jpeg-bytes"), 0o600); err != nil {
		t.Fatalf("failed to write photo fixture: %v", err)
	}

	var gotPath string
	var gotFile []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		file, _, err := r.FormFile("photo")
		if err != nil {
			t.Errorf("missing photo part: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		buf := make([]byte, 64)
		n, _ := file.Read(buf)
		gotFile = buf[:n]
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	payload, _ := json.Marshal(model.PhotoPayload{RegistrationID: "reg-9", LocalPhotoPath: photoPath})
	op := model.PendingOperation{ID: "op-1", Type: model.OpUploadPhoto, EntityID: "reg-9", Payload: payload}

	if err := client.Transmit(context.Background(), op); err != nil {
		t.Fatalf("Transmit failed: %v", err)
	}
	if gotPath != "/api/v1/registrations/reg-9/photo" {
		t.Errorf("path = %s, want /api/v1/registrations/reg-9/photo", gotPath)
	}
	if string(gotFile) != "jpeg-bytes" {
		t.Errorf("uploaded file = %q, want original bytes", gotFile)
	}
}

func TestTransmitUploadPhotoMissingFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server when the photo is missing")
	}))
	defer server.Close()

	client := NewClient(server.URL)
	payload, _ := json.Marshal(model.PhotoPayload{RegistrationID: "reg-9", LocalPhotoPath: "/nonexistent/capture.jpg"})
	op := model.PendingOperation{ID: "op-1", Type: model.OpUploadPhoto, EntityID: "reg-9", Payload: payload}

	err := client.Transmit(context.Background(), op)
	if !syncerrors.Is(syncerrors.KindValidation, err) {
		t.Errorf("expected validation kind for missing local file, got %v", err)
	}
}

func TestTransmitStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   syncerrors.Kind
	}{
		{http.StatusBadRequest, syncerrors.KindValidation},
		{http.StatusUnprocessableEntity, syncerrors.KindValidation},
		{http.StatusInternalServerError, syncerrors.KindServer},
		{http.StatusBadGateway, syncerrors.KindServer},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rejected", tt.status)
		}))
		client := NewClient(server.URL)
		err := client.Transmit(context.Background(), registrationOp(`{"weight":23.5}`))
		server.Close()

		if !syncerrors.Is(tt.want, err) {
			t.Errorf("status %d: expected kind %s, got %v", tt.status, tt.want, err)
		}
		if tt.want == syncerrors.KindValidation && syncerrors.IsRetryable(err) {
			t.Errorf("status %d: validation failure must not be retryable", tt.status)
		}
		if tt.want == syncerrors.KindServer && !syncerrors.IsRetryable(err) {
			t.Errorf("status %d: server failure should be retryable", tt.status)
		}
	}
}

func TestTransmitNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	client := NewClient(server.URL, WithTimeout(time.Second))
	err := client.Transmit(context.Background(), registrationOp(`{"weight":23.5}`))
	if !syncerrors.Is(syncerrors.KindNetwork, err) {
		t.Errorf("expected network kind, got %v", err)
	}
	if !syncerrors.IsRetryable(err) {
		t.Error("network failure should be retryable")
	}
}

func TestFetchRegistration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/registrations/reg-1" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(model.Registration{
			ID: "reg-1", Weight: 23.5, CutType: "jamón", Supplier: "Cárnicas del Sur",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	got, err := client.FetchRegistration(context.Background(), "reg-1")
	if err != nil {
		t.Fatalf("FetchRegistration failed: %v", err)
	}
	if got.ID != "reg-1" || got.Weight != 23.5 {
		t.Errorf("unexpected registration: %+v", got)
	}

	if _, err := client.FetchRegistration(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing registration")
	}
}

func TestFetchUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.User{ID: "user-1", Name: "María", Role: model.RoleOperator, Active: true})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	got, err := client.FetchUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FetchUser failed: %v", err)
	}
	if got.Role != model.RoleOperator || !got.Active {
		t.Errorf("unexpected user: %+v", got)
	}
}
