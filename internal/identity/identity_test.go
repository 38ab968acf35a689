package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scottatquimbi/quimbi-platform/pkg/models"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"(555) 123-4567", "+15551234567"},
		{"5551234567", "+15551234567"},
		{"15551234567", "+15551234567"},
		{"+1 555 123 4567", "+15551234567"},
		{"+44 20 7946 0958", "+442079460958"},
		{"442079460958", "+442079460958"},
		{"", ""},
		{"ext. 12", "+12"},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

type stubPhones struct {
	byPhone map[string]string
	err     error
	calls   []string
}

func (s *stubPhones) LookupByPhone(ctx context.Context, e164 string) (string, error) {
	s.calls = append(s.calls, e164)
	if s.err != nil {
		return "", s.err
	}
	return s.byPhone[e164], nil
}

func TestResolve_Ladder(t *testing.T) {
	phones := &stubPhones{byPhone: map[string]string{"+15551234567": "cust-phone"}}
	r := NewResolver(phones)
	ctx := context.Background()

	cases := []struct {
		name     string
		customer models.WebhookCustomer
		want     string
	}{
		{"external id wins", models.WebhookCustomer{
			ExternalID: "ext-1", ID: "prov-1", Email: "a@b.com",
			Meta: map[string]string{"shopify_customer_id": "shop-1"},
		}, "ext-1"},
		{"shopify meta", models.WebhookCustomer{
			ID: "prov-1", Meta: map[string]string{"shopify_customer_id": "shop-1"},
		}, "shop-1"},
		{"integration block", models.WebhookCustomer{
			ID:           "prov-1",
			Integrations: map[string]map[string]string{"shopify": {"customer_id": "shop-2"}},
		}, "shop-2"},
		{"provider id", models.WebhookCustomer{ID: "prov-1", Email: "a@b.com"}, "prov-1"},
		{"phone lookup", models.WebhookCustomer{Phone: "(555) 123-4567", Email: "a@b.com"}, "cust-phone"},
		{"email fallback", models.WebhookCustomer{Phone: "999", Email: "a@b.com"}, "a@b.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, &tc.customer)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("Resolve() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolve_Unidentified(t *testing.T) {
	r := NewResolver(nil)
	if _, err := r.Resolve(context.Background(), &models.WebhookCustomer{}); !errors.Is(err, ErrUnidentified) {
		t.Errorf("error = %v, want ErrUnidentified", err)
	}
	if _, err := r.Resolve(context.Background(), nil); !errors.Is(err, ErrUnidentified) {
		t.Errorf("nil customer error = %v, want ErrUnidentified", err)
	}
}

func TestResolve_PhoneLookupFailureFallsThrough(t *testing.T) {
	phones := &stubPhones{err: errors.New("service down")}
	r := NewResolver(phones)

	got, err := r.Resolve(context.Background(), &models.WebhookCustomer{
		Phone: "5551234567", Email: "fallback@example.com",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "fallback@example.com" {
		t.Errorf("Resolve() = %q, want email fallback", got)
	}
	if len(phones.calls) != 1 || phones.calls[0] != "+15551234567" {
		t.Errorf("lookup calls = %v", phones.calls)
	}
}

func TestHTTPPhoneLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("phone") {
		case "+15551234567":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"customer_id":"cust-9"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	lookup := NewHTTPPhoneLookup(srv.URL)

	id, err := lookup.LookupByPhone(context.Background(), "+15551234567")
	if err != nil || id != "cust-9" {
		t.Errorf("LookupByPhone() = (%q, %v), want cust-9", id, err)
	}

	id, err = lookup.LookupByPhone(context.Background(), "+10000000000")
	if err != nil || id != "" {
		t.Errorf("unknown phone = (%q, %v), want empty, nil", id, err)
	}
}
