package klaviyo

import (
	"context"
	"encoding/json"
	"sync"
)

// AccountService fetches account metadata. Attributes are memoized for the
// process lifetime; the first population may race but is idempotent.
type AccountService struct {
	client *Client

	mu     sync.Mutex
	cached *Account
}

// NewAccountService creates an AccountService over the shared client.
func NewAccountService(client *Client) *AccountService {
	return &AccountService{client: client}
}

// GetAccount returns preferred currency, timezone, organization name,
// industry and locale. Missing currency defaults to USD; missing timezone
// to UTC.
func (s *AccountService) GetAccount(ctx context.Context) (Account, error) {
	s.mu.Lock()
	if s.cached != nil {
		acct := *s.cached
		s.mu.Unlock()
		return acct, nil
	}
	s.mu.Unlock()

	var envelope struct {
		Data []struct {
			ID         string `json:"id"`
			Attributes struct {
				ContactInformation struct {
					OrganizationName string `json:"organization_name"`
				} `json:"contact_information"`
				Industry          string `json:"industry"`
				Timezone          string `json:"timezone"`
				PreferredCurrency string `json:"preferred_currency"`
				Locale            string `json:"locale"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := s.client.Get(ctx, "/accounts/", nil, &envelope); err != nil {
		return Account{}, err
	}

	acct := Account{Currency: "USD", Timezone: "UTC"}
	if len(envelope.Data) > 0 {
		d := envelope.Data[0]
		acct.ID = d.ID
		acct.Organization = d.Attributes.ContactInformation.OrganizationName
		acct.Industry = d.Attributes.Industry
		acct.Locale = d.Attributes.Locale
		if d.Attributes.PreferredCurrency != "" {
			acct.Currency = d.Attributes.PreferredCurrency
		}
		if d.Attributes.Timezone != "" {
			acct.Timezone = d.Attributes.Timezone
		}
	}

	s.mu.Lock()
	s.cached = &acct
	s.mu.Unlock()
	return acct, nil
}

// metricAttributes is the attribute shape of /metrics/ resources.
type metricAttributes struct {
	Name        string `json:"name"`
	Integration struct {
		Key      string `json:"key"`
		Name     string `json:"name"`
		Category string `json:"category"`
	} `json:"integration"`
}

func decodeMetricRef(obj apiObject) (MetricRef, error) {
	var attrs metricAttributes
	if err := json.Unmarshal(obj.Attributes, &attrs); err != nil {
		return MetricRef{}, err
	}
	return MetricRef{ID: obj.ID, Name: attrs.Name, Integration: attrs.Integration.Key}, nil
}
